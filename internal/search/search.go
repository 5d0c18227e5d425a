// Package search serves the wiki search box over documents and templates.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultTemplate ResultType = "template"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type          ResultType `json:"type"`
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Snippet       string     `json:"snippet"`
	ProjectID     string     `json:"projectId,omitempty"`
	SecurityLevel string     `json:"securityLevel,omitempty"`
	Status        string     `json:"status,omitempty"`
}

// Query describes a search request. Levels lists the security levels the
// caller is cleared for; documents outside it are never returned.
type Query struct {
	Text            string
	FilterType      ResultType
	FilterProjectID string
	Levels          []string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Body          string `json:"body"`
	ProjectID     string `json:"projectId"`
	SecurityLevel string `json:"securityLevel"`
	Status        string `json:"status"`
}

// TemplateRecord is the data we index for a template. Global templates have
// no project and Global set.
type TemplateRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DocumentType string `json:"documentType"`
	Body         string `json:"body"`
	ProjectID    string `json:"projectId"`
	Global       bool   `json:"global"`
}

const defaultLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return defaultLimit
	}
	return limit
}
