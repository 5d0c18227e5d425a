package store

import (
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is sql.ErrNoRows so lookups compare equal either way.
	ErrNotFound        = sql.ErrNoRows
	ErrSectionNotFound = errors.New("section not found")
	ErrSectionFixed    = errors.New("section is not editable")
	ErrVersionConflict = errors.New("document version conflict")
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	Clearance    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	RAGContext  string
	RAGSummary  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Section is one addressable unit of document content. Fixed sections carry
// template boilerplate, editable sections carry authored content.
type Section struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Editable bool   `json:"editable"`
	HelpText string `json:"helpText,omitempty"`
}

// Content is the ordered section list persisted for a document.
type Content struct {
	Sections []Section `json:"sections"`
}

// Find returns the section with the given id.
func (c Content) Find(sectionID string) (Section, bool) {
	for _, section := range c.Sections {
		if section.ID == sectionID {
			return section, true
		}
	}
	return Section{}, false
}

// Clone copies the section slice so callers can mutate it freely.
func (c Content) Clone() Content {
	sections := make([]Section, len(c.Sections))
	copy(sections, c.Sections)
	return Content{Sections: sections}
}

// Template is a reusable document model. A nil ProjectID marks a global template.
type Template struct {
	ID           string
	ProjectID    *string
	Name         string
	DocumentType string
	Body         string
	Skeleton     []Section
	AIGuidance   string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Document struct {
	ID            string
	ProjectID     string
	Name          string
	SecurityLevel string
	TemplateID    *string
	CreatedBy     string
	Status        string
	Content       Content
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type AuditEvent struct {
	ID         int64
	DocumentID string
	ActorID    string
	ActorName  string
	Action     string
	SectionID  string
	Detail     string
	CreatedAt  time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
