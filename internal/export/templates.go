package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(
	template.New("document.html").Funcs(template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/document.html"),
)

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title         string
	ProjectName   string
	SecurityLevel string
	Status        string
	Version       string
	UpdatedAt     time.Time
	GeneratedAt   time.Time
	GeneratedBy   string
	Sections      []TemplateSection
}

// TemplateSection is one section as it appears in the rendered document.
// HTML must already be sanitized.
type TemplateSection struct {
	ID       string
	Title    string
	Editable bool
	Empty    bool
	HTML     template.HTML
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
