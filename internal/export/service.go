package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"sgid/api/internal/richtext"
	"sgid/api/internal/store"
)

// DataStore is the slice of persistence the exporter reads from.
type DataStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
}

// Snapshots resolves a historical version of a document's content.
type Snapshots interface {
	ContentAt(documentID, hash string) (store.Content, store.CommitInfo, error)
}

type Service struct {
	store     DataStore
	snapshots Snapshots
	now       func() time.Time
}

func NewService(store DataStore, snapshots Snapshots) *Service {
	return &Service{store: store, snapshots: snapshots, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	project, err := s.store.GetProject(ctx, doc.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	content := doc.Content
	versionLabel := fmt.Sprintf("v%d", doc.Version)
	updatedAt := doc.UpdatedAt
	if req.Version != "" {
		if s.snapshots == nil {
			return nil, fmt.Errorf("%w: history disabled", ErrContentUnavailable)
		}
		snapshot, commit, err := s.snapshots.ContentAt(req.DocumentID, req.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		content = snapshot
		versionLabel = commit.Hash
		updatedAt = commit.CreatedAt
	}

	data := TemplateData{
		Title:         doc.Name,
		ProjectName:   project.Name,
		SecurityLevel: doc.SecurityLevel,
		Status:        doc.Status,
		Version:       versionLabel,
		UpdatedAt:     updatedAt,
		GeneratedAt:   s.now(),
		GeneratedBy:   req.GeneratedBy,
		Sections:      templateSections(content, req.SkipFixed),
	}
	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Name) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, doc.Name)
	case FormatDOCX:
		return exportDOCX(ctx, html, doc.Name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func templateSections(content store.Content, skipFixed bool) []TemplateSection {
	out := make([]TemplateSection, 0, len(content.Sections))
	for _, section := range content.Sections {
		if skipFixed && !section.Editable {
			continue
		}
		body := richtext.SanitizeContent(section.Content)
		out = append(out, TemplateSection{
			ID:       section.ID,
			Title:    section.Title,
			Editable: section.Editable,
			Empty:    section.Editable && strings.TrimSpace(richtext.PlainText(body)) == "",
			HTML:     template.HTML(body),
		})
	}
	return out
}
