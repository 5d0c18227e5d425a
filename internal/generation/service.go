// Package generation fills document sections with AI-generated drafts.
package generation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"sgid/api/internal/ai"
	"sgid/api/internal/editor"
	"sgid/api/internal/locks"
	"sgid/api/internal/richtext"
	"sgid/api/internal/store"
)

var (
	ErrInFlight      = errors.New("generation already running for this section")
	ErrSectionLocked = errors.New("section is being edited by another user")
	ErrNoProvider    = errors.New("ai provider not configured")
)

const maxSiblingContext = 4000

type DocumentStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetTemplate(ctx context.Context, templateID string) (store.Template, error)
}

// Editor is the subset of editor.Service generation writes through.
type Editor interface {
	Content(ctx context.Context, documentID string) (store.Content, int64, error)
	List(ctx context.Context, documentID string) ([]locks.Lock, error)
	SaveSection(ctx context.Context, actor editor.Actor, documentID, sectionID, content string) (int64, error)
}

type Providers interface {
	Get(name string) (ai.Provider, bool)
}

// Outcome reports what happened to one section.
type Outcome struct {
	SectionID string      `json:"sectionId"`
	Title     string      `json:"title"`
	Content   string      `json:"content,omitempty"`
	Version   int64       `json:"version,omitempty"`
	Error     string      `json:"error,omitempty"`
	Category  ai.Category `json:"category,omitempty"`
}

type Service struct {
	docs      DocumentStore
	editor    Editor
	providers Providers
	logger    zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewService(docs DocumentStore, ed Editor, providers Providers, logger zerolog.Logger) *Service {
	return &Service{
		docs:      docs,
		editor:    ed,
		providers: providers,
		logger:    logger.With().Str("component", "generation").Logger(),
		inFlight:  make(map[string]bool),
	}
}

// InFlight reports whether a generation is running for the section. The
// editor refuses lock acquisition while it is.
func (s *Service) InFlight(documentID, sectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[documentID+"/"+sectionID]
}

func (s *Service) begin(documentID, sectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := documentID + "/" + sectionID
	if s.inFlight[key] {
		return false
	}
	s.inFlight[key] = true
	return true
}

func (s *Service) end(documentID, sectionID string) {
	s.mu.Lock()
	delete(s.inFlight, documentID+"/"+sectionID)
	s.mu.Unlock()
}

// GenerateSection drafts one editable section and saves it. On any failure
// the section keeps its previous content.
func (s *Service) GenerateSection(ctx context.Context, actor editor.Actor, documentID, sectionID, providerName string) (Outcome, error) {
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return Outcome{SectionID: sectionID}, ErrNoProvider
	}
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return Outcome{SectionID: sectionID}, err
	}
	return s.generate(ctx, actor, doc, sectionID, provider)
}

// GenerateAll drafts every editable section in order. A failing section is
// recorded in its outcome and the batch moves on.
func (s *Service) GenerateAll(ctx context.Context, actor editor.Actor, documentID, providerName string) ([]Outcome, error) {
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return nil, ErrNoProvider
	}
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	content, _, err := s.editor.Content(ctx, documentID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(content.Sections))
	for _, section := range content.Sections {
		if !section.Editable {
			continue
		}
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, err := s.generate(ctx, actor, doc, section.ID, provider)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("document_id", documentID).
				Str("section_id", section.ID).
				Msg("section generation failed, continuing batch")
			outcome.Error = err.Error()
			outcome.Category = ai.Classify(err)
		}
		if outcome.Title == "" {
			outcome.Title = section.Title
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) generate(ctx context.Context, actor editor.Actor, doc store.Document, sectionID string, provider ai.Provider) (Outcome, error) {
	outcome := Outcome{SectionID: sectionID}
	if !s.begin(doc.ID, sectionID) {
		return outcome, ErrInFlight
	}
	defer s.end(doc.ID, sectionID)

	content, _, err := s.editor.Content(ctx, doc.ID)
	if err != nil {
		return outcome, err
	}
	section, ok := content.Find(sectionID)
	if !ok {
		return outcome, store.ErrSectionNotFound
	}
	outcome.Title = section.Title
	if !section.Editable {
		return outcome, store.ErrSectionFixed
	}

	active, err := s.editor.List(ctx, doc.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("lock list failed, generating without lock check")
	}
	for _, lock := range active {
		if lock.SectionID == sectionID && lock.HolderID != actor.ID {
			return outcome, fmt.Errorf("%w: %s", ErrSectionLocked, lock.HolderName)
		}
	}

	req, err := s.buildRequest(ctx, doc, content, section)
	if err != nil {
		return outcome, err
	}
	text, err := provider.Generate(ctx, req)
	if err != nil {
		return outcome, err
	}

	body := richtext.SanitizeContent(toHTML(text))
	if strings.TrimSpace(richtext.PlainText(body)) == "" {
		return outcome, &ai.Error{Category: ai.CategoryOther, Provider: provider.Name(), Err: ai.ErrEmpty}
	}
	version, err := s.editor.SaveSection(ctx, actor, doc.ID, sectionID, body)
	if err != nil {
		return outcome, err
	}
	outcome.Content = body
	outcome.Version = version
	return outcome, nil
}

func (s *Service) buildRequest(ctx context.Context, doc store.Document, content store.Content, section store.Section) (ai.Request, error) {
	project, err := s.docs.GetProject(ctx, doc.ProjectID)
	if err != nil {
		return ai.Request{}, fmt.Errorf("load project: %w", err)
	}
	var guidance, documentType string
	if doc.TemplateID != nil {
		tpl, err := s.docs.GetTemplate(ctx, *doc.TemplateID)
		switch {
		case err == nil:
			guidance = tpl.AIGuidance
			documentType = tpl.DocumentType
		case errors.Is(err, store.ErrNotFound):
		default:
			return ai.Request{}, fmt.Errorf("load template: %w", err)
		}
	}

	return ai.Request{
		System: systemPrompt(guidance),
		Prompt: sectionPrompt(promptInput{
			DocumentName: doc.Name,
			DocumentType: documentType,
			ProjectName:  project.Name,
			Context:      project.RAGContext,
			Summary:      project.RAGSummary,
			Section:      section,
			Siblings:     siblingContext(content, section.ID),
		}),
	}, nil
}

func siblingContext(content store.Content, skip string) string {
	var sb strings.Builder
	for _, section := range content.Sections {
		if section.ID == skip || strings.TrimSpace(section.Content) == "" {
			continue
		}
		md, err := richtext.ToMarkdown(section.Content)
		if err != nil {
			md = richtext.PlainText(section.Content)
		}
		if section.Title != "" {
			sb.WriteString("## " + section.Title + "\n")
		}
		sb.WriteString(strings.TrimSpace(md))
		sb.WriteString("\n\n")
		if sb.Len() >= maxSiblingContext {
			break
		}
	}
	return strings.TrimSpace(truncate(sb.String(), maxSiblingContext))
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// toHTML wraps plain-text model output in paragraphs. Output that already
// contains markup is returned untouched for the sanitizer.
func toHTML(text string) string {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "</") || strings.Contains(text, "<br") {
		return text
	}
	var sb strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		sb.WriteString("</p>")
	}
	return sb.String()
}
