package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgid/api/internal/ai"
	"sgid/api/internal/editor"
	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

type fakeDocs struct{}

func (fakeDocs) GetDocument(_ context.Context, id string) (store.Document, error) {
	tpl := "tpl-1"
	return store.Document{ID: id, ProjectID: "p1", Name: "Plano de Projeto", TemplateID: &tpl}, nil
}

func (fakeDocs) GetProject(context.Context, string) (store.Project, error) {
	return store.Project{ID: "p1", Name: "Loja", RAGSummary: "Cliente precisa de um ERP."}, nil
}

func (fakeDocs) GetTemplate(context.Context, string) (store.Template, error) {
	return store.Template{ID: "tpl-1", DocumentType: "plano", AIGuidance: "Seja formal."}, nil
}

type fakeEditor struct {
	mu      sync.Mutex
	content store.Content
	locks   []locks.Lock
	saved   map[string]string
}

func (e *fakeEditor) Content(context.Context, string) (store.Content, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content.Clone(), 1, nil
}

func (e *fakeEditor) List(context.Context, string) ([]locks.Lock, error) {
	return e.locks, nil
}

func (e *fakeEditor) SaveSection(_ context.Context, _ editor.Actor, _, sectionID, content string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saved == nil {
		e.saved = map[string]string{}
	}
	e.saved[sectionID] = content
	return int64(len(e.saved) + 1), nil
}

type scriptedProvider struct {
	mu      sync.Mutex
	prompts []ai.Request
	reply   func(ai.Request) (string, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(_ context.Context, req ai.Request) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req)
	p.mu.Unlock()
	return p.reply(req)
}

type providerMap map[string]ai.Provider

func (m providerMap) Get(name string) (ai.Provider, bool) {
	p, ok := m[name]
	return p, ok
}

func newFixture(reply func(ai.Request) (string, error)) (*Service, *fakeEditor, *scriptedProvider) {
	ed := &fakeEditor{content: store.Content{Sections: []store.Section{
		{ID: "fixed-1", Content: "<h1>Plano</h1>"},
		{ID: "objetivo", Title: "Objetivo", Editable: true, HelpText: "Descreva o objetivo"},
		{ID: "escopo", Title: "Escopo", Editable: true, Content: "<p>antigo</p>"},
	}}}
	provider := &scriptedProvider{reply: reply}
	svc := NewService(fakeDocs{}, ed, providerMap{"": provider, "scripted": provider}, zerolog.Nop())
	return svc, ed, provider
}

var actor = editor.Actor{ID: "u1", Name: "Ana"}

func TestGenerateSectionSavesSanitizedOutput(t *testing.T) {
	svc, ed, provider := newFixture(func(ai.Request) (string, error) {
		return "Primeiro parágrafo.\n\nSegundo <parágrafo>.", nil
	})

	outcome, err := svc.GenerateSection(context.Background(), actor, "d1", "objetivo", "")
	require.NoError(t, err)
	assert.Equal(t, "<p>Primeiro parágrafo.</p><p>Segundo &lt;parágrafo&gt;.</p>", outcome.Content)
	assert.Equal(t, outcome.Content, ed.saved["objetivo"])

	require.Len(t, provider.prompts, 1)
	req := provider.prompts[0]
	assert.Contains(t, req.System, "Seja formal.")
	assert.Contains(t, req.Prompt, `Escreva a seção "Objetivo"`)
	assert.Contains(t, req.Prompt, "Descreva o objetivo")
	assert.Contains(t, req.Prompt, "Cliente precisa de um ERP.")
	assert.Contains(t, req.Prompt, "antigo", "sibling sections are part of the context")
	assert.False(t, svc.InFlight("d1", "objetivo"))
}

func TestGenerateSectionRefusesForeignLock(t *testing.T) {
	svc, ed, provider := newFixture(func(ai.Request) (string, error) { return "x", nil })
	ed.locks = []locks.Lock{{SectionID: "objetivo", HolderID: "someone", HolderName: "Bia"}}

	_, err := svc.GenerateSection(context.Background(), actor, "d1", "objetivo", "")
	assert.ErrorIs(t, err, ErrSectionLocked)
	assert.Empty(t, provider.prompts)
}

func TestGenerateSectionRejectsFixedSection(t *testing.T) {
	svc, _, _ := newFixture(func(ai.Request) (string, error) { return "x", nil })
	_, err := svc.GenerateSection(context.Background(), actor, "d1", "fixed-1", "")
	assert.ErrorIs(t, err, store.ErrSectionFixed)
}

func TestGenerateSectionInFlightGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	svc, _, _ := newFixture(func(ai.Request) (string, error) {
		close(started)
		<-release
		return "ok", nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := svc.GenerateSection(context.Background(), actor, "d1", "objetivo", "")
		done <- err
	}()
	<-started

	assert.True(t, svc.InFlight("d1", "objetivo"))
	_, err := svc.GenerateSection(context.Background(), actor, "d1", "objetivo", "")
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, svc.InFlight("d1", "objetivo"))
}

func TestGenerateAllContinuesPastFailures(t *testing.T) {
	svc, ed, _ := newFixture(func(req ai.Request) (string, error) {
		if strings.Contains(req.Prompt, `"Objetivo"`) {
			return "", &ai.Error{Category: ai.CategoryRateLimited, Provider: "scripted", Err: errors.New("429")}
		}
		return "<p>novo escopo</p>", nil
	})

	outcomes, err := svc.GenerateAll(context.Background(), actor, "d1", "")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "objetivo", outcomes[0].SectionID)
	assert.Equal(t, ai.CategoryRateLimited, outcomes[0].Category)
	assert.NotEmpty(t, outcomes[0].Error)

	assert.Equal(t, "escopo", outcomes[1].SectionID)
	assert.Empty(t, outcomes[1].Error)
	assert.Equal(t, "<p>novo escopo</p>", ed.saved["escopo"])
	_, touched := ed.saved["objetivo"]
	assert.False(t, touched, "failed section keeps its previous content")
}

func TestUnknownProvider(t *testing.T) {
	svc, _, _ := newFixture(func(ai.Request) (string, error) { return "x", nil })
	_, err := svc.GenerateSection(context.Background(), actor, "d1", "objetivo", "missing")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestSiblingContextKeepsValidUTF8(t *testing.T) {
	long := "<p>" + strings.Repeat("ação ", maxSiblingContext) + "</p>"
	content := store.Content{Sections: []store.Section{
		{ID: "contexto", Title: "Contexto", Editable: true, Content: long},
		{ID: "objetivo", Title: "Objetivo", Editable: true},
	}}

	out := siblingContext(content, "objetivo")

	assert.LessOrEqual(t, len(out), maxSiblingContext)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, "## Contexto"))
}

func TestTruncateBacksOffToRuneStart(t *testing.T) {
	assert.Equal(t, "a", truncate("aç", 2))
	assert.Equal(t, "aç", truncate("aç", 3))
	assert.Equal(t, "abc", truncate("abc", 10))
}
