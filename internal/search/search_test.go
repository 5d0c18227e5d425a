package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgid/api/internal/store"
)

func TestBuildQueriesAppliesClearance(t *testing.T) {
	queries := buildQueries(Query{Text: "escopo", Levels: []string{"public", "restricted"}, FilterProjectID: "prj-1"})

	require.Len(t, queries, 2)
	assert.Equal(t, idxDocuments, queries[0].IndexUID)
	assert.Equal(t, "escopo", queries[0].Query)
	assert.Equal(t, []string{`securityLevel IN ["public", "restricted"]`, `projectId = "prj-1"`}, queries[0].Filter)
	assert.Equal(t, idxTemplates, queries[1].IndexUID)
	assert.Equal(t, []string{`projectId = "prj-1" OR global = true`}, queries[1].Filter)
}

func TestBuildQueriesWithoutClearanceSkipsDocuments(t *testing.T) {
	queries := buildQueries(Query{Text: "x"})
	require.Len(t, queries, 1)
	assert.Equal(t, idxTemplates, queries[0].IndexUID)
	assert.Nil(t, queries[0].Filter)

	assert.Empty(t, buildQueries(Query{Text: "x", FilterType: ResultDocument}))
}

func TestBuildSQL(t *testing.T) {
	union, args := buildSQL(Query{Text: "risco", Levels: []string{"public"}, FilterProjectID: "prj-9"})

	assert.Contains(t, union, "d.security_level = ANY($2)")
	assert.Contains(t, union, "d.project_id = $3")
	assert.Contains(t, union, "t.project_id = $4 OR t.project_id IS NULL")
	assert.Equal(t, []any{"risco", []string{"public"}, "prj-9", "prj-9"}, args)
	assert.Equal(t, 1, strings.Count(union, "UNION ALL"))

	templatesOnly, args := buildSQL(Query{Text: "risco", FilterType: ResultTemplate})
	assert.NotContains(t, templatesOnly, "documents d")
	assert.Len(t, args, 1)

	empty, _ := buildSQL(Query{Text: "risco", FilterType: ResultDocument})
	assert.Empty(t, empty)
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":            raw("doc-1"),
		"name":          raw("Plano de riscos"),
		"body":          raw("long body"),
		"projectId":     raw("prj-1"),
		"securityLevel": raw("restricted"),
		"status":        raw("draft"),
		"_formatted":    raw(map[string]string{"name": "Plano de <mark>riscos</mark>", "body": ""}),
	}

	r := hitToResult(hit, ResultDocument)

	assert.Equal(t, Result{
		Type:          ResultDocument,
		ID:            "doc-1",
		Title:         "Plano de <mark>riscos</mark>",
		Snippet:       "long body",
		ProjectID:     "prj-1",
		SecurityLevel: "restricted",
		Status:        "draft",
	}, r)
	assert.Equal(t, ResultTemplate, indexKind(idxTemplates))
}

func TestContentText(t *testing.T) {
	content := store.Content{Sections: []store.Section{
		{ID: "fixed-1", Content: "<h1>Termo</h1>"},
		{ID: "obj", Title: "Objetivo", Editable: true, Content: "<p>Migrar &amp; validar</p>"},
		{ID: "vazio", Editable: true},
	}}
	assert.Equal(t, "Termo\nObjetivo Migrar & validar", ContentText(content))
}

func TestTemplateRecordFrom(t *testing.T) {
	project := "prj-1"
	scoped := TemplateRecordFrom(store.Template{ID: "t1", Name: "ETP", ProjectID: &project, Body: "<p>Corpo</p>"})
	assert.Equal(t, "prj-1", scoped.ProjectID)
	assert.False(t, scoped.Global)
	assert.Equal(t, "Corpo", scoped.Body)

	global := TemplateRecordFrom(store.Template{ID: "t2", Name: "TR"})
	assert.True(t, global.Global)
}

func TestServiceWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "anything", Levels: []string{"public"}})

	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "anything", resp.Query)

	svc.IndexDocument(DocumentRecord{ID: "doc-1"})
	svc.DeleteTemplate("t1")
	svc.ReindexAllFromPG(context.Background())
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, defaultLimit, normalizeLimit(0))
	assert.Equal(t, defaultLimit, normalizeLimit(1000))
	assert.Equal(t, 5, normalizeLimit(5))
}
