package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, logger: logger.With().Str("component", "search").Logger()}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if len(q.Levels) == 0 && q.FilterType == ResultDocument {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch failed, falling back to postgres")
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("postgres search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexDocuments([]DocumentRecord{doc}); err != nil {
			s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("index document")
		}
	}()
}

// IndexTemplate indexes a template (fire-and-forget to Meilisearch).
func (s *Service) IndexTemplate(tpl TemplateRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexTemplates([]TemplateRecord{tpl}); err != nil {
			s.logger.Warn().Err(err).Str("template_id", tpl.ID).Msg("index template")
		}
	}()
}

func (s *Service) DeleteDocument(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.Delete(ResultDocument, id); err != nil {
			s.logger.Warn().Err(err).Str("document_id", id).Msg("delete document from index")
		}
	}()
}

func (s *Service) DeleteTemplate(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.Delete(ResultTemplate, id); err != nil {
			s.logger.Warn().Err(err).Str("template_id", id).Msg("delete template from index")
		}
	}()
}

// ReindexAllFromPG pushes every document and template from PostgreSQL into
// Meilisearch. Called at startup.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	documents, templates, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		s.logger.Error().Err(err).Msg("reindex documents")
	}
	if err := s.meili.IndexTemplates(templates); err != nil {
		s.logger.Error().Err(err).Msg("reindex templates")
	}
	s.logger.Info().Int("documents", len(documents)).Int("templates", len(templates)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
