package rag

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"sgid/api/internal/ai"
	"sgid/api/internal/files"
	"sgid/api/internal/richtext"
	"sgid/api/internal/store"
)

var ErrNoKnowledge = errors.New("no readable knowledge files for project")
var ErrNoExtractions = errors.New("no technical information extracted from knowledge files")

const (
	noInfoMarker   = "Nenhuma informação técnica relevante"
	noInfoMarkerEN = "No relevant technical information"
	summaryInput   = 2000
)

type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]files.Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PutText(ctx context.Context, key, text string) error
}

type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	SetProjectContext(ctx context.Context, projectID, ragContext, ragSummary string) error
}

type Result struct {
	Files       []string `json:"files"`
	Skipped     []string `json:"skipped"`
	Chunks      int      `json:"chunks"`
	Extractions int      `json:"extractions"`
	Context     string   `json:"context"`
	Summary     string   `json:"summary"`
	ContextKey  string   `json:"contextKey"`
	SummaryKey  string   `json:"summaryKey"`
}

type Builder struct {
	objects  ObjectStore
	projects ProjectStore
	provider ai.Provider
	logger   zerolog.Logger
}

func NewBuilder(objects ObjectStore, projects ProjectStore, provider ai.Provider, logger zerolog.Logger) *Builder {
	return &Builder{
		objects:  objects,
		projects: projects,
		provider: provider,
		logger:   logger.With().Str("component", "rag").Logger(),
	}
}

func ContextKey(projectID string) string {
	return files.KnowledgePrefix(projectID) + "CONTEXTO_" + projectID + ".txt"
}

func SummaryKey(projectID string) string {
	return files.KnowledgePrefix(projectID) + "RESUMO_IA_" + projectID + ".txt"
}

// Build reads every knowledge file of the project, extracts requirements per
// chunk, consolidates them and writes the context and summary back to both
// object storage and the project row.
func (b *Builder) Build(ctx context.Context, projectID string) (Result, error) {
	if _, err := b.projects.GetProject(ctx, projectID); err != nil {
		return Result{}, err
	}

	result := Result{Files: []string{}, Skipped: []string{}}
	text, err := b.collect(ctx, projectID, &result)
	if err != nil {
		return result, err
	}
	if strings.TrimSpace(text) == "" {
		return result, ErrNoKnowledge
	}

	chunks := Chunk(text, DefaultChunkChars, DefaultOverlapChars)
	result.Chunks = len(chunks)
	extractions := b.extract(ctx, chunks)
	result.Extractions = len(extractions)
	if len(extractions) == 0 {
		return result, ErrNoExtractions
	}

	consolidated, err := b.call(ctx, consolidationSystem, consolidationPrompt(extractions))
	if err != nil {
		return result, fmt.Errorf("consolidate: %w", err)
	}
	excerpt := consolidated
	if len(excerpt) > summaryInput {
		excerpt = truncateUTF8(excerpt, summaryInput)
	}
	summary, err := b.call(ctx, consolidationSystem, summaryPrompt(excerpt))
	if err != nil {
		return result, fmt.Errorf("summarize: %w", err)
	}

	result.Context = fmt.Sprintf("# BASE DE CONHECIMENTO CONSOLIDADA - PROJETO %s\n\n%s", projectID, strings.TrimSpace(consolidated))
	result.Summary = strings.TrimSpace(summary)
	result.ContextKey = ContextKey(projectID)
	result.SummaryKey = SummaryKey(projectID)

	if err := b.objects.PutText(ctx, result.ContextKey, result.Context); err != nil {
		return result, err
	}
	if err := b.objects.PutText(ctx, result.SummaryKey, result.Summary); err != nil {
		return result, err
	}
	if err := b.projects.SetProjectContext(ctx, projectID, result.Context, result.Summary); err != nil {
		return result, fmt.Errorf("store project context: %w", err)
	}
	return result, nil
}

func (b *Builder) collect(ctx context.Context, projectID string, result *Result) (string, error) {
	objects, err := b.objects.List(ctx, files.KnowledgePrefix(projectID))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, obj := range objects {
		if obj.Key == ContextKey(projectID) || obj.Key == SummaryKey(projectID) {
			continue
		}
		ext := strings.ToLower(path.Ext(obj.Name))
		if !readable(ext) {
			b.logger.Info().Str("file", obj.Name).Msg("skipping unsupported knowledge file")
			result.Skipped = append(result.Skipped, obj.Name)
			continue
		}
		raw, err := b.objects.Get(ctx, obj.Key)
		if err != nil {
			b.logger.Warn().Err(err).Str("file", obj.Name).Msg("knowledge file read failed")
			result.Skipped = append(result.Skipped, obj.Name)
			continue
		}
		text, err := extractText(ext, raw)
		if err != nil {
			b.logger.Warn().Err(err).Str("file", obj.Name).Msg("knowledge file conversion failed")
			result.Skipped = append(result.Skipped, obj.Name)
			continue
		}
		result.Files = append(result.Files, obj.Name)
		sb.WriteString("\n\n### ARQUIVO: " + obj.Name + " ###\n\n")
		sb.WriteString(text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func readable(ext string) bool {
	switch ext {
	case ".txt", ".md", ".markdown", ".html", ".htm":
		return true
	}
	return false
}

func extractText(ext string, raw []byte) (string, error) {
	switch ext {
	case ".html", ".htm":
		return richtext.ToMarkdown(string(raw))
	default:
		return string(raw), nil
	}
}

// extract runs the per-chunk extraction. A chunk whose call fails is logged
// and skipped; answers saying the chunk had nothing relevant are dropped.
func (b *Builder) extract(ctx context.Context, chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		answer, err := b.call(ctx, extractionSystem, extractionPrompt(chunk))
		if err != nil {
			b.logger.Warn().Err(err).Int("chunk", i+1).Int("chunks", len(chunks)).Msg("chunk extraction failed")
			continue
		}
		if irrelevant(answer) {
			continue
		}
		out = append(out, strings.TrimSpace(answer))
	}
	return out
}

func irrelevant(answer string) bool {
	if strings.TrimSpace(answer) == "" {
		return true
	}
	return strings.Contains(answer, noInfoMarker) || strings.Contains(strings.ToLower(answer), strings.ToLower(noInfoMarkerEN))
}

func (b *Builder) call(ctx context.Context, system, prompt string) (string, error) {
	temperature := 0.1
	return b.provider.Generate(ctx, ai.Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   1000,
		Temperature: &temperature,
	})
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
