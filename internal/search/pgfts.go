package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"sgid/api/internal/richtext"
	"sgid/api/internal/store"
)

// PgFTS searches with PostgreSQL full-text search when Meilisearch is down.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

const (
	tsQuery     = "plainto_tsquery('simple', $1)"
	headlineOps = "'MaxFragments=1,MaxWords=30,MinWords=10,StartSel=<mark>,StopSel=</mark>'"
	// strips markup from the concatenated section bodies before headlining
	documentText = `regexp_replace(coalesce((
		SELECT string_agg(s->>'content', ' ')
		FROM jsonb_array_elements(d.content->'sections') s
	), ''), '<[^>]+>', ' ', 'g')`
)

// buildSQL returns the UNION ALL of the per-type sub-queries and the bound
// arguments. An empty string means nothing is searchable for this query.
func buildSQL(q Query) (string, []any) {
	args := []any{q.Text}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var subQueries []string
	if (q.FilterType == "" || q.FilterType == ResultDocument) && len(q.Levels) > 0 {
		where := "d.fts @@ " + tsQuery + " AND d.security_level = ANY(" + arg(q.Levels) + ")"
		if q.FilterProjectID != "" {
			where += " AND d.project_id = " + arg(q.FilterProjectID)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.name AS title,
				ts_headline('simple', %s, %s, %s) AS snippet,
				d.project_id, d.security_level, d.status,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, documentText, tsQuery, headlineOps, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultTemplate {
		where := "t.fts @@ " + tsQuery
		if q.FilterProjectID != "" {
			where += " AND (t.project_id = " + arg(q.FilterProjectID) + " OR t.project_id IS NULL)"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'template'::text AS type, t.id, t.name AS title,
				ts_headline('simple', regexp_replace(t.body, '<[^>]+>', ' ', 'g'), %s, %s) AS snippet,
				coalesce(t.project_id, ''), ''::text, ''::text,
				ts_rank(t.fts, %s) AS rank
			FROM templates t
			WHERE %s`, tsQuery, headlineOps, tsQuery, where))
	}

	return strings.Join(subQueries, " UNION ALL "), args
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	union, args := buildSQL(q)
	if union == "" {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, security_level, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, normalizeLimit(q.Limit), max(q.Offset, 0))
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.SecurityLevel, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every document and template for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []TemplateRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, project_id, security_level, status, content
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		var raw []byte
		if err := docRows.Scan(&d.ID, &d.Name, &d.ProjectID, &d.SecurityLevel, &d.Status, &raw); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		var content store.Content
		if err := json.Unmarshal(raw, &content); err != nil {
			return nil, nil, fmt.Errorf("decode document %s content: %w", d.ID, err)
		}
		d.Body = ContentText(content)
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	tplRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, document_type, body, coalesce(project_id, '')
		FROM templates
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load templates: %w", err)
	}
	defer tplRows.Close()

	templates := make([]TemplateRecord, 0)
	for tplRows.Next() {
		var t TemplateRecord
		var body string
		if err := tplRows.Scan(&t.ID, &t.Name, &t.DocumentType, &body, &t.ProjectID); err != nil {
			return nil, nil, fmt.Errorf("scan template: %w", err)
		}
		t.Body = richtext.PlainText(body)
		t.Global = t.ProjectID == ""
		templates = append(templates, t)
	}
	if err := tplRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate templates: %w", err)
	}

	return documents, templates, nil
}

// ContentText flattens a document's sections into one searchable string.
func ContentText(content store.Content) string {
	parts := make([]string, 0, len(content.Sections))
	for _, section := range content.Sections {
		text := strings.TrimSpace(section.Title + " " + richtext.PlainText(section.Content))
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// DocumentRecordFrom builds the index record for a stored document.
func DocumentRecordFrom(doc store.Document) DocumentRecord {
	return DocumentRecord{
		ID:            doc.ID,
		Name:          doc.Name,
		Body:          ContentText(doc.Content),
		ProjectID:     doc.ProjectID,
		SecurityLevel: doc.SecurityLevel,
		Status:        doc.Status,
	}
}

// TemplateRecordFrom builds the index record for a stored template.
func TemplateRecordFrom(tpl store.Template) TemplateRecord {
	record := TemplateRecord{
		ID:           tpl.ID,
		Name:         tpl.Name,
		DocumentType: tpl.DocumentType,
		Body:         richtext.PlainText(tpl.Body),
		Global:       tpl.ProjectID == nil,
	}
	if tpl.ProjectID != nil {
		record.ProjectID = *tpl.ProjectID
	}
	return record
}
