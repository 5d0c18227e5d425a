package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, display_name, email, password_hash, role, clearance, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.Clearance, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, clearance)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.Clearance)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY display_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUserAccess changes the role and clearance of an account.
func (s *PostgresStore) UpdateUserAccess(ctx context.Context, userID, role, clearance string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET role=$2, clearance=$3, updated_at=NOW() WHERE id=$1
	`, userID, role, clearance)
	if err != nil {
		return fmt.Errorf("update user access: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.role, u.clearance, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// Projects

const projectColumns = `id, name, description, owner_id, rag_context, rag_summary, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var project Project
	err := row.Scan(&project.ID, &project.Name, &project.Description, &project.OwnerID, &project.RAGContext, &project.RAGSummary, &project.CreatedAt, &project.UpdatedAt)
	return project, err
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
	`, project.ID, project.Name, project.Description, project.OwnerID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID))
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, description string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, projectID, name, description)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) SetProjectContext(ctx context.Context, projectID, ragContext, ragSummary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET rag_context=$2, rag_summary=$3, updated_at=NOW() WHERE id=$1
	`, projectID, ragContext, ragSummary)
	if err != nil {
		return fmt.Errorf("set project context: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return expectRow(res)
}

// Templates

const templateColumns = `id, project_id, name, document_type, body, skeleton, ai_guidance, created_by, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (Template, error) {
	var (
		tpl       Template
		projectID sql.NullString
		skeleton  []byte
	)
	if err := row.Scan(&tpl.ID, &projectID, &tpl.Name, &tpl.DocumentType, &tpl.Body, &skeleton, &tpl.AIGuidance, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return Template{}, err
	}
	if projectID.Valid {
		value := projectID.String
		tpl.ProjectID = &value
	}
	if len(skeleton) > 0 {
		if err := json.Unmarshal(skeleton, &tpl.Skeleton); err != nil {
			return Template{}, fmt.Errorf("decode template skeleton: %w", err)
		}
	}
	return tpl, nil
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, tpl Template) error {
	skeleton, err := json.Marshal(nonNilSections(tpl.Skeleton))
	if err != nil {
		return fmt.Errorf("encode template skeleton: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, project_id, name, document_type, body, skeleton, ai_guidance, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tpl.ID, tpl.ProjectID, tpl.Name, tpl.DocumentType, tpl.Body, skeleton, tpl.AIGuidance, tpl.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, tpl Template) error {
	skeleton, err := json.Marshal(nonNilSections(tpl.Skeleton))
	if err != nil {
		return fmt.Errorf("encode template skeleton: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET name=$2, document_type=$3, body=$4, skeleton=$5, ai_guidance=$6, updated_at=NOW()
		WHERE id=$1
	`, tpl.ID, tpl.Name, tpl.DocumentType, tpl.Body, skeleton, tpl.AIGuidance)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	return scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id=$1`, templateID))
}

// ListTemplates returns global templates plus those scoped to projectID.
// An empty projectID lists only global templates.
func (s *PostgresStore) ListTemplates(ctx context.Context, projectID string) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE project_id IS NULL OR ($1 <> '' AND project_id = $1)
		ORDER BY name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]Template, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=$1`, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return expectRow(res)
}

// Documents

const documentColumns = `id, project_id, name, security_level, template_id, created_by, status, content, version, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var (
		doc        Document
		templateID sql.NullString
		content    []byte
	)
	if err := row.Scan(&doc.ID, &doc.ProjectID, &doc.Name, &doc.SecurityLevel, &templateID, &doc.CreatedBy, &doc.Status, &content, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	if templateID.Valid {
		value := templateID.String
		doc.TemplateID = &value
	}
	parsed, err := decodeContent(content)
	if err != nil {
		return Document{}, err
	}
	doc.Content = parsed
	return doc, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	content, err := encodeContent(doc.Content)
	if err != nil {
		return err
	}
	status := doc.Status
	if status == "" {
		status = "draft"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, name, security_level, template_id, created_by, status, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.ProjectID, doc.Name, doc.SecurityLevel, doc.TemplateID, doc.CreatedBy, status, content)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
}

func (s *PostgresStore) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE ($1 = '' OR project_id = $1)
		ORDER BY updated_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	documents := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

func (s *PostgresStore) UpdateDocumentMeta(ctx context.Context, documentID, name, securityLevel string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET name=$2, security_level=$3, updated_at=NOW() WHERE id=$1
	`, documentID, name, securityLevel)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return expectRow(res)
}

// UpdateDocumentStatus moves a document from one status to another. The
// update only applies when the stored status still equals from.
func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, documentID, from, to string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2
	`, documentID, from, to)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if err := expectRow(res); err != nil {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectRow(res)
}

// ReadContent returns the stored sections and the version they belong to.
func (s *PostgresStore) ReadContent(ctx context.Context, documentID string) (Content, int64, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT content, version FROM documents WHERE id=$1`, documentID).Scan(&raw, &version)
	if err != nil {
		return Content{}, 0, err
	}
	content, err := decodeContent(raw)
	if err != nil {
		return Content{}, 0, err
	}
	return content, version, nil
}

// PatchSection replaces the content field of one section in place. The
// update is a single statement so concurrent patches to different sections
// never overwrite each other. A positive expectedVersion additionally
// requires the stored version to match.
func (s *PostgresStore) PatchSection(ctx context.Context, documentID, sectionID, content string, expectedVersion int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		WITH target AS (
			SELECT (arr.pos - 1) AS idx, arr.elem->>'editable' AS editable
			FROM documents d,
				jsonb_array_elements(d.content->'sections') WITH ORDINALITY AS arr(elem, pos)
			WHERE d.id = $1 AND arr.elem->>'id' = $2
			LIMIT 1
		)
		UPDATE documents d
		SET content = jsonb_set(d.content, ARRAY['sections', target.idx::text, 'content'], to_jsonb($3::text)),
			version = d.version + 1,
			status = CASE WHEN d.status = 'draft' THEN 'in_progress' ELSE d.status END,
			updated_at = NOW()
		FROM target
		WHERE d.id = $1
			AND target.editable = 'true'
			AND ($4::bigint <= 0 OR d.version = $4)
		RETURNING d.version
	`, documentID, sectionID, content, expectedVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("patch section: %w", err)
	}
	return 0, s.explainPatchMiss(ctx, documentID, sectionID, expectedVersion)
}

func (s *PostgresStore) explainPatchMiss(ctx context.Context, documentID, sectionID string, expectedVersion int64) error {
	current, version, err := s.ReadContent(ctx, documentID)
	if err != nil {
		return err
	}
	section, ok := current.Find(sectionID)
	if !ok {
		return ErrSectionNotFound
	}
	if !section.Editable {
		return ErrSectionFixed
	}
	if expectedVersion > 0 && version != expectedVersion {
		return ErrVersionConflict
	}
	return fmt.Errorf("patch section %s: no row updated", sectionID)
}

// WriteContent replaces the whole section list when the stored version still
// equals expectedVersion.
func (s *PostgresStore) WriteContent(ctx context.Context, documentID string, content Content, expectedVersion int64) (int64, error) {
	raw, err := encodeContent(content)
	if err != nil {
		return 0, err
	}
	var version int64
	err = s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET content=$2, version=version + 1, updated_at=NOW()
		WHERE id=$1 AND version=$3
		RETURNING version
	`, documentID, raw, expectedVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, _, readErr := s.ReadContent(ctx, documentID); readErr != nil {
			return 0, readErr
		}
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("write content: %w", err)
	}
	return version, nil
}

// Audit

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (document_id, actor_id, actor_name, action, section_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.DocumentID, event.ActorID, event.ActorName, event.Action, event.SectionID, event.Detail)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, documentID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, actor_id, actor_name, action, section_id, detail, created_at
		FROM audit_events
		WHERE document_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]AuditEvent, 0)
	for rows.Next() {
		var event AuditEvent
		if err := rows.Scan(&event.ID, &event.DocumentID, &event.ActorID, &event.ActorName, &event.Action, &event.SectionID, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func encodeContent(content Content) ([]byte, error) {
	raw, err := json.Marshal(Content{Sections: nonNilSections(content.Sections)})
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return raw, nil
}

func decodeContent(raw []byte) (Content, error) {
	var content Content
	if len(raw) == 0 {
		return Content{Sections: []Section{}}, nil
	}
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode content: %w", err)
	}
	content.Sections = nonNilSections(content.Sections)
	return content, nil
}

func nonNilSections(sections []Section) []Section {
	if sections == nil {
		return []Section{}
	}
	return sections
}

func expectRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
