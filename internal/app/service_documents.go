package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sgid/api/internal/export"
	"sgid/api/internal/generation"
	"sgid/api/internal/history"
	"sgid/api/internal/locks"
	"sgid/api/internal/rbac"
	"sgid/api/internal/realtime"
	"sgid/api/internal/search"
	"sgid/api/internal/store"
	"sgid/api/internal/templates"
	"sgid/api/internal/util"
)

// visibleDocument loads a document the session is cleared to see.
func (s *Service) visibleDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !rbac.Cleared(rbac.Level(session.Clearance), rbac.Level(doc.SecurityLevel)) {
		return store.Document{}, errClearance
	}
	return doc, nil
}

func (s *Service) writableDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if !editableStatus(doc.Status) {
		return store.Document{}, errDocumentReadOnly
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, projectID string) ([]documentView, error) {
	documents, err := s.store.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	clearance := rbac.Level(session.Clearance)
	out := make([]documentView, 0, len(documents))
	for _, doc := range documents {
		if rbac.Cleared(clearance, rbac.Level(doc.SecurityLevel)) {
			out = append(out, newDocumentView(doc))
		}
	}
	return out, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (documentView, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return documentView{}, err
	}
	return newDocumentView(doc), nil
}

// CreateDocument instantiates a document from a template's section skeleton.
// Without a template the document gets a single editable section.
func (s *Service) CreateDocument(ctx context.Context, session Session, in DocumentInput) (documentView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return documentView{}, err
	}
	level := rbac.NormalizeLevel(in.SecurityLevel)
	if !rbac.Cleared(rbac.Level(session.Clearance), level) {
		return documentView{}, errClearance
	}
	if _, err := s.store.GetProject(ctx, in.ProjectID); err != nil {
		return documentView{}, err
	}

	content := store.Content{Sections: []store.Section{{ID: "conteudo", Title: in.Name, Editable: true}}}
	if in.TemplateID != nil && *in.TemplateID != "" {
		tpl, err := s.store.GetTemplate(ctx, *in.TemplateID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return documentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"templateId": "unknown template"})
			}
			return documentView{}, err
		}
		if tpl.ProjectID != nil && *tpl.ProjectID != in.ProjectID {
			return documentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"templateId": "belongs to another project"})
		}
		skeleton := tpl.Skeleton
		if len(skeleton) == 0 {
			skeleton = templates.ParseTemplateToSections(tpl.Body)
		}
		content = store.Content{Sections: skeleton}.Clone()
	} else {
		in.TemplateID = nil
	}

	doc := store.Document{
		ID:            util.NewID("doc"),
		ProjectID:     in.ProjectID,
		Name:          in.Name,
		SecurityLevel: string(level),
		TemplateID:    in.TemplateID,
		CreatedBy:     session.UserID,
		Status:        StatusDraft,
		Content:       content,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return documentView{}, err
	}
	if err := s.history.EnsureRepo(doc.ID, content, session.UserName); err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("initialise document history")
	}
	s.audit(ctx, session, doc.ID, "document.created", "", doc.Name)

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return documentView{}, err
	}
	s.search.IndexDocument(search.DocumentRecordFrom(created))
	return newDocumentView(created), nil
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, in DocumentMetaInput) (documentView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return documentView{}, err
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return documentView{}, err
	}
	if !rbac.Cleared(rbac.Level(session.Clearance), rbac.Level(in.SecurityLevel)) {
		return documentView{}, errClearance
	}
	if err := s.store.UpdateDocumentMeta(ctx, documentID, in.Name, in.SecurityLevel); err != nil {
		return documentView{}, err
	}
	s.audit(ctx, session, documentID, "document.updated", "", in.Name+" / "+in.SecurityLevel)
	return s.reindexDocument(ctx, documentID)
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.search.DeleteDocument(documentID)
	return nil
}

func (s *Service) reindexDocument(ctx context.Context, documentID string) (documentView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return documentView{}, err
	}
	s.search.IndexDocument(search.DocumentRecordFrom(doc))
	return newDocumentView(doc), nil
}

// TransitionStatus moves the document along the status table. Approval tags
// the current history head.
func (s *Service) TransitionStatus(ctx context.Context, session Session, documentID, to string) (documentView, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return documentView{}, err
	}
	if !canTransition(doc.Status, to) {
		return documentView{}, domainError(http.StatusConflict, "INVALID_TRANSITION",
			fmt.Sprintf("Cannot move a document from %s to %s", doc.Status, to),
			map[string]any{"from": doc.Status, "to": to, "allowed": nextStatuses(doc.Status)})
	}
	if !s.Can(session.Role, transitionAction(doc.Status, to)) {
		return documentView{}, errForbidden
	}
	if err := s.store.UpdateDocumentStatus(ctx, documentID, doc.Status, to); err != nil {
		return documentView{}, err
	}
	if to == StatusApproved {
		tag := fmt.Sprintf("approved-%s", s.now().UTC().Format("20060102-150405"))
		if err := s.history.Tag(documentID, tag); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID).Msg("tag approved version")
		}
	}
	s.audit(ctx, session, documentID, "document.status", "", doc.Status+" -> "+to)
	return s.reindexDocument(ctx, documentID)
}

// Content and locks

func (s *Service) Content(ctx context.Context, session Session, documentID string) (contentView, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return contentView{}, err
	}
	content, version, err := s.editor.Content(ctx, documentID)
	if err != nil {
		return contentView{}, err
	}
	active, err := s.editor.List(ctx, documentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("list locks")
		active = []locks.Lock{}
	}
	return contentView{
		DocumentID: documentID,
		Version:    version,
		Editable:   editableStatus(doc.Status) && s.Can(session.Role, rbac.ActionWrite),
		Sections:   content.Sections,
		Locks:      active,
	}, nil
}

// SaveSection writes one section through the editor service, which refuses
// sections locked by another user.
func (s *Service) SaveSection(ctx context.Context, session Session, documentID, sectionID, content string) (int64, error) {
	if _, err := s.writableDocument(ctx, session, documentID); err != nil {
		return 0, err
	}
	version, err := s.editor.SaveSection(ctx, session.actor(), documentID, sectionID, content)
	if err != nil {
		return 0, err
	}
	if _, err := s.reindexDocument(ctx, documentID); err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("reindex after save")
	}
	return version, nil
}

func (s *Service) ListLocks(ctx context.Context, session Session, documentID string) ([]locks.Lock, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	return s.editor.List(ctx, documentID)
}

func (s *Service) AcquireLock(ctx context.Context, session Session, documentID, sectionID string) (locks.Lock, error) {
	if _, err := s.writableDocument(ctx, session, documentID); err != nil {
		return locks.Lock{}, err
	}
	return s.editor.Acquire(ctx, session.actor(), documentID, sectionID)
}

func (s *Service) ReleaseLock(ctx context.Context, session Session, documentID, sectionID string) error {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return err
	}
	return s.editor.Release(ctx, session.actor(), documentID, sectionID)
}

// EditorParticipant resolves what the socket user may do on the document.
func (s *Service) EditorParticipant(ctx context.Context, session Session, documentID string) (realtime.Participant, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return realtime.Participant{}, err
	}
	editable := editableStatus(doc.Status)
	return realtime.Participant{
		Actor:       session.actor(),
		CanWrite:    editable && s.Can(session.Role, rbac.ActionWrite),
		CanGenerate: editable && s.Can(session.Role, rbac.ActionGenerate) && s.generation != nil,
	}, nil
}

// Generation

// Generate drafts one section, or every editable section when sectionID is
// empty.
func (s *Service) Generate(ctx context.Context, session Session, documentID, sectionID, provider string) ([]generation.Outcome, error) {
	if s.generation == nil {
		return nil, errGenerationOffline
	}
	if _, err := s.writableDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	if sectionID != "" {
		outcome, err := s.generation.GenerateSection(ctx, session.actor(), documentID, sectionID, provider)
		if err != nil {
			return nil, err
		}
		s.audit(ctx, session, documentID, "section.generated", sectionID, provider)
		return []generation.Outcome{outcome}, nil
	}
	outcomes, err := s.generation.GenerateAll(ctx, session.actor(), documentID, provider)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, session, documentID, "document.generated", "", fmt.Sprintf("%d sections", len(outcomes)))
	return outcomes, nil
}

// History

func (s *Service) History(ctx context.Context, session Session, documentID string, limit int) ([]commitView, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	commits, err := s.history.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]commitView, 0, len(commits))
	for _, commit := range commits {
		out = append(out, newCommitView(commit))
	}
	return out, nil
}

type versionView struct {
	Commit   commitView      `json:"commit"`
	Sections []store.Section `json:"sections"`
}

func (s *Service) VersionContent(ctx context.Context, session Session, documentID, hash string) (versionView, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return versionView{}, err
	}
	content, info, err := s.history.ContentAt(documentID, hash)
	if err != nil {
		return versionView{}, errHistoryMissing
	}
	return versionView{Commit: newCommitView(info), Sections: content.Sections}, nil
}

// RestoreVersion writes an earlier snapshot back as the live content. The
// restore itself becomes a new version, so nothing in history is lost.
func (s *Service) RestoreVersion(ctx context.Context, session Session, documentID, hash string) (contentView, error) {
	if _, err := s.writableDocument(ctx, session, documentID); err != nil {
		return contentView{}, err
	}
	snapshot, info, err := s.history.ContentAt(documentID, hash)
	if err != nil {
		return contentView{}, errHistoryMissing
	}
	_, version, err := s.editor.Content(ctx, documentID)
	if err != nil {
		return contentView{}, err
	}
	if _, err := s.editor.Restore(ctx, session.actor(), documentID, snapshot, version, shortHash(info.Hash)); err != nil {
		return contentView{}, err
	}
	if _, err := s.reindexDocument(ctx, documentID); err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("reindex after restore")
	}
	return s.Content(ctx, session, documentID)
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// Compare diffs two versions by section. An empty hash means the live
// content.
func (s *Service) Compare(ctx context.Context, session Session, documentID, fromHash, toHash string) ([]history.SectionChange, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	load := func(hash string) (store.Content, error) {
		if hash == "" || hash == "live" {
			content, _, err := s.editor.Content(ctx, documentID)
			return content, err
		}
		content, _, err := s.history.ContentAt(documentID, hash)
		if err != nil {
			return store.Content{}, errHistoryMissing
		}
		return content, nil
	}
	from, err := load(fromHash)
	if err != nil {
		return nil, err
	}
	to, err := load(toHash)
	if err != nil {
		return nil, err
	}
	return history.Diff(from, to), nil
}

func (s *Service) Export(ctx context.Context, session Session, documentID string, req export.Request) (*export.Result, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	req.DocumentID = documentID
	req.GeneratedBy = session.UserName
	result, err := s.exporter.Export(ctx, req)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, session, documentID, "document.exported", "", string(req.Format))
	return result, nil
}

func (s *Service) AuditLog(ctx context.Context, session Session, documentID string, limit int) ([]auditView, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	events, err := s.store.ListAuditEvents(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]auditView, 0, len(events))
	for _, event := range events {
		out = append(out, newAuditView(event))
	}
	return out, nil
}

// Search runs the wiki search restricted to the levels the session may see.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) search.Response {
	levels := make([]string, 0, 4)
	for _, level := range rbac.VisibleLevels(rbac.Level(session.Clearance)) {
		levels = append(levels, string(level))
	}
	q.Levels = levels
	return s.search.Search(ctx, q)
}

func (s *Service) audit(ctx context.Context, session Session, documentID, action, sectionID, detail string) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		DocumentID: documentID,
		ActorID:    session.UserID,
		ActorName:  session.UserName,
		Action:     action,
		SectionID:  sectionID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Str("action", action).Msg("write audit event")
	}
}
