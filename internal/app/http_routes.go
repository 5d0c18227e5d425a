package app

import (
	"net/http"
	"strings"

	"sgid/api/internal/export"
	"sgid/api/internal/rbac"
)

func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.service.ListProjects(ctx)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(ctx, session, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, project)
		default:
			methodNotAllowed(w)
		}
		return
	}

	projectID := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			project, err := s.service.GetProject(ctx, projectID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, project)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.UpdateProject(ctx, projectID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, project)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteProject(ctx, projectID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "documents" && r.Method == http.MethodGet {
		documents, err := s.service.ListDocuments(ctx, session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
		return
	}

	if len(rest) == 2 && rest[1] == "knowledge" {
		switch r.Method {
		case http.MethodGet:
			objects, err := s.service.ListKnowledge(ctx, projectID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"files": objects})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
			if err := r.ParseMultipartForm(8 << 20); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart upload under 25MB", nil)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing file field", nil)
				return
			}
			defer file.Close()
			object, err := s.service.UploadKnowledge(ctx, projectID, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, object)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) == 3 && rest[1] == "knowledge" && r.Method == http.MethodDelete {
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		if err := s.service.DeleteKnowledge(ctx, projectID, rest[2]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 2 && rest[1] == "context" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionGenerate) {
			s.forbid(w)
			return
		}
		result, err := s.service.BuildContext(ctx, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			list, err := s.service.ListTemplates(ctx, r.URL.Query().Get("projectId"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"templates": list})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body TemplateInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tpl, err := s.service.CreateTemplate(ctx, session, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, tpl)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "preview" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		preview, err := s.service.PreviewTemplate(body.Body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	templateID := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			tpl, err := s.service.GetTemplate(ctx, templateID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, tpl)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body TemplateInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			tpl, err := s.service.UpdateTemplate(ctx, session, templateID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, tpl)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteTemplate(ctx, templateID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "outline" && r.Method == http.MethodGet {
		outline, err := s.service.TemplateOutline(ctx, templateID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outline": outline})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			documents, err := s.service.ListDocuments(ctx, session, r.URL.Query().Get("projectId"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": documents})
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body DocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.CreateDocument(ctx, session, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, doc)
		default:
			methodNotAllowed(w)
		}
		return
	}

	documentID := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(ctx, session, documentID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				s.forbid(w)
				return
			}
			var body DocumentMetaInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.UpdateDocument(ctx, session, documentID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteDocument(ctx, session, documentID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch {
	case len(rest) == 2 && rest[1] == "content" && r.Method == http.MethodGet:
		content, err := s.service.Content(ctx, session, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, content)

	case len(rest) == 3 && rest[1] == "sections" && r.Method == http.MethodPut:
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		version, err := s.service.SaveSection(ctx, session, documentID, rest[2], body.Content)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "sectionId": rest[2], "version": version})

	case len(rest) == 2 && rest[1] == "locks" && r.Method == http.MethodGet:
		active, err := s.service.ListLocks(ctx, session, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locks": active})

	case len(rest) == 3 && rest[1] == "locks" && (r.Method == http.MethodPost || r.Method == http.MethodDelete):
		if !s.service.Can(session.Role, rbac.ActionWrite) {
			s.forbid(w)
			return
		}
		if r.Method == http.MethodDelete {
			if err := s.service.ReleaseLock(ctx, session, documentID, rest[2]); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		lock, err := s.service.AcquireLock(ctx, session, documentID, rest[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, lock)

	case len(rest) == 2 && rest[1] == "generate" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionGenerate) {
			s.forbid(w)
			return
		}
		var body struct {
			SectionID string `json:"sectionId"`
			Provider  string `json:"provider"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		outcomes, err := s.service.Generate(ctx, session, documentID, strings.TrimSpace(body.SectionID), body.Provider)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": outcomes})

	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		commits, err := s.service.History(ctx, session, documentID, queryInt(r, "limit", 50))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": commits})

	case len(rest) == 3 && rest[1] == "history" && r.Method == http.MethodGet:
		version, err := s.service.VersionContent(ctx, session, documentID, rest[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, version)

	case len(rest) == 4 && rest[1] == "history" && rest[3] == "restore" && r.Method == http.MethodPost:
		content, err := s.service.RestoreVersion(ctx, session, documentID, rest[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, content)

	case len(rest) == 2 && rest[1] == "compare" && r.Method == http.MethodGet:
		query := r.URL.Query()
		changes, err := s.service.Compare(ctx, session, documentID, query.Get("from"), query.Get("to"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"from": query.Get("from"), "to": query.Get("to"), "changes": changes})

	case len(rest) == 2 && rest[1] == "export" && r.Method == http.MethodPost:
		var body struct {
			Format    string `json:"format"`
			Version   string `json:"version"`
			SkipFixed bool   `json:"skipFixed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(body.Format)))
		if !ok {
			writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Format must be html, pdf or docx", nil)
			return
		}
		version := body.Version
		if version == "latest" {
			version = ""
		}
		result, err := s.service.Export(ctx, session, documentID, export.Request{Format: format, Version: version, SkipFixed: body.SkipFixed})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeFile(w, result)

	case len(rest) == 2 && rest[1] == "status" && r.Method == http.MethodPost:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.TransitionStatus(ctx, session, documentID, strings.TrimSpace(body.Status))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case len(rest) == 2 && rest[1] == "audit" && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionReview) {
			s.forbid(w)
			return
		}
		events, err := s.service.AuditLog(ctx, session, documentID, queryInt(r, "limit", 100))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})

	case len(rest) == 2 && rest[1] == "editor" && r.Method == http.MethodGet:
		if s.editor == nil {
			writeError(w, http.StatusServiceUnavailable, "EDITOR_UNAVAILABLE", "Realtime editor not configured", nil)
			return
		}
		participant, err := s.service.EditorParticipant(ctx, session, documentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.editor.Serve(w, r, participant, documentID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
