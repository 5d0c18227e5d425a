package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"sgid/api/internal/files"
	"sgid/api/internal/rag"
	"sgid/api/internal/rbac"
	"sgid/api/internal/richtext"
	"sgid/api/internal/search"
	"sgid/api/internal/store"
	"sgid/api/internal/templates"
	"sgid/api/internal/util"
)

func (s *Service) ListProjects(ctx context.Context) ([]projectView, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]projectView, 0, len(projects))
	for _, project := range projects {
		out = append(out, newProjectView(project))
	}
	return out, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (projectView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return projectView{}, err
	}
	return newProjectView(project), nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, in ProjectInput) (projectView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return projectView{}, err
	}
	project := store.Project{
		ID:          util.NewID("prj"),
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     session.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return projectView{}, err
	}
	return s.GetProject(ctx, project.ID)
}

func (s *Service) UpdateProject(ctx context.Context, projectID string, in ProjectInput) (projectView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return projectView{}, err
	}
	if err := s.store.UpdateProject(ctx, projectID, in.Name, strings.TrimSpace(in.Description)); err != nil {
		return projectView{}, err
	}
	return s.GetProject(ctx, projectID)
}

func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	documents, err := s.store.ListDocuments(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	for _, doc := range documents {
		s.search.DeleteDocument(doc.ID)
	}
	return nil
}

// Templates

func (s *Service) ListTemplates(ctx context.Context, projectID string) ([]templateView, error) {
	list, err := s.store.ListTemplates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]templateView, 0, len(list))
	for _, tpl := range list {
		out = append(out, newTemplateView(tpl, false))
	}
	return out, nil
}

func (s *Service) GetTemplate(ctx context.Context, templateID string) (templateView, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return templateView{}, err
	}
	return newTemplateView(tpl, true), nil
}

// TemplatePreview is the parse result shown while authoring a template.
type TemplatePreview struct {
	Body     string                  `json:"body"`
	Format   string                  `json:"format"`
	Sections []store.Section         `json:"sections"`
	Outline  []templates.OutlineItem `json:"outline"`
}

// PreviewTemplate sanitizes the body, assigns stable marker ids and parses
// it the same way a save would.
func (s *Service) PreviewTemplate(body string) (TemplatePreview, error) {
	if strings.TrimSpace(body) == "" {
		return TemplatePreview{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"body": "cannot be blank"})
	}
	prepared, err := prepareTemplateBody(body)
	if err != nil {
		return TemplatePreview{}, err
	}
	result := templates.Parse(prepared)
	outline, err := templates.Outline(prepared)
	if err != nil {
		return TemplatePreview{}, domainError(http.StatusUnprocessableEntity, "TEMPLATE_INVALID", err.Error(), nil)
	}
	return TemplatePreview{
		Body:     prepared,
		Format:   result.Format.String(),
		Sections: result.Sections,
		Outline:  outline,
	}, nil
}

func (s *Service) TemplateOutline(ctx context.Context, templateID string) ([]templates.OutlineItem, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	outline, err := templates.Outline(tpl.Body)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "TEMPLATE_INVALID", err.Error(), nil)
	}
	return outline, nil
}

func prepareTemplateBody(body string) (string, error) {
	normalized, err := templates.NormalizeMarkers(richtext.SanitizeTemplate(body))
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "TEMPLATE_INVALID", err.Error(), nil)
	}
	return normalized, nil
}

func (s *Service) CreateTemplate(ctx context.Context, session Session, in TemplateInput) (templateView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return templateView{}, err
	}
	if in.ProjectID != nil && *in.ProjectID == "" {
		in.ProjectID = nil
	}
	if in.ProjectID != nil {
		if _, err := s.store.GetProject(ctx, *in.ProjectID); err != nil {
			return templateView{}, err
		}
	} else if !s.Can(session.Role, rbac.ActionManage) {
		return templateView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only admins can create global templates", nil)
	}

	body, err := prepareTemplateBody(in.Body)
	if err != nil {
		return templateView{}, err
	}
	tpl := store.Template{
		ID:           util.NewID("tpl"),
		ProjectID:    in.ProjectID,
		Name:         in.Name,
		DocumentType: strings.TrimSpace(in.DocumentType),
		Body:         body,
		Skeleton:     templates.ParseTemplateToSections(body),
		AIGuidance:   strings.TrimSpace(in.AIGuidance),
		CreatedBy:    session.UserID,
	}
	if err := s.store.InsertTemplate(ctx, tpl); err != nil {
		return templateView{}, err
	}
	s.search.IndexTemplate(search.TemplateRecordFrom(tpl))
	return s.GetTemplate(ctx, tpl.ID)
}

// UpdateTemplate re-parses the body. Documents already created from the
// template keep their own content.
func (s *Service) UpdateTemplate(ctx context.Context, session Session, templateID string, in TemplateInput) (templateView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return templateView{}, err
	}
	current, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return templateView{}, err
	}
	if current.ProjectID == nil && !s.Can(session.Role, rbac.ActionManage) {
		return templateView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only admins can change global templates", nil)
	}
	body, err := prepareTemplateBody(in.Body)
	if err != nil {
		return templateView{}, err
	}
	current.Name = in.Name
	current.DocumentType = strings.TrimSpace(in.DocumentType)
	current.Body = body
	current.Skeleton = templates.ParseTemplateToSections(body)
	current.AIGuidance = strings.TrimSpace(in.AIGuidance)
	if err := s.store.UpdateTemplate(ctx, current); err != nil {
		return templateView{}, err
	}
	s.search.IndexTemplate(search.TemplateRecordFrom(current))
	return s.GetTemplate(ctx, templateID)
}

func (s *Service) DeleteTemplate(ctx context.Context, templateID string) error {
	if err := s.store.DeleteTemplate(ctx, templateID); err != nil {
		return err
	}
	s.search.DeleteTemplate(templateID)
	return nil
}

// Knowledge files

func (s *Service) ListKnowledge(ctx context.Context, projectID string) ([]files.Object, error) {
	if s.files == nil {
		return nil, errFilesUnavailable
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	objects, err := s.files.List(ctx, files.KnowledgePrefix(projectID))
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

var knowledgeExtensions = map[string]bool{".txt": true, ".md": true, ".html": true, ".htm": true, ".pdf": true, ".docx": true}

func (s *Service) UploadKnowledge(ctx context.Context, projectID, filename string, body io.Reader, size int64, contentType string) (files.Object, error) {
	if s.files == nil {
		return files.Object{}, errFilesUnavailable
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return files.Object{}, err
	}
	key, err := files.KnowledgeKey(projectID, filename)
	if err != nil {
		return files.Object{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	name := path.Base(key)
	if !knowledgeExtensions[strings.ToLower(path.Ext(name))] {
		return files.Object{}, domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_FILE", "Accepted files: txt, md, html, pdf, docx", nil)
	}
	if key == rag.ContextKey(projectID) || key == rag.SummaryKey(projectID) {
		return files.Object{}, domainError(http.StatusConflict, "RESERVED_NAME", "File name is reserved for generated context", nil)
	}
	if err := s.files.Put(ctx, key, body, size, contentType); err != nil {
		return files.Object{}, err
	}
	return files.Object{Key: key, Name: name, Size: size, ContentType: contentType, LastModified: s.now()}, nil
}

func (s *Service) DeleteKnowledge(ctx context.Context, projectID, filename string) error {
	if s.files == nil {
		return errFilesUnavailable
	}
	key, err := files.KnowledgeKey(projectID, filename)
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.files.Delete(ctx, key)
}

// BuildContext runs the knowledge-base pipeline for a project.
func (s *Service) BuildContext(ctx context.Context, projectID string) (rag.Result, error) {
	if s.rag == nil {
		if s.files == nil {
			return rag.Result{}, errFilesUnavailable
		}
		return rag.Result{}, errGenerationOffline
	}
	result, err := s.rag.Build(ctx, projectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn().Err(err).Str("project_id", projectID).Msg("build project context")
	}
	return result, err
}
