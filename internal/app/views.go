package app

import (
	"time"

	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

type userView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Clearance   string `json:"clearance"`
}

func newUserView(user store.User) userView {
	return userView{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Clearance:   user.Clearance,
	}
}

type projectView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	HasContext  bool      `json:"hasContext"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newProjectView(project store.Project) projectView {
	return projectView{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		OwnerID:     project.OwnerID,
		HasContext:  project.RAGContext != "",
		Summary:     project.RAGSummary,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
}

type templateView struct {
	ID           string          `json:"id"`
	ProjectID    *string         `json:"projectId"`
	Name         string          `json:"name"`
	DocumentType string          `json:"documentType"`
	Body         string          `json:"body,omitempty"`
	Sections     []store.Section `json:"sections"`
	AIGuidance   string          `json:"aiGuidance,omitempty"`
	CreatedBy    string          `json:"createdBy"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func newTemplateView(tpl store.Template, withBody bool) templateView {
	view := templateView{
		ID:           tpl.ID,
		ProjectID:    tpl.ProjectID,
		Name:         tpl.Name,
		DocumentType: tpl.DocumentType,
		Sections:     tpl.Skeleton,
		AIGuidance:   tpl.AIGuidance,
		CreatedBy:    tpl.CreatedBy,
		CreatedAt:    tpl.CreatedAt,
		UpdatedAt:    tpl.UpdatedAt,
	}
	if view.Sections == nil {
		view.Sections = []store.Section{}
	}
	if withBody {
		view.Body = tpl.Body
	}
	return view
}

type documentView struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	Name          string    `json:"name"`
	SecurityLevel string    `json:"securityLevel"`
	TemplateID    *string   `json:"templateId"`
	CreatedBy     string    `json:"createdBy"`
	Status        string    `json:"status"`
	Transitions   []string  `json:"transitions"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func newDocumentView(doc store.Document) documentView {
	return documentView{
		ID:            doc.ID,
		ProjectID:     doc.ProjectID,
		Name:          doc.Name,
		SecurityLevel: doc.SecurityLevel,
		TemplateID:    doc.TemplateID,
		CreatedBy:     doc.CreatedBy,
		Status:        doc.Status,
		Transitions:   nextStatuses(doc.Status),
		Version:       doc.Version,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

type contentView struct {
	DocumentID string          `json:"documentId"`
	Version    int64           `json:"version"`
	Editable   bool            `json:"editable"`
	Sections   []store.Section `json:"sections"`
	Locks      []locks.Lock    `json:"locks"`
}

type commitView struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

func newCommitView(info store.CommitInfo) commitView {
	return commitView{Hash: info.Hash, Message: info.Message, Author: info.Author, CreatedAt: info.CreatedAt}
}

type auditView struct {
	ID        int64     `json:"id"`
	ActorID   string    `json:"actorId"`
	ActorName string    `json:"actorName"`
	Action    string    `json:"action"`
	SectionID string    `json:"sectionId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newAuditView(event store.AuditEvent) auditView {
	return auditView{
		ID:        event.ID,
		ActorID:   event.ActorID,
		ActorName: event.ActorName,
		Action:    event.Action,
		SectionID: event.SectionID,
		Detail:    event.Detail,
		CreatedAt: event.CreatedAt,
	}
}
