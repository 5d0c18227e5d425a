package app

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"sgid/api/internal/rbac"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var (
	roleRule  = validation.In(string(rbac.RoleViewer), string(rbac.RoleEditor), string(rbac.RoleAdmin)).Error("must be viewer, editor or admin")
	levelRule = validation.In(string(rbac.LevelPublic), string(rbac.LevelRestricted), string(rbac.LevelConfidential), string(rbac.LevelSecret)).
			Error("must be public, restricted, confidential or secret")
)

type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (in ProjectInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Description, validation.Length(0, 4000)),
	)
}

type TemplateInput struct {
	ProjectID    *string `json:"projectId"`
	Name         string  `json:"name"`
	DocumentType string  `json:"documentType"`
	Body         string  `json:"body"`
	AIGuidance   string  `json:"aiGuidance"`
}

func (in TemplateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.DocumentType, validation.Length(0, 80)),
		validation.Field(&in.Body, validation.Required),
		validation.Field(&in.AIGuidance, validation.Length(0, 8000)),
	)
}

type DocumentInput struct {
	ProjectID     string  `json:"projectId"`
	Name          string  `json:"name"`
	SecurityLevel string  `json:"securityLevel"`
	TemplateID    *string `json:"templateId"`
}

func (in DocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ProjectID, validation.Required),
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.SecurityLevel, levelRule),
	)
}

type DocumentMetaInput struct {
	Name          string `json:"name"`
	SecurityLevel string `json:"securityLevel"`
}

func (in DocumentMetaInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.SecurityLevel, validation.Required, levelRule),
	)
}

func validateSignUp(email, password, displayName string) error {
	err := validation.Errors{
		"email":       validation.Validate(strings.TrimSpace(email), validation.Required, validation.Match(emailPattern).Error("must be a valid email address")),
		"password":    validation.Validate(password, validation.Required, validation.Length(8, 128)),
		"displayName": validation.Validate(strings.TrimSpace(displayName), validation.Required, validation.Length(1, 120)),
	}.Filter()
	return validationError(err)
}

func validateUserAccess(role, clearance string) error {
	err := validation.Errors{
		"role":      validation.Validate(role, validation.Required, roleRule),
		"clearance": validation.Validate(clearance, validation.Required, levelRule),
	}.Filter()
	return validationError(err)
}

// validateInput runs an input's Validate method and converts the result.
func validateInput(in validation.Validatable) error {
	return validationError(in.Validate())
}
