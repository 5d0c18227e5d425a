package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"sgid/api/internal/ai"
	"sgid/api/internal/auth"
	"sgid/api/internal/authpw"
	"sgid/api/internal/editor"
	"sgid/api/internal/export"
	"sgid/api/internal/generation"
	"sgid/api/internal/locks"
	"sgid/api/internal/rag"
	"sgid/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errForbidden         = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errClearance         = domainError(http.StatusForbidden, "FORBIDDEN", "Document is above your clearance", nil)
	errFilesUnavailable  = domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Object storage not configured", nil)
	errHistoryMissing    = domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil)
	errDocumentReadOnly  = domainError(http.StatusConflict, "DOCUMENT_READ_ONLY", "Document no longer accepts edits", nil)
	errGenerationOffline = domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "No AI provider configured", nil)
)

// validationError turns ozzo field errors into a 422 with per-field details.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]string, len(fieldErrs))
		for field, fieldErr := range fieldErrs {
			details[field] = fieldErr.Error()
		}
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var held *locks.HeldError
	if errors.As(err, &held) {
		return http.StatusConflict, "LOCK_HELD", "Section is being edited by another user", map[string]any{
			"sectionId":  held.Lock.SectionID,
			"holderId":   held.Lock.HolderID,
			"holderName": held.Lock.HolderName,
			"expiresAt":  held.Lock.ExpiresAt,
		}
	}

	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, store.ErrSectionNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrSectionFixed):
		return http.StatusUnprocessableEntity, "SECTION_FIXED", "Section is not editable", nil
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "Document changed concurrently, retry", nil
	case errors.Is(err, locks.ErrLockHeld), errors.Is(err, generation.ErrSectionLocked):
		return http.StatusConflict, "LOCK_HELD", "Section is being edited by another user", nil
	case errors.Is(err, editor.ErrGenerationInFlight), errors.Is(err, generation.ErrInFlight):
		return http.StatusConflict, "GENERATION_IN_FLIGHT", "Section is being generated", nil
	case errors.Is(err, editor.ErrNotFocused):
		return http.StatusConflict, "NOT_FOCUSED", "Acquire the section lock before saving", nil
	case errors.Is(err, generation.ErrNoProvider):
		return http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI provider not configured", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, rag.ErrNoKnowledge), errors.Is(err, rag.ErrNoExtractions):
		return http.StatusUnprocessableEntity, "NO_KNOWLEDGE", err.Error(), nil
	}

	if category := ai.Classify(err); category != "" && isAIError(err) {
		details := map[string]any{"category": category}
		switch category {
		case ai.CategoryUnauthorized:
			return http.StatusUnauthorized, "AI_UNAUTHORIZED", "AI provider rejected the credentials", details
		case ai.CategoryRateLimited:
			return http.StatusTooManyRequests, "AI_RATE_LIMITED", "AI provider rate limit reached", details
		default:
			return http.StatusBadGateway, "AI_" + strings.ToUpper(string(category)), "AI provider failed", details
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func isAIError(err error) bool {
	var perr *ai.Error
	return errors.As(err, &perr) || errors.Is(err, ai.ErrEmpty)
}
