package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "domain", err: errDocumentReadOnly, status: http.StatusConflict, code: "DOCUMENT_READ_ONLY"},
		{name: "missing row", err: fmt.Errorf("get document: %w", store.ErrNotFound), status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "missing section", err: store.ErrSectionNotFound, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "fixed section", err: fmt.Errorf("save section x: %w", store.ErrSectionFixed), status: http.StatusUnprocessableEntity, code: "SECTION_FIXED"},
		{name: "version conflict", err: store.ErrVersionConflict, status: http.StatusConflict, code: "VERSION_CONFLICT"},
		{name: "bare lock sentinel", err: locks.ErrLockHeld, status: http.StatusConflict, code: "LOCK_HELD"},
		{name: "generation lock", err: fmt.Errorf("%w: Ana", generation.ErrSectionLocked), status: http.StatusConflict, code: "LOCK_HELD"},
		{name: "editor in flight", err: editor.ErrGenerationInFlight, status: http.StatusConflict, code: "GENERATION_IN_FLIGHT"},
		{name: "generation in flight", err: generation.ErrInFlight, status: http.StatusConflict, code: "GENERATION_IN_FLIGHT"},
		{name: "no provider", err: generation.ErrNoProvider, status: http.StatusServiceUnavailable, code: "AI_UNAVAILABLE"},
		{name: "expired token", err: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "bad credentials", err: authpw.ErrInvalidCredentials, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{name: "weak password", err: authpw.ErrWeakPassword, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "export version", err: fmt.Errorf("%w: bad hash", export.ErrContentUnavailable), status: http.StatusNotFound, code: "VERSION_NOT_FOUND"},
		{name: "export runtime", err: export.ErrPDFDependencyMissing, status: http.StatusServiceUnavailable, code: "EXPORT_UNAVAILABLE"},
		{name: "no knowledge", err: rag.ErrNoKnowledge, status: http.StatusUnprocessableEntity, code: "NO_KNOWLEDGE"},
		{name: "ai unauthorized", err: &ai.Error{Category: ai.CategoryUnauthorized, Provider: "openai", Status: 401, Err: errors.New("bad key")}, status: http.StatusUnauthorized, code: "AI_UNAUTHORIZED"},
		{name: "ai network", err: &ai.Error{Category: ai.CategoryNetwork, Provider: "generic", Err: errors.New("refused")}, status: http.StatusBadGateway, code: "AI_NETWORK"},
		{name: "ai empty", err: &ai.Error{Category: ai.CategoryOther, Provider: "generic", Err: ai.ErrEmpty}, status: http.StatusBadGateway, code: "AI_OTHER"},
		{name: "unexpected", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestMapErrorHeldLockDetails(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := fmt.Errorf("acquire: %w", &locks.HeldError{Lock: locks.Lock{SectionID: "objetivo", HolderID: "usr_1", HolderName: "Ana", ExpiresAt: expires}})

	status, code, _, details := mapError(err)

	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "LOCK_HELD", code)
	assert.Equal(t, map[string]any{
		"sectionId":  "objetivo",
		"holderId":   "usr_1",
		"holderName": "Ana",
		"expiresAt":  expires,
	}, details)
}

func TestValidationErrorDetails(t *testing.T) {
	err := validationError(validation.Errors{"name": errors.New("cannot be blank")})

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)
	assert.Equal(t, map[string]string{"name": "cannot be blank"}, domainErr.Details)

	assert.NoError(t, validationError(nil))
	assert.NoError(t, validateInput(ProjectInput{Name: "Obras"}))
	assert.Error(t, validateInput(DocumentInput{ProjectID: "prj_1", Name: "Doc", SecurityLevel: "top"}))
}
