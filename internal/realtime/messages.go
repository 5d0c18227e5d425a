package realtime

import (
	"errors"
	"strings"

	"sgid/api/internal/ai"
	"sgid/api/internal/editor"
	"sgid/api/internal/generation"
	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

// Inbound message types.
const (
	TypeFocus    = "focus"
	TypeEdit     = "edit"
	TypeBlur     = "blur"
	TypeGenerate = "generate"
)

// Outbound message types.
const (
	TypeSnapshot  = "snapshot"
	TypeError     = "error"
	TypeGenerated = "generated"
)

type ClientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	SectionID string `json:"sectionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

type ServerMessage struct {
	Type      string              `json:"type"`
	RequestID string              `json:"requestId,omitempty"`
	Snapshot  *editor.Snapshot    `json:"snapshot,omitempty"`
	Error     *ErrorBody          `json:"error,omitempty"`
	Outcome   *generation.Outcome `json:"outcome,omitempty"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SectionID string `json:"sectionId,omitempty"`
}

// errorCode maps engine errors onto the codes the HTTP API also uses.
func errorCode(err error) string {
	switch {
	case errors.Is(err, locks.ErrLockHeld):
		return "LOCK_HELD"
	case errors.Is(err, editor.ErrGenerationInFlight), errors.Is(err, generation.ErrInFlight):
		return "GENERATION_IN_FLIGHT"
	case errors.Is(err, generation.ErrSectionLocked):
		return "SECTION_LOCKED"
	case errors.Is(err, editor.ErrNotFocused):
		return "NOT_FOCUSED"
	case errors.Is(err, store.ErrSectionFixed):
		return "SECTION_FIXED"
	case errors.Is(err, store.ErrSectionNotFound):
		return "SECTION_NOT_FOUND"
	case errors.Is(err, errForbidden):
		return "FORBIDDEN"
	case errors.Is(err, errUnknownType):
		return "UNKNOWN_MESSAGE"
	}
	var aiErr *ai.Error
	if errors.As(err, &aiErr) {
		return "AI_" + strings.ToUpper(string(aiErr.Category))
	}
	return "INTERNAL"
}

var (
	errForbidden   = errors.New("not allowed for this user")
	errUnknownType = errors.New("unknown message type")
)
