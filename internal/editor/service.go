package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sgid/api/internal/locks"
	"sgid/api/internal/richtext"
	"sgid/api/internal/store"
)

var (
	ErrNotFocused         = errors.New("section is not focused by this session")
	ErrGenerationInFlight = errors.New("section is being generated")
	ErrClosed             = errors.New("editing session closed")
)

// Actor is the authenticated user behind an editor operation.
type Actor struct {
	ID   string
	Name string
}

func (a Actor) holder() locks.Holder {
	return locks.Holder{ID: a.ID, Name: a.Name}
}

type ContentStore interface {
	ReadContent(ctx context.Context, documentID string) (store.Content, int64, error)
	PatchSection(ctx context.Context, documentID, sectionID, content string, expectedVersion int64) (int64, error)
	WriteContent(ctx context.Context, documentID string, content store.Content, expectedVersion int64) (int64, error)
	InsertAuditEvent(ctx context.Context, event store.AuditEvent) error
}

type LockStore interface {
	Acquire(ctx context.Context, documentID, sectionID string, holder locks.Holder) (locks.Lock, error)
	Release(ctx context.Context, documentID, sectionID, holderID string) error
	ReleaseAll(ctx context.Context, documentID, holderID string) error
	Renew(ctx context.Context, documentID, sectionID, holderID string) (bool, error)
	List(ctx context.Context, documentID string) ([]locks.Lock, error)
	Holding(ctx context.Context, documentID, sectionID string) (locks.Lock, bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, event locks.Event) error
}

// HistoryRecorder snapshots document content after each save.
type HistoryRecorder interface {
	Commit(documentID string, content store.Content, author, message string) (string, error)
}

// GenerationGuard reports sections with an AI generation running.
type GenerationGuard interface {
	InFlight(documentID, sectionID string) bool
}

// Service performs the server side of section editing: lock bookkeeping,
// per-section saves, and the change events other sessions reconcile against.
type Service struct {
	content ContentStore
	locks   LockStore
	events  Publisher
	history HistoryRecorder
	guard   GenerationGuard
	logger  zerolog.Logger
}

func NewService(content ContentStore, lockStore LockStore, events Publisher, logger zerolog.Logger) *Service {
	return &Service{
		content: content,
		locks:   lockStore,
		events:  events,
		logger:  logger.With().Str("component", "editor").Logger(),
	}
}

func (s *Service) WithHistory(history HistoryRecorder) *Service {
	s.history = history
	return s
}

func (s *Service) WithGenerationGuard(guard GenerationGuard) *Service {
	s.guard = guard
	return s
}

func (s *Service) Content(ctx context.Context, documentID string) (store.Content, int64, error) {
	return s.content.ReadContent(ctx, documentID)
}

// Acquire claims sectionID for actor after dropping any other lock the actor
// holds on the document.
func (s *Service) Acquire(ctx context.Context, actor Actor, documentID, sectionID string) (locks.Lock, error) {
	content, _, err := s.content.ReadContent(ctx, documentID)
	if err != nil {
		return locks.Lock{}, err
	}
	section, ok := content.Find(sectionID)
	if !ok {
		return locks.Lock{}, store.ErrSectionNotFound
	}
	if !section.Editable {
		return locks.Lock{}, store.ErrSectionFixed
	}
	if s.guard != nil && s.guard.InFlight(documentID, sectionID) {
		return locks.Lock{}, ErrGenerationInFlight
	}

	lock, err := s.locks.Acquire(ctx, documentID, sectionID, actor.holder())
	if err != nil {
		return locks.Lock{}, err
	}
	s.publish(ctx, locks.Event{Kind: locks.EventLocks, DocumentID: documentID, SectionID: sectionID, ActorID: actor.ID})
	return lock, nil
}

func (s *Service) Release(ctx context.Context, actor Actor, documentID, sectionID string) error {
	if err := s.locks.Release(ctx, documentID, sectionID, actor.ID); err != nil {
		return err
	}
	s.publish(ctx, locks.Event{Kind: locks.EventLocks, DocumentID: documentID, SectionID: sectionID, ActorID: actor.ID})
	return nil
}

func (s *Service) ReleaseAll(ctx context.Context, actor Actor, documentID string) error {
	if err := s.locks.ReleaseAll(ctx, documentID, actor.ID); err != nil {
		return err
	}
	s.publish(ctx, locks.Event{Kind: locks.EventLocks, DocumentID: documentID, ActorID: actor.ID})
	return nil
}

func (s *Service) List(ctx context.Context, documentID string) ([]locks.Lock, error) {
	return s.locks.List(ctx, documentID)
}

// SaveSection writes one section's content. The write is an atomic patch of
// that section only, so concurrent saves to different sections both land.
// A section locked by somebody else is refused; an unreachable lock store is
// logged and the save proceeds without exclusivity.
func (s *Service) SaveSection(ctx context.Context, actor Actor, documentID, sectionID, content string) (int64, error) {
	lock, held, err := s.locks.Holding(ctx, documentID, sectionID)
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Str("section_id", sectionID).Msg("lock check failed, saving without exclusivity")
	}
	if held && lock.HolderID != actor.ID {
		return 0, &locks.HeldError{Lock: lock}
	}

	version, err := s.content.PatchSection(ctx, documentID, sectionID, richtext.SanitizeContent(content), 0)
	if err != nil {
		return 0, fmt.Errorf("save section %s: %w", sectionID, err)
	}

	if held {
		if _, err := s.locks.Renew(ctx, documentID, sectionID, actor.ID); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID).Str("section_id", sectionID).Msg("lock renewal failed")
		}
	}
	s.publish(ctx, locks.Event{
		Kind:       locks.EventContent,
		DocumentID: documentID,
		SectionID:  sectionID,
		ActorID:    actor.ID,
		Version:    version,
	})
	s.record(ctx, actor, documentID, sectionID, "section.saved",
		fmt.Sprintf("Update section %s (v%d)", sectionID, version), fmt.Sprintf("version %d", version))
	return version, nil
}

// Restore replaces the whole document with an earlier snapshot. It is refused
// while anyone else holds a section lock, and when the stored version moved
// past expectedVersion.
func (s *Service) Restore(ctx context.Context, actor Actor, documentID string, content store.Content, expectedVersion int64, label string) (int64, error) {
	active, err := s.locks.List(ctx, documentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("lock check failed, restoring without exclusivity")
	}
	for _, lock := range active {
		if lock.HolderID != actor.ID {
			return 0, &locks.HeldError{Lock: lock}
		}
	}

	version, err := s.content.WriteContent(ctx, documentID, content.Clone(), expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("restore document %s: %w", documentID, err)
	}
	s.publish(ctx, locks.Event{
		Kind:       locks.EventContent,
		DocumentID: documentID,
		ActorID:    actor.ID,
		Version:    version,
	})
	s.record(ctx, actor, documentID, "", "document.restored",
		fmt.Sprintf("Restore %s (v%d)", label, version), fmt.Sprintf("restored %s as version %d", label, version))
	return version, nil
}

func (s *Service) record(ctx context.Context, actor Actor, documentID, sectionID, action, message, detail string) {
	if s.history != nil {
		content, _, err := s.content.ReadContent(ctx, documentID)
		if err == nil {
			_, err = s.history.Commit(documentID, content, actor.Name, message)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("document_id", documentID).Msg("history commit failed")
		}
	}

	err := s.content.InsertAuditEvent(ctx, store.AuditEvent{
		DocumentID: documentID,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     action,
		SectionID:  sectionID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("document_id", documentID).Msg("audit insert failed")
	}
}

func (s *Service) publish(ctx context.Context, event locks.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("document_id", event.DocumentID).Str("kind", string(event.Kind)).Msg("publish failed")
	}
}
