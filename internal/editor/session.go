package editor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

const (
	DefaultSaveDebounce    = 1500 * time.Millisecond
	DefaultRecentlyUpdated = time.Second
	teardownTimeout        = 5 * time.Second
)

// Backend is what a Session needs from the server side. *Service satisfies it.
type Backend interface {
	Content(ctx context.Context, documentID string) (store.Content, int64, error)
	Acquire(ctx context.Context, actor Actor, documentID, sectionID string) (locks.Lock, error)
	Release(ctx context.Context, actor Actor, documentID, sectionID string) error
	ReleaseAll(ctx context.Context, actor Actor, documentID string) error
	List(ctx context.Context, documentID string) ([]locks.Lock, error)
	SaveSection(ctx context.Context, actor Actor, documentID, sectionID, content string) (int64, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, documentID string) (<-chan locks.Event, func(), error)
}

type Options struct {
	SaveDebounce    time.Duration
	RecentlyUpdated time.Duration
	LockTTL         time.Duration
	Clock           Clock
	Logger          zerolog.Logger
}

// Snapshot is the editor state pushed to the client after every change.
type Snapshot struct {
	DocumentID      string            `json:"documentId"`
	Version         int64             `json:"version"`
	Sections        []store.Section   `json:"sections"`
	Locks           []locks.Lock      `json:"locks"`
	Focused         string            `json:"focused,omitempty"`
	ReadOnly        map[string]string `json:"readOnly"`
	RecentlyUpdated []string          `json:"recentlyUpdated"`
	SaveError       string            `json:"saveError,omitempty"`
	LocksDegraded   bool              `json:"locksDegraded,omitempty"`
}

type commandKind int

const (
	cmdFocus commandKind = iota
	cmdEdit
	cmdBlur
	cmdClose
)

type command struct {
	kind      commandKind
	sectionID string
	content   string
	reply     chan error
}

type debounced struct {
	sectionID string
	content   string
}

// Session is one user's editing session on one document. All state is owned
// by a single loop goroutine; commands, change events, debounce timers and
// highlight expiries all arrive on channels it consumes.
type Session struct {
	backend    Backend
	actor      Actor
	documentID string
	opts       Options
	logger     zerolog.Logger

	commands chan command
	fires    chan debounced
	expired  chan string
	events   <-chan locks.Event
	unsub    func()
	out      chan Snapshot
	done     chan struct{}

	debouncer *Debouncer

	// loop-owned
	sections  []store.Section
	version   int64
	locks     []locks.Lock
	focused   string
	degraded  bool
	recent    map[string]time.Time
	saveError string
}

// Open loads the document, subscribes to its change feed and starts the
// session loop. Cancelling ctx tears the session down exactly like Close.
func Open(ctx context.Context, backend Backend, subscriber Subscriber, actor Actor, documentID string, opts Options) (*Session, error) {
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}
	if opts.RecentlyUpdated <= 0 {
		opts.RecentlyUpdated = DefaultRecentlyUpdated
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = locks.DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}

	content, version, err := backend.Content(ctx, documentID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		backend:    backend,
		actor:      actor,
		documentID: documentID,
		opts:       opts,
		logger: opts.Logger.With().
			Str("component", "editor_session").
			Str("document_id", documentID).
			Str("user_id", actor.ID).
			Logger(),
		commands: make(chan command),
		fires:    make(chan debounced, 32),
		expired:  make(chan string, 32),
		out:      make(chan Snapshot, 1),
		done:     make(chan struct{}),
		sections: content.Clone().Sections,
		version:  version,
		recent:   make(map[string]time.Time),
	}
	s.debouncer = NewDebouncer(opts.Clock, opts.SaveDebounce, func(sectionID, value string) {
		select {
		case s.fires <- debounced{sectionID: sectionID, content: value}:
		case <-s.done:
		}
	})

	if subscriber != nil {
		events, unsub, err := subscriber.Subscribe(ctx, documentID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("realtime subscription failed, remote changes will not be merged")
		} else {
			s.events = events
			s.unsub = unsub
		}
	}

	s.refreshLocks(ctx)
	s.emit()
	go s.loop(ctx)
	return s, nil
}

// Snapshots yields the latest state. Intermediate states may be skipped; the
// channel is closed when the session ends.
func (s *Session) Snapshots() <-chan Snapshot { return s.out }

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Focus(ctx context.Context, sectionID string) error {
	return s.do(ctx, command{kind: cmdFocus, sectionID: sectionID})
}

func (s *Session) Edit(ctx context.Context, sectionID, content string) error {
	return s.do(ctx, command{kind: cmdEdit, sectionID: sectionID, content: content})
}

func (s *Session) Blur(ctx context.Context) error {
	return s.do(ctx, command{kind: cmdBlur})
}

// Close flushes pending saves and releases every lock the user holds on the
// document, whether or not anything was saved.
func (s *Session) Close(ctx context.Context) error {
	err := s.do(ctx, command{kind: cmdClose})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.out)
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.teardown(ctx)
			return
		case cmd := <-s.commands:
			if cmd.kind == cmdClose {
				s.teardown(ctx)
				cmd.reply <- nil
				return
			}
			cmd.reply <- s.handle(ctx, cmd)
			s.emit()
		case fire := <-s.fires:
			s.save(ctx, fire.sectionID, fire.content)
			s.emit()
		case sectionID := <-s.expired:
			if deadline, ok := s.recent[sectionID]; ok && !s.opts.Clock.Now().Before(deadline) {
				delete(s.recent, sectionID)
				s.emit()
			}
		case event, ok := <-s.events:
			if !ok {
				s.events = nil
				continue
			}
			s.apply(ctx, event)
			s.emit()
		}
	}
}

func (s *Session) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdFocus:
		return s.focus(ctx, cmd.sectionID)
	case cmdEdit:
		return s.edit(cmd.sectionID, cmd.content)
	case cmdBlur:
		s.blur(ctx)
		return nil
	}
	return nil
}

func (s *Session) focus(ctx context.Context, sectionID string) error {
	section, ok := s.find(sectionID)
	if !ok {
		return store.ErrSectionNotFound
	}
	if !section.Editable {
		return store.ErrSectionFixed
	}
	if s.focused == sectionID {
		return nil
	}
	if s.focused != "" {
		s.blur(ctx)
	}

	_, err := s.backend.Acquire(ctx, s.actor, s.documentID, sectionID)
	switch {
	case err == nil:
		s.degraded = false
	case errors.Is(err, locks.ErrLockHeld), errors.Is(err, ErrGenerationInFlight):
		s.refreshLocks(ctx)
		return err
	case errors.Is(err, store.ErrSectionNotFound), errors.Is(err, store.ErrSectionFixed):
		return err
	default:
		// Lock store unreachable: keep editing locally without exclusivity.
		s.logger.Warn().Err(err).Str("section_id", sectionID).Msg("lock acquire failed")
		s.degraded = true
	}
	s.focused = sectionID
	s.refreshLocks(ctx)
	return nil
}

func (s *Session) edit(sectionID, content string) error {
	if s.focused != sectionID {
		return ErrNotFocused
	}
	for i := range s.sections {
		if s.sections[i].ID == sectionID {
			s.sections[i].Content = content
			break
		}
	}
	s.debouncer.Schedule(sectionID, content)
	return nil
}

func (s *Session) blur(ctx context.Context) {
	if s.focused == "" {
		return
	}
	sectionID := s.focused
	if content, ok := s.debouncer.Flush(sectionID); ok {
		s.save(ctx, sectionID, content)
	}
	if err := s.backend.Release(ctx, s.actor, s.documentID, sectionID); err != nil {
		s.logger.Warn().Err(err).Str("section_id", sectionID).Msg("lock release failed")
	}
	s.focused = ""
	s.refreshLocks(ctx)
}

func (s *Session) teardown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	pending := s.pendingSaves()
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.save(ctx, id, pending[id])
	}
	if err := s.backend.ReleaseAll(ctx, s.actor, s.documentID); err != nil {
		s.logger.Warn().Err(err).Msg("lock release on close failed")
	}
	s.focused = ""
	if s.unsub != nil {
		s.unsub()
	}
}

// pendingSaves collects every unsaved edit: values whose timer already fired
// but were not consumed by the loop yet, overridden by values still waiting on
// their timer, which are always newer.
func (s *Session) pendingSaves() map[string]string {
	waiting := s.debouncer.FlushAll()
	pending := make(map[string]string, len(waiting))
drain:
	for {
		select {
		case fire := <-s.fires:
			pending[fire.sectionID] = fire.content
		default:
			break drain
		}
	}
	for id, content := range waiting {
		pending[id] = content
	}
	return pending
}

// save persists one section. Failures are surfaced on the snapshot and the
// local edit is kept.
func (s *Session) save(ctx context.Context, sectionID, content string) {
	version, err := s.backend.SaveSection(ctx, s.actor, s.documentID, sectionID, content)
	if err != nil {
		s.logger.Error().Err(err).Str("section_id", sectionID).Msg("section save failed")
		s.saveError = err.Error()
		return
	}
	s.saveError = ""
	if version > s.version {
		s.version = version
	}
}

func (s *Session) apply(ctx context.Context, event locks.Event) {
	switch event.Kind {
	case locks.EventLocks:
		s.refreshLocks(ctx)
	case locks.EventContent:
		content, version, err := s.backend.Content(ctx, s.documentID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("reload after remote change failed")
			return
		}
		merged := Reconcile(content.Sections, s.sections, s.activeLocks(), s.actor.ID, s.opts.Clock.Now())
		s.sections = merged.Sections
		if version > s.version {
			s.version = version
		}
		if event.ActorID == s.actor.ID {
			return
		}
		deadline := s.opts.Clock.Now().Add(s.opts.RecentlyUpdated)
		for _, sectionID := range merged.Updated {
			id := sectionID
			s.recent[id] = deadline
			s.opts.Clock.AfterFunc(s.opts.RecentlyUpdated, func() {
				select {
				case s.expired <- id:
				case <-s.done:
				}
			})
		}
	}
}

func (s *Session) refreshLocks(ctx context.Context) {
	active, err := s.backend.List(ctx, s.documentID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("lock list failed")
		s.degraded = true
		return
	}
	s.locks = active
}

// activeLocks is the lock view used for merging. The focused section is
// always treated as held by this user so an unreachable or lagging lock
// store cannot let remote content overwrite the field being typed in.
func (s *Session) activeLocks() []locks.Lock {
	out := make([]locks.Lock, 0, len(s.locks)+1)
	out = append(out, s.locks...)
	if s.focused == "" {
		return out
	}
	for _, lock := range s.locks {
		if lock.SectionID == s.focused && lock.HolderID == s.actor.ID {
			return out
		}
	}
	return append(out, locks.Lock{
		DocumentID: s.documentID,
		SectionID:  s.focused,
		HolderID:   s.actor.ID,
		HolderName: s.actor.Name,
		ExpiresAt:  s.opts.Clock.Now().Add(s.opts.LockTTL),
	})
}

func (s *Session) find(sectionID string) (store.Section, bool) {
	for _, section := range s.sections {
		if section.ID == sectionID {
			return section, true
		}
	}
	return store.Section{}, false
}

func (s *Session) snapshot() Snapshot {
	now := s.opts.Clock.Now()
	readOnly := make(map[string]string)
	current := make([]locks.Lock, 0, len(s.locks))
	for _, lock := range s.locks {
		if !lock.Active(now) {
			continue
		}
		current = append(current, lock)
		if lock.HolderID != s.actor.ID {
			readOnly[lock.SectionID] = lock.HolderName
		}
	}
	recent := make([]string, 0, len(s.recent))
	for id := range s.recent {
		recent = append(recent, id)
	}
	sort.Strings(recent)

	sections := make([]store.Section, len(s.sections))
	copy(sections, s.sections)
	return Snapshot{
		DocumentID:      s.documentID,
		Version:         s.version,
		Sections:        sections,
		Locks:           current,
		Focused:         s.focused,
		ReadOnly:        readOnly,
		RecentlyUpdated: recent,
		SaveError:       s.saveError,
		LocksDegraded:   s.degraded,
	}
}

// emit replaces any unread snapshot with the current one.
func (s *Session) emit() {
	snap := s.snapshot()
	select {
	case s.out <- snap:
		return
	default:
	}
	select {
	case <-s.out:
	default:
	}
	s.out <- snap
}
