package editor

import (
	"context"
	"sort"
	"sync"
	"time"

	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due timers in deadline order on the
// calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// memContent is an in-memory ContentStore.
type memContent struct {
	mu       sync.Mutex
	docs     map[string]store.Content
	versions map[string]int64
	patches  []string
	audits   []store.AuditEvent
}

func newMemContent(documentID string, sections ...store.Section) *memContent {
	return &memContent{
		docs:     map[string]store.Content{documentID: {Sections: sections}},
		versions: map[string]int64{documentID: 1},
	}
}

func (m *memContent) ReadContent(_ context.Context, documentID string) (store.Content, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.docs[documentID]
	if !ok {
		return store.Content{}, 0, store.ErrNotFound
	}
	return content.Clone(), m.versions[documentID], nil
}

func (m *memContent) PatchSection(_ context.Context, documentID, sectionID, content string, _ int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok {
		return 0, store.ErrNotFound
	}
	doc = doc.Clone()
	for i := range doc.Sections {
		if doc.Sections[i].ID != sectionID {
			continue
		}
		if !doc.Sections[i].Editable {
			return 0, store.ErrSectionFixed
		}
		doc.Sections[i].Content = content
		m.docs[documentID] = doc
		m.versions[documentID]++
		m.patches = append(m.patches, sectionID+"="+content)
		return m.versions[documentID], nil
	}
	return 0, store.ErrSectionNotFound
}

func (m *memContent) WriteContent(_ context.Context, documentID string, content store.Content, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return 0, store.ErrNotFound
	}
	if m.versions[documentID] != expectedVersion {
		return 0, store.ErrVersionConflict
	}
	m.docs[documentID] = content.Clone()
	m.versions[documentID]++
	return m.versions[documentID], nil
}

func (m *memContent) InsertAuditEvent(_ context.Context, event store.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, event)
	return nil
}

func (m *memContent) Patches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.patches...)
}

// setRemote replaces a section as if another server wrote it.
func (m *memContent) setRemote(documentID, sectionID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[documentID].Clone()
	for i := range doc.Sections {
		if doc.Sections[i].ID == sectionID {
			doc.Sections[i].Content = content
		}
	}
	m.docs[documentID] = doc
	m.versions[documentID]++
}

// flakyBackend wraps a content store with a lock store that is unreachable.
type flakyBackend struct {
	content *memContent
	errLock error

	mu       sync.Mutex
	saves    []string
	released int
}

func (b *flakyBackend) Content(ctx context.Context, documentID string) (store.Content, int64, error) {
	return b.content.ReadContent(ctx, documentID)
}

func (b *flakyBackend) Acquire(context.Context, Actor, string, string) (locks.Lock, error) {
	return locks.Lock{}, b.errLock
}

func (b *flakyBackend) Release(context.Context, Actor, string, string) error {
	return b.errLock
}

func (b *flakyBackend) ReleaseAll(context.Context, Actor, string) error {
	b.mu.Lock()
	b.released++
	b.mu.Unlock()
	return b.errLock
}

func (b *flakyBackend) List(context.Context, string) ([]locks.Lock, error) {
	return nil, b.errLock
}

func (b *flakyBackend) SaveSection(ctx context.Context, _ Actor, documentID, sectionID, content string) (int64, error) {
	b.mu.Lock()
	b.saves = append(b.saves, sectionID+"="+content)
	b.mu.Unlock()
	return b.content.PatchSection(ctx, documentID, sectionID, content, 0)
}

func (b *flakyBackend) Saves() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.saves...)
}

// chanSubscriber hands out a channel the test pushes events into.
type chanSubscriber struct {
	events chan locks.Event
}

func (s *chanSubscriber) Subscribe(context.Context, string) (<-chan locks.Event, func(), error) {
	return s.events, func() {}, nil
}
