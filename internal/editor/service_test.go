package editor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

type guardStub map[string]bool

func (g guardStub) InFlight(documentID, sectionID string) bool {
	return g[documentID+"/"+sectionID]
}

type historyStub struct {
	mu      sync.Mutex
	commits []string
}

func (h *historyStub) Commit(documentID string, content store.Content, author, message string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	section, _ := content.Find("intro")
	h.commits = append(h.commits, author+":"+section.Content)
	return "abc123", nil
}

func TestServiceSaveRejectsForeignLock(t *testing.T) {
	content := newMemContent(docID, store.Section{ID: "intro", Editable: true})
	svc, _ := newRedisEditor(t, content)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, Actor{ID: "a", Name: "Alice"}, docID, "intro")
	require.NoError(t, err)

	_, err = svc.SaveSection(ctx, Actor{ID: "b", Name: "Bob"}, docID, "intro", "sneaky")
	var held *locks.HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, "Alice", held.Lock.HolderName)
	assert.Empty(t, content.Patches())
}

func TestServiceSaveSanitizesAndRecords(t *testing.T) {
	content := newMemContent(docID, store.Section{ID: "intro", Editable: true})
	svc, _ := newRedisEditor(t, content)
	history := &historyStub{}
	svc.WithHistory(history)
	ctx := context.Background()
	alice := Actor{ID: "a", Name: "Alice"}

	_, err := svc.Acquire(ctx, alice, docID, "intro")
	require.NoError(t, err)

	version, err := svc.SaveSection(ctx, alice, docID, "intro", `<p>ok</p><script>alert(1)</script>`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, []string{"intro=<p>ok</p>"}, content.Patches())
	assert.Equal(t, []string{"Alice:<p>ok</p>"}, history.commits)
	require.Len(t, content.audits, 1)
	assert.Equal(t, "section.saved", content.audits[0].Action)
	assert.Equal(t, "intro", content.audits[0].SectionID)
}

func TestServiceAcquireValidatesSection(t *testing.T) {
	content := newMemContent(docID,
		store.Section{ID: "fixed-1"},
		store.Section{ID: "intro", Editable: true},
	)
	svc, _ := newRedisEditor(t, content)
	svc.WithGenerationGuard(guardStub{docID + "/intro": true})
	ctx := context.Background()
	actor := Actor{ID: "a", Name: "Alice"}

	_, err := svc.Acquire(ctx, actor, docID, "fixed-1")
	assert.ErrorIs(t, err, store.ErrSectionFixed)
	_, err = svc.Acquire(ctx, actor, docID, "nope")
	assert.ErrorIs(t, err, store.ErrSectionNotFound)
	_, err = svc.Acquire(ctx, actor, docID, "intro")
	assert.ErrorIs(t, err, ErrGenerationInFlight)
}

func TestServiceConcurrentSavesToDifferentSectionsBothLand(t *testing.T) {
	content := newMemContent(docID,
		store.Section{ID: "a", Editable: true},
		store.Section{ID: "b", Editable: true},
	)
	svc, _ := newRedisEditor(t, content)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.SaveSection(ctx, Actor{ID: "u-" + id, Name: id}, docID, id, "text-"+id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	doc, version, err := content.ReadContent(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
	a, _ := doc.Find("a")
	b, _ := doc.Find("b")
	assert.Equal(t, "text-a", a.Content)
	assert.Equal(t, "text-b", b.Content)
}

func TestServiceRestoreReplacesContent(t *testing.T) {
	content := newMemContent(docID, store.Section{ID: "intro", Editable: true, Content: "<p>novo</p>"})
	svc, _ := newRedisEditor(t, content)
	history := &historyStub{}
	svc.WithHistory(history)
	ctx := context.Background()
	alice := Actor{ID: "a", Name: "Alice"}
	old := store.Content{Sections: []store.Section{{ID: "intro", Editable: true, Content: "<p>antigo</p>"}}}

	_, err := svc.Restore(ctx, alice, docID, old, 5, "abc1234")
	require.ErrorIs(t, err, store.ErrVersionConflict)

	version, err := svc.Restore(ctx, alice, docID, old, 1, "abc1234")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	doc, _, err := content.ReadContent(ctx, docID)
	require.NoError(t, err)
	intro, _ := doc.Find("intro")
	assert.Equal(t, "<p>antigo</p>", intro.Content)
	assert.Equal(t, []string{"Alice:<p>antigo</p>"}, history.commits)
	require.Len(t, content.audits, 1)
	assert.Equal(t, "document.restored", content.audits[0].Action)
}

func TestServiceRestoreRefusedWhileOthersEdit(t *testing.T) {
	content := newMemContent(docID, store.Section{ID: "intro", Editable: true, Content: "<p>novo</p>"})
	svc, _ := newRedisEditor(t, content)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, Actor{ID: "b", Name: "Bob"}, docID, "intro")
	require.NoError(t, err)

	_, err = svc.Restore(ctx, Actor{ID: "a", Name: "Alice"}, docID, store.Content{}, 1, "abc1234")
	var held *locks.HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "Bob", held.Lock.HolderName)
	assert.Empty(t, content.audits)
}
