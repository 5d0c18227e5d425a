package editor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

func editable(id, content string) store.Section {
	return store.Section{ID: id, Title: id, Content: content, Editable: true}
}

func TestReconcileKeepsFocusedLocalCopy(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	local := []store.Section{editable("intro", "Hello wor"), editable("scope", "old")}
	incoming := []store.Section{editable("intro", "remote text"), editable("scope", "new")}
	active := []locks.Lock{{SectionID: "intro", HolderID: "me", ExpiresAt: now.Add(time.Minute)}}

	got := Reconcile(incoming, local, active, "me", now)

	require.Len(t, got.Sections, 2)
	assert.Equal(t, "Hello wor", got.Sections[0].Content)
	assert.Equal(t, "new", got.Sections[1].Content)
	assert.Equal(t, []string{"scope"}, got.Updated)
}

func TestReconcileIgnoresOtherHoldersAndExpiredLocks(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	local := []store.Section{editable("a", "mine"), editable("b", "mine")}
	incoming := []store.Section{editable("a", "theirs"), editable("b", "theirs")}
	active := []locks.Lock{
		{SectionID: "a", HolderID: "other", ExpiresAt: now.Add(time.Minute)},
		{SectionID: "b", HolderID: "me", ExpiresAt: now.Add(-time.Second)},
	}

	got := Reconcile(incoming, local, active, "me", now)

	assert.Equal(t, "theirs", got.Sections[0].Content)
	assert.Equal(t, "theirs", got.Sections[1].Content)
	assert.Equal(t, []string{"a", "b"}, got.Updated)
}

func TestReconcileOneSidedSections(t *testing.T) {
	now := time.Now()
	local := []store.Section{editable("a", "x"), editable("local-only", "y")}
	incoming := []store.Section{editable("remote-only", "z"), editable("a", "x")}

	got := Reconcile(incoming, local, nil, "me", now)

	ids := make([]string, 0, len(got.Sections))
	for _, s := range got.Sections {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"remote-only", "a", "local-only"}, ids)
	assert.Empty(t, got.Updated)
}

func TestReconcileTitleChangeIsAdoptedWithoutHighlight(t *testing.T) {
	local := []store.Section{editable("a", "same")}
	remote := editable("a", "same")
	remote.Title = "Renamed"

	got := Reconcile([]store.Section{remote}, local, nil, "me", time.Now())

	assert.Equal(t, "Renamed", got.Sections[0].Title)
	assert.Empty(t, got.Updated)
}

func TestReconcileIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	local := []store.Section{editable("a", "1"), editable("b", "2"), editable("c", "local")}
	incoming := []store.Section{editable("a", "1*"), editable("b", "2*")}
	active := []locks.Lock{{SectionID: "b", HolderID: "me", ExpiresAt: now.Add(time.Minute)}}

	once := Reconcile(incoming, local, active, "me", now)
	again := Reconcile(incoming, local, active, "me", now)
	assert.Equal(t, once, again)

	twice := Reconcile(incoming, once.Sections, active, "me", now)
	assert.Equal(t, once.Sections, twice.Sections)
	assert.Empty(t, twice.Updated)
}
