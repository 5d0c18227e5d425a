package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"sgid/api/internal/store"
)

func sampleContent(intro string) store.Content {
	return store.Content{Sections: []store.Section{
		{ID: "fixed-1", Content: "<h1>Plano</h1>"},
		{ID: "intro", Title: "Introdução", Content: intro, Editable: true},
	}}
}

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureRepo("doc-1", sampleContent(""), "Ana Souza"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1", contentFile)); err != nil {
		t.Fatalf("content file missing: %v", err)
	}

	hash, err := svc.Commit("doc-1", sampleContent("<p>Olá</p>"), "Ana Souza", "Update section intro")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(hash) != 7 {
		t.Fatalf("expected short hash, got %q", hash)
	}

	items, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(items))
	}
	if items[0].Hash != hash || items[0].Author != "Ana Souza" {
		t.Fatalf("unexpected head commit: %+v", items[0])
	}

	content, info, err := svc.ContentAt("doc-1", hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	section, ok := content.Find("intro")
	if !ok || section.Content != "<p>Olá</p>" {
		t.Fatalf("unexpected content at %s: %+v", info.Hash, content)
	}

	baseline, _, err := svc.ContentAt("doc-1", items[1].Hash)
	if err != nil {
		t.Fatalf("ContentAt(baseline) error = %v", err)
	}
	if got, _ := baseline.Find("intro"); got.Content != "" {
		t.Fatalf("baseline should be empty, got %q", got.Content)
	}
}

func TestCommitCreatesRepoLazilyAndSkipsNoops(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.Commit("doc-2", sampleContent("a"), "Bob", "first save")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	again, err := svc.Commit("doc-2", sampleContent("a"), "Bob", "same content")
	if err != nil {
		t.Fatalf("Commit() unchanged error = %v", err)
	}
	if again != first {
		t.Fatalf("unchanged commit should return head %s, got %s", first, again)
	}

	items, err := svc.History("doc-2", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected only the baseline commit, got %d", len(items))
	}
}

func TestHistoryWithoutRepo(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("missing", 5); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestTagHead(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.Commit("doc-3", sampleContent("x"), "Ana", "save"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := svc.Tag("doc-3", "approved-v2"); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if err := svc.Tag("doc-3", "approved-v2"); err != nil {
		t.Fatalf("Tag() twice error = %v", err)
	}
}

func TestConcurrentCommitsSameDocument(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureRepo("doc-4", sampleContent(""), "Ana"); err != nil {
		t.Fatalf("EnsureRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Commit("doc-4", sampleContent(fmt.Sprintf("v%d", i)), "Ana", "save"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent commit error = %v", err)
	}

	items, err := svc.History("doc-4", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(items) != 11 {
		t.Fatalf("expected 11 commits, got %d", len(items))
	}
}

func TestDiff(t *testing.T) {
	from := store.Content{Sections: []store.Section{
		{ID: "a", Content: "1"},
		{ID: "b", Content: "2"},
	}}
	to := store.Content{Sections: []store.Section{
		{ID: "a", Content: "1"},
		{ID: "b", Content: "2*"},
		{ID: "c", Content: "3"},
	}}
	changes := Diff(from, to)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	if changes[0].SectionID != "b" || changes[0].Kind != "modified" {
		t.Fatalf("unexpected first change: %+v", changes[0])
	}
	if changes[1].SectionID != "c" || changes[1].Kind != "added" {
		t.Fatalf("unexpected second change: %+v", changes[1])
	}

	removed := Diff(to, from)
	if removed[len(removed)-1].Kind != "removed" || removed[len(removed)-1].SectionID != "c" {
		t.Fatalf("expected removal of c, got %+v", removed)
	}
}
