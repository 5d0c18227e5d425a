package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SGID_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SGID_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db), ctx
}

func seedDocument(t *testing.T, ctx context.Context, s *PostgresStore) Document {
	t.Helper()
	if err := s.CreateUser(ctx, User{ID: "u1", DisplayName: "Ana", Email: "ana@example.org", Role: "editor", Clearance: "secret"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.InsertProject(ctx, Project{ID: "p1", Name: "Portal", OwnerID: "u1"}); err != nil {
		t.Fatalf("InsertProject() error = %v", err)
	}
	doc := Document{
		ID:            "d1",
		ProjectID:     "p1",
		Name:          "Term of reference",
		SecurityLevel: "restricted",
		CreatedBy:     "u1",
		Content: Content{Sections: []Section{
			{ID: "fixed-1", Content: "<p>Header</p>"},
			{ID: "scope", Title: "Scope", Editable: true},
			{ID: "budget", Title: "Budget", Editable: true},
		}},
	}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("InsertDocument() error = %v", err)
	}
	return doc
}

func TestPatchSectionConcurrentDifferentSections(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	seedDocument(t, ctx, s)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.PatchSection(ctx, "d1", "scope", "scope text", 0)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.PatchSection(ctx, "d1", "budget", "budget text", 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("PatchSection() error = %v", err)
		}
	}

	content, version, err := s.ReadContent(ctx, "d1")
	if err != nil {
		t.Fatalf("ReadContent() error = %v", err)
	}
	scope, _ := content.Find("scope")
	budget, _ := content.Find("budget")
	if scope.Content != "scope text" || budget.Content != "budget text" {
		t.Fatalf("lost concurrent write: scope=%q budget=%q", scope.Content, budget.Content)
	}
	if version != 21 {
		t.Fatalf("expected version 21 after 20 patches, got %d", version)
	}

	doc, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.Status != "in_progress" {
		t.Fatalf("expected first save to move status to in_progress, got %q", doc.Status)
	}
}

func TestPatchSectionRejections(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	seedDocument(t, ctx, s)

	if _, err := s.PatchSection(ctx, "d1", "fixed-1", "nope", 0); !errors.Is(err, ErrSectionFixed) {
		t.Fatalf("expected ErrSectionFixed, got %v", err)
	}
	if _, err := s.PatchSection(ctx, "d1", "missing", "nope", 0); !errors.Is(err, ErrSectionNotFound) {
		t.Fatalf("expected ErrSectionNotFound, got %v", err)
	}
	if _, err := s.PatchSection(ctx, "d1", "scope", "stale", 99); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestWriteContentOptimisticVersion(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	doc := seedDocument(t, ctx, s)

	next := doc.Content.Clone()
	next.Sections[1].Content = "rewritten"
	version, err := s.WriteContent(ctx, "d1", next, 1)
	if err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
	if _, err := s.WriteContent(ctx, "d1", next, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale write, got %v", err)
	}
}
