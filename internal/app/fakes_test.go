package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"sgid/api/internal/ai"
	"sgid/api/internal/auth"
	"sgid/api/internal/authpw"
	"sgid/api/internal/config"
	"sgid/api/internal/editor"
	"sgid/api/internal/export"
	"sgid/api/internal/generation"
	"sgid/api/internal/history"
	"sgid/api/internal/locks"
	"sgid/api/internal/store"
)

// fakeStore keeps every table in memory.
type fakeStore struct {
	mu        sync.Mutex
	pingErr   error
	users     map[string]store.User
	projects  map[string]store.Project
	templates map[string]store.Template
	docs      map[string]store.Document
	audits    []store.AuditEvent
	refresh   map[string]string
	revoked   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]store.User{},
		projects:  map[string]store.Project{},
		templates: map[string]store.Template{},
		docs:      map[string]store.Document{},
		refresh:   map[string]string{},
		revoked:   map[string]bool{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == strings.ToLower(email) {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (f *fakeStore) UpdateUserAccess(_ context.Context, id, role, clearance string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Role, user.Clearance = role, clearance
	f.users[id] = user
	return nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = hash
	f.users[id] = user
	return nil
}

func (f *fakeStore) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) InsertProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project.CreatedAt, project.UpdatedAt = time.Now(), time.Now()
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return store.Project{}, store.ErrNotFound
	}
	return project, nil
}

func (f *fakeStore) ListProjects(context.Context) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Project, 0, len(f.projects))
	for _, project := range f.projects {
		out = append(out, project)
	}
	return out, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, id, name, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	project.Name, project.Description = name, description
	f.projects[id] = project
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.projects, id)
	for docID, doc := range f.docs {
		if doc.ProjectID == id {
			delete(f.docs, docID)
		}
	}
	return nil
}

func (f *fakeStore) InsertTemplate(_ context.Context, tpl store.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[tpl.ID] = tpl
	return nil
}

func (f *fakeStore) UpdateTemplate(_ context.Context, tpl store.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.templates[tpl.ID]; !ok {
		return store.ErrNotFound
	}
	f.templates[tpl.ID] = tpl
	return nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id string) (store.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tpl, ok := f.templates[id]
	if !ok {
		return store.Template{}, store.ErrNotFound
	}
	return tpl, nil
}

func (f *fakeStore) ListTemplates(_ context.Context, projectID string) ([]store.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Template, 0)
	for _, tpl := range f.templates {
		if tpl.ProjectID == nil || (projectID != "" && *tpl.ProjectID == projectID) {
			out = append(out, tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) DeleteTemplate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.templates[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.templates, id)
	return nil
}

func (f *fakeStore) InsertDocument(_ context.Context, doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.Status == "" {
		doc.Status = StatusDraft
	}
	doc.Version = 1
	doc.Content = doc.Content.Clone()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	doc.Content = doc.Content.Clone()
	return doc, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, projectID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Document, 0)
	for _, doc := range f.docs {
		if projectID == "" || doc.ProjectID == projectID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateDocumentMeta(_ context.Context, id, name, level string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Name, doc.SecurityLevel = name, level
	f.docs[id] = doc
	return nil
}

func (f *fakeStore) UpdateDocumentStatus(_ context.Context, id, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.Status != from {
		return store.ErrVersionConflict
	}
	doc.Status = to
	f.docs[id] = doc
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeStore) ReadContent(_ context.Context, id string) (store.Content, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Content{}, 0, store.ErrNotFound
	}
	return doc.Content.Clone(), doc.Version, nil
}

func (f *fakeStore) PatchSection(_ context.Context, id, sectionID, content string, _ int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	doc.Content = doc.Content.Clone()
	for i := range doc.Content.Sections {
		if doc.Content.Sections[i].ID != sectionID {
			continue
		}
		if !doc.Content.Sections[i].Editable {
			return 0, store.ErrSectionFixed
		}
		doc.Content.Sections[i].Content = content
		doc.Version++
		if doc.Status == StatusDraft {
			doc.Status = StatusInProgress
		}
		f.docs[id] = doc
		return doc.Version, nil
	}
	return 0, store.ErrSectionNotFound
}

func (f *fakeStore) WriteContent(_ context.Context, id string, content store.Content, expectedVersion int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	if doc.Version != expectedVersion {
		return 0, store.ErrVersionConflict
	}
	doc.Content = content.Clone()
	doc.Version++
	f.docs[id] = doc
	return doc.Version, nil
}

func (f *fakeStore) InsertAuditEvent(_ context.Context, event store.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.audits) + 1)
	f.audits = append(f.audits, event)
	return nil
}

func (f *fakeStore) ListAuditEvents(_ context.Context, id string, limit int) ([]store.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.AuditEvent, 0)
	for i := len(f.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if f.audits[i].DocumentID == id {
			out = append(out, f.audits[i])
		}
	}
	return out, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[hash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) actions(documentID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, event := range f.audits {
		if event.DocumentID == documentID {
			out = append(out, event.Action)
		}
	}
	return out
}

type scriptedProvider struct {
	output string
	err    error
}

func (p scriptedProvider) Name() string { return "scripted" }

func (p scriptedProvider) Generate(context.Context, ai.Request) (string, error) {
	return p.output, p.err
}

type providerMap map[string]ai.Provider

func (m providerMap) Get(name string) (ai.Provider, bool) {
	if name == "" {
		name = "default"
	}
	p, ok := m[name]
	return p, ok
}

type testEnv struct {
	store   *fakeStore
	locks   *locks.Store
	history *history.Service
	service *Service
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fs := newFakeStore()
	lockStore := locks.NewStore(client, time.Minute)
	snapshots := history.New(t.TempDir())
	editorSvc := editor.NewService(fs, lockStore, nil, zerolog.Nop()).WithHistory(snapshots)
	providers := providerMap{
		"default": scriptedProvider{output: "<p>Texto gerado</p>"},
		"limited": scriptedProvider{err: &ai.Error{Category: ai.CategoryRateLimited, Provider: "limited", Status: 429, Err: errors.New("slow down")}},
	}
	gen := generation.NewService(fs, editorSvc, providers, zerolog.Nop())
	editorSvc.WithGenerationGuard(gen)

	cfg := config.Config{JWTSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	svc := New(cfg, Deps{
		Store:      fs,
		Passwords:  authpw.NewService(fs).WithCost(bcrypt.MinCost),
		Editor:     editorSvc,
		Generation: gen,
		History:    snapshots,
		Export:     export.NewService(fs, snapshots),
		Checks:     []HealthCheck{{Name: "redis", Ping: lockStore.Ping}},
		Logger:     zerolog.Nop(),
	})
	server := NewHTTPServer(svc, nil, zerolog.Nop())
	return &testEnv{store: fs, locks: lockStore, history: snapshots, service: svc, handler: server.Handler()}
}

// addUser stores a user and returns a signed access token for it.
func (e *testEnv) addUser(t *testing.T, id, name, role, clearance string) string {
	t.Helper()
	if err := e.store.CreateUser(context.Background(), store.User{ID: id, DisplayName: name, Email: id + "@example.gov", Role: role, Clearance: clearance}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := auth.IssueToken([]byte("test-secret"), auth.NewClaims(id, name, role, clearance, "jti-"+id, time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}
