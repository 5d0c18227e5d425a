package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sgid/api/internal/auth"
	"sgid/api/internal/authpw"
	"sgid/api/internal/config"
	"sgid/api/internal/editor"
	"sgid/api/internal/export"
	"sgid/api/internal/files"
	"sgid/api/internal/generation"
	"sgid/api/internal/rag"
	"sgid/api/internal/rbac"
	"sgid/api/internal/search"
	"sgid/api/internal/store"
	"sgid/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	Clearance    string
	JTI          string
	External     bool
	ExpiresAt    time.Time
}

func (s Session) actor() editor.Actor {
	return editor.Actor{ID: s.UserID, Name: s.UserName}
}

type dataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	UpdateUserAccess(context.Context, string, string, string) error

	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjects(context.Context) ([]store.Project, error)
	UpdateProject(context.Context, string, string, string) error
	DeleteProject(context.Context, string) error

	InsertTemplate(context.Context, store.Template) error
	UpdateTemplate(context.Context, store.Template) error
	GetTemplate(context.Context, string) (store.Template, error)
	ListTemplates(context.Context, string) ([]store.Template, error)
	DeleteTemplate(context.Context, string) error

	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context, string) ([]store.Document, error)
	UpdateDocumentMeta(context.Context, string, string, string) error
	UpdateDocumentStatus(context.Context, string, string, string) error
	DeleteDocument(context.Context, string) error

	InsertAuditEvent(context.Context, store.AuditEvent) error
	ListAuditEvents(context.Context, string, int) ([]store.AuditEvent, error)
}

// sessionStore is implemented by both PostgresStore and session.RedisStore.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type passwordService interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, string, string) (store.User, error)
	ChangePassword(context.Context, string, string, string) error
}

type externalVerifier interface {
	Verify(raw string) (auth.ExternalClaims, error)
}

type historyService interface {
	EnsureRepo(string, store.Content, string) error
	History(string, int) ([]store.CommitInfo, error)
	ContentAt(string, string) (store.Content, store.CommitInfo, error)
	Tag(string, string) error
}

// editorService is the section editing backend plus whole-document restore.
type editorService interface {
	editor.Backend
	Restore(context.Context, editor.Actor, string, store.Content, int64, string) (int64, error)
}

type generator interface {
	GenerateSection(context.Context, editor.Actor, string, string, string) (generation.Outcome, error)
	GenerateAll(context.Context, editor.Actor, string, string) ([]generation.Outcome, error)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	IndexTemplate(search.TemplateRecord)
	DeleteDocument(string)
	DeleteTemplate(string)
}

type objectStore interface {
	Put(context.Context, string, io.Reader, int64, string) error
	List(context.Context, string) ([]files.Object, error)
	Delete(context.Context, string) error
}

type contextBuilder interface {
	Build(context.Context, string) (rag.Result, error)
}

// HealthCheck is one dependency probed by /api/ready.
type HealthCheck struct {
	Name string
	Ping func(context.Context) error
}

// Deps wires the service. Sessions defaults to Store when nil; Files, RAG,
// External and Generation are optional.
type Deps struct {
	Store      dataStore
	Sessions   sessionStore
	Passwords  passwordService
	External   externalVerifier
	Editor     editorService
	Generation generator
	History    historyService
	Export     exporter
	Search     searcher
	Files      objectStore
	RAG        contextBuilder
	Checks     []HealthCheck
	Logger     zerolog.Logger
}

type Service struct {
	cfg        config.Config
	logger     zerolog.Logger
	store      dataStore
	sessions   sessionStore
	passwords  passwordService
	external   externalVerifier
	editor     editorService
	generation generator
	history    historyService
	exporter   exporter
	search     searcher
	files      objectStore
	rag        contextBuilder
	checks     []HealthCheck
	now        func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Search == nil {
		deps.Search = search.NewService(nil, nil, deps.Logger)
	}
	sessions := deps.Sessions
	if sessions == nil {
		if fallback, ok := deps.Store.(sessionStore); ok {
			sessions = fallback
		}
	}
	return &Service{
		cfg:        cfg,
		logger:     deps.Logger.With().Str("component", "app").Logger(),
		store:      deps.Store,
		sessions:   sessions,
		passwords:  deps.Passwords,
		external:   deps.External,
		editor:     deps.Editor,
		generation: deps.Generation,
		history:    deps.History,
		exporter:   deps.Export,
		search:     deps.Search,
		files:      deps.Files,
		rag:        deps.RAG,
		checks:     append([]HealthCheck{{Name: "database", Ping: deps.Store.Ping}}, deps.Checks...),
		now:        time.Now,
	}
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ready probes every dependency and reports per-check status.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	checks := make(map[string]any, len(s.checks))
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			ok = false
			checks[check.Name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[check.Name] = map[string]any{"status": "ok"}
	}
	return ok, checks
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (store.User, error) {
	if err := validateSignUp(email, password, displayName); err != nil {
		return store.User{}, err
	}
	return s.passwords.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	jti := util.NewID("jti")
	claims := auth.NewClaims(user.ID, user.DisplayName, user.Role, user.Clearance, jti, now, s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		Clearance:    user.Clearance,
		JTI:          jti,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// SessionFromToken accepts our own HS256 access tokens and, when a JWKS
// verifier is configured, tokens from the external identity provider.
// Role and clearance always come from the user row.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		if s.external == nil || errors.Is(err, auth.ErrExpiredToken) {
			return Session{}, err
		}
		return s.externalSession(ctx, token, err)
	}

	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		Clearance: user.Clearance,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) externalSession(ctx context.Context, token string, localErr error) (Session, error) {
	claims, err := s.external.Verify(token)
	if err != nil {
		return Session{}, localErr
	}

	user, err := s.store.GetUserByEmail(ctx, claims.Email)
	if errors.Is(err, store.ErrNotFound) {
		name := strings.TrimSpace(claims.Name)
		if name == "" {
			name = claims.Email
		}
		user = store.User{
			ID:          util.NewID("usr"),
			DisplayName: name,
			Email:       strings.ToLower(claims.Email),
			Role:        string(rbac.RoleViewer),
			Clearance:   string(rbac.LevelPublic),
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return Session{}, err
		}
		s.logger.Info().Str("user_id", user.ID).Str("subject", claims.Subject).Msg("provisioned external user")
	} else if err != nil {
		return Session{}, err
	}

	session := Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		Clearance: user.Clearance,
		External:  true,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ChangePassword also drops every refresh session of the user when the
// session backend can enumerate them.
func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	if session.External {
		return domainError(http.StatusConflict, "EXTERNAL_ACCOUNT", "Password is managed by the identity provider", nil)
	}
	if err := s.passwords.ChangePassword(ctx, session.UserID, current, next); err != nil {
		return err
	}
	if revoker, ok := s.sessions.(interface {
		RevokeAllForUser(context.Context, string) (int, error)
	}); ok {
		if _, err := revoker.RevokeAllForUser(ctx, session.UserID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", session.UserID).Msg("revoke refresh sessions")
		}
	}
	return nil
}

func (s *Service) Me(ctx context.Context, session Session) (userView, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return userView{}, err
	}
	return newUserView(user), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]userView, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]userView, 0, len(users))
	for _, user := range users {
		out = append(out, newUserView(user))
	}
	return out, nil
}

// UpdateUserAccess lets an admin change a user's role and clearance. An
// admin cannot demote themselves.
func (s *Service) UpdateUserAccess(ctx context.Context, session Session, userID, role, clearance string) (userView, error) {
	if err := validateUserAccess(role, clearance); err != nil {
		return userView{}, err
	}
	if userID == session.UserID && role != string(rbac.RoleAdmin) {
		return userView{}, domainError(http.StatusConflict, "SELF_DEMOTION", "Admins cannot remove their own admin role", nil)
	}
	if err := s.store.UpdateUserAccess(ctx, userID, role, clearance); err != nil {
		return userView{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return userView{}, err
	}
	return newUserView(user), nil
}
