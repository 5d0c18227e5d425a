package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"sgid/api/internal/ai"
	"sgid/api/internal/app"
	"sgid/api/internal/auth"
	"sgid/api/internal/authpw"
	"sgid/api/internal/config"
	"sgid/api/internal/editor"
	"sgid/api/internal/export"
	"sgid/api/internal/files"
	"sgid/api/internal/generation"
	"sgid/api/internal/history"
	"sgid/api/internal/locks"
	"sgid/api/internal/logging"
	"sgid/api/internal/rag"
	"sgid/api/internal/realtime"
	"sgid/api/internal/search"
	"sgid/api/internal/session"
	"sgid/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "json", os.Stderr)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if len(applied) > 0 {
		logger.Info().Strs("versions", applied).Msg("applied migrations")
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.HistoryDir).Msg("create history dir")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Locks degrade to unguarded saves while Redis is down.
		logger.Warn().Err(err).Msg("redis unreachable at startup")
	}

	pgStore := store.NewPostgresStore(db)
	lockStore := locks.NewStore(redisClient, cfg.LockTTL)
	notifier := locks.NewNotifier(redisClient, logger)
	sessions := session.NewRedisStoreWithClient(redisClient)
	snapshots := history.New(cfg.HistoryDir)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), logger)
	go searchService.ReindexAllFromPG(ctx)

	providers, err := ai.NewRegistry(cfg.AIProviders, cfg.AIDefault)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure ai providers")
	}
	if names := providers.Names(); len(names) > 0 {
		logger.Info().Strs("providers", names).Str("default", cfg.AIDefault).Msg("ai providers configured")
	} else {
		logger.Warn().Msg("no ai provider configured, generation disabled")
	}

	editorService := editor.NewService(pgStore, lockStore, notifier, logger).WithHistory(snapshots)
	generator := generation.NewService(pgStore, editorService, providers, logger)
	editorService.WithGenerationGuard(generator)

	checks := []app.HealthCheck{
		{Name: "redis", Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}
	if meili != nil {
		checks = append(checks, app.HealthCheck{Name: "meilisearch", Ping: func(context.Context) error {
			if !meili.Healthy() {
				return errors.New("meilisearch unhealthy")
			}
			return nil
		}})
	}

	deps := app.Deps{
		Store:      pgStore,
		Sessions:   sessions,
		Passwords:  authpw.NewService(pgStore),
		Editor:     editorService,
		Generation: generator,
		History:    snapshots,
		Export:     export.NewService(pgStore, snapshots),
		Search:     searchService,
		Checks:     checks,
		Logger:     logger,
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := files.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatal().Err(err).Msg("configure object storage")
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", cfg.MinioBucket).Msg("ensure knowledge bucket")
		}
		deps.Files = objects
		if provider, ok := providers.Default(); ok {
			deps.RAG = rag.NewBuilder(objects, pgStore, provider, logger)
		}
	}

	if strings.TrimSpace(cfg.JWKSURL) != "" {
		verifier, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.JWKSURL).Msg("load jwks")
		}
		deps.External = verifier
	}

	service := app.New(cfg, deps)
	socket := realtime.NewHandler(editorService, notifier, generator, editor.Options{
		SaveDebounce:    cfg.SaveDebounce,
		RecentlyUpdated: cfg.RecentlyUpdatedDelay,
		LockTTL:         cfg.LockTTL,
	}, originChecker(cfg.CORSOrigins), logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: !allowsAny(cfg.CORSOrigins),
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsHandler.Handler(app.NewHTTPServer(service, socket, logger).Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Exports render through headless Chrome and pandoc.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("SGID API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("SGID API stopped")
}

func allowsAny(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return len(origins) == 0
}

// originChecker applies the CORS origin list to websocket handshakes.
func originChecker(origins []string) func(*http.Request) bool {
	if allowsAny(origins) {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		allowed[strings.TrimRight(origin, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
