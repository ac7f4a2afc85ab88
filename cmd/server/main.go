// Package main is the entrypoint for the tidyflow API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tidyflow/internal/ai"
	"github.com/kiranshivaraju/tidyflow/internal/api"
	"github.com/kiranshivaraju/tidyflow/internal/api/handler"
	mw "github.com/kiranshivaraju/tidyflow/internal/api/middleware"
	"github.com/kiranshivaraju/tidyflow/internal/api/response"
	"github.com/kiranshivaraju/tidyflow/internal/artifact"
	"github.com/kiranshivaraju/tidyflow/internal/cache"
	"github.com/kiranshivaraju/tidyflow/internal/config"
	"github.com/kiranshivaraju/tidyflow/internal/engine"
	"github.com/kiranshivaraju/tidyflow/internal/orchestrator"
	"github.com/kiranshivaraju/tidyflow/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"engine", cfg.Engine.Kind,
		"ai_provider", cfg.AI.Provider,
		"artifact_backend", cfg.Artifacts.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Artifact storage
	artifacts, err := newArtifactStore(cfg.Artifacts, pool)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	// 6. Stage engine
	eng, err := newEngine(cfg, artifacts)
	if err != nil {
		return fmt.Errorf("create stage engine: %w", err)
	}
	slog.Info("stage engine initialized", "engine", eng.Name())

	// 7. Orchestrator and sweeper
	pgStore := store.NewPostgresStore(pool)
	svc := orchestrator.New(pgStore, artifacts, eng,
		orchestrator.WithCache(redisCache, cfg.Redis.StatusCacheTTL),
		orchestrator.WithStageTimeout(cfg.Pipeline.StageTimeout),
		orchestrator.WithLogger(logger))

	sweeper := orchestrator.NewSweeper(svc, cfg.Pipeline.SweepInterval, cfg.Pipeline.Retention)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweeper.Run(sweepCtx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(cfg.Server.APIKeyHashes)
	if !auth.Enabled() {
		slog.Warn("no API keys configured, job endpoints are unauthenticated")
	}
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache, eng),
		Jobs:          handler.NewJobs(svc, cfg.Server.MaxUploadBytes),
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// HTTP first, then running pipelines, under one deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	stopSweep()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("pipelines interrupted at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newArtifactStore(cfg config.ArtifactConfig, pool *pgxpool.Pool) (artifact.Store, error) {
	switch cfg.Backend {
	case "postgres":
		return artifact.NewPostgresStore(pool), nil
	default:
		return artifact.NewFSStore(cfg.DataDir)
	}
}

func newEngine(cfg *config.Config, artifacts artifact.Store) (engine.Engine, error) {
	if cfg.Engine.Kind == "remote" {
		return engine.NewRemote(cfg.Engine.BaseURL, cfg.Engine.Token, cfg.Engine.Timeout), nil
	}
	suggester, err := ai.NewSuggester(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create suggester: %w", err)
	}
	slog.Info("suggester initialized", "provider", suggester.Name())
	return engine.NewLocal(artifacts, suggester), nil
}

// readiness is implemented by engines that run out of process.
type readiness interface {
	Ready(ctx context.Context) error
}

// healthHandler checks database, cache, and remote engine connectivity.
func healthHandler(s store.Store, c cache.Cache, eng engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if rd, ok := eng.(readiness); ok {
			checks["engine"] = "ok"
			if err := rd.Ready(r.Context()); err != nil {
				checks["engine"] = "degraded"
			}
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
