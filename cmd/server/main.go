// Package main is the entrypoint for the rowbatch API server.
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

	"github.com/prateeksaini/rowbatch/internal/api"
	"github.com/prateeksaini/rowbatch/internal/api/handler"
	mw "github.com/prateeksaini/rowbatch/internal/api/middleware"
	"github.com/prateeksaini/rowbatch/internal/api/response"
	"github.com/prateeksaini/rowbatch/internal/blob"
	"github.com/prateeksaini/rowbatch/internal/cache"
	"github.com/prateeksaini/rowbatch/internal/chunker"
	"github.com/prateeksaini/rowbatch/internal/config"
	"github.com/prateeksaini/rowbatch/internal/dispatch"
	"github.com/prateeksaini/rowbatch/internal/queue"
	"github.com/prateeksaini/rowbatch/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "data_dir", cfg.Pipeline.DataDir)

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
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache and queue
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	workQueue, err := queue.NewRedisQueue(cfg.Redis.URL, cfg.Worker)
	if err != nil {
		return fmt.Errorf("create work queue: %w", err)
	}
	defer workQueue.Close()

	// 5. Create artifact store
	blobs, err := blob.NewFSStore(cfg.Pipeline.DataDir)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	// 6. Wire the job service
	pgStore := store.NewPostgresStore(pool)
	split := chunker.New(blobs, cfg.Pipeline)
	jobs := dispatch.NewService(pgStore, workQueue, redisCache, blobs, split)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler:    healthHandler(pgStore, redisCache, workQueue),
		CreateJobHandler: handler.NewCreateJobHandler(jobs, cfg.Pipeline.MaxUploadBytes),
		JobStatusHandler: handler.NewJobStatusHandler(jobs),
		CancelJobHandler: handler.NewCancelJobHandler(jobs),
		DownloadHandler:  handler.NewDownloadHandler(jobs),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache and queue connectivity.
func healthHandler(s store.Store, c cache.Cache, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := q.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		for _, status := range checks {
			if status != "ok" {
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
