// Package main is the entrypoint for the rowbatch chunk worker. It runs the
// consumer pool and the retention sweeper in one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prateeksaini/rowbatch/internal/blob"
	"github.com/prateeksaini/rowbatch/internal/cache"
	"github.com/prateeksaini/rowbatch/internal/config"
	"github.com/prateeksaini/rowbatch/internal/queue"
	"github.com/prateeksaini/rowbatch/internal/store"
	"github.com/prateeksaini/rowbatch/internal/sweeper"
	"github.com/prateeksaini/rowbatch/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "concurrency", cfg.Worker.Concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

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

	blobs, err := blob.NewFSStore(cfg.Pipeline.DataDir)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	proc := worker.NewProcessor(pgStore, redisCache, blobs, worker.PassthroughRule{}, cfg.Worker.CancelPollRows)
	consumer := worker.NewConsumer(workQueue, proc, cfg.Worker)
	sweep := sweeper.New(pgStore, redisCache, blobs, cfg.Retention)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweep.Run(ctx)
	}()

	slog.Info("worker running", "queue", cfg.Worker.QueueName)
	<-ctx.Done()
	slog.Info("shutdown signal received, draining workers...")

	wg.Wait()
	slog.Info("worker stopped gracefully")
	return nil
}
