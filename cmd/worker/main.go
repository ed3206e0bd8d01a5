// Package main is the entrypoint for the CertHub certification worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mileusna/crontab"
	"github.com/modelforge/certhub/internal/cache"
	"github.com/modelforge/certhub/internal/certify"
	"github.com/modelforge/certhub/internal/config"
	"github.com/modelforge/certhub/internal/credentials"
	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/internal/queue"
	"github.com/modelforge/certhub/internal/store"
	"github.com/modelforge/certhub/internal/worker"
	"github.com/redis/go-redis/v9"
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
	slog.Info("config loaded",
		"queue", cfg.Queue.Name,
		"concurrency", cfg.Queue.Concurrency,
		"jobs_per_second", cfg.Queue.JobsPerSecond,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	redisCache := cache.NewRedisCache(client)
	broker := queue.NewRedisQueue(client, queue.Config{
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
	})

	pgStore := store.NewPostgresStore(pool)
	validator := certify.NewValidator(pgStore, cfg.Certify.Regions)
	updater := certify.NewStatusUpdater(pgStore)
	creds := credentials.NewStoreResolver(pgStore)
	eng := engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.Timeout)

	processor := certify.NewProcessor(validator, updater, eng, creds, cfg.Certify.PassThreshold)
	w := worker.New(broker, processor, updater, pgStore, redisCache, cfg.Queue)

	sweeper := worker.NewSweeper(pgStore, broker, updater, client, cfg.Queue.SweepAfter)
	ctab := crontab.New()
	if err := sweeper.Start(ctx, ctab); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	defer ctab.Shutdown()
	slog.Info("reconciliation sweep scheduled")

	slog.Info("worker started")
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker run: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
