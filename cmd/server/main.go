// Package main is the entrypoint for the CertHub API server.
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

	"github.com/modelforge/certhub/internal/api"
	"github.com/modelforge/certhub/internal/api/handler"
	mw "github.com/modelforge/certhub/internal/api/middleware"
	"github.com/modelforge/certhub/internal/api/response"
	"github.com/modelforge/certhub/internal/cache"
	"github.com/modelforge/certhub/internal/certify"
	"github.com/modelforge/certhub/internal/config"
	"github.com/modelforge/certhub/internal/credentials"
	"github.com/modelforge/certhub/internal/engine"
	"github.com/modelforge/certhub/internal/queue"
	"github.com/modelforge/certhub/internal/store"
	"github.com/redis/go-redis/v9"
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
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "queue", cfg.Queue.Name)

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

	// 4. Connect to redis, shared by the cache and the broker
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

	// 5. Build domain services
	pgStore := store.NewPostgresStore(pool)
	validator := certify.NewValidator(pgStore, cfg.Certify.Regions)
	updater := certify.NewStatusUpdater(pgStore)
	creds := credentials.NewStoreResolver(pgStore)
	eng := engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.Timeout)

	creator := certify.NewCreator(pgStore, broker, validator)
	status := certify.NewStatusQuery(pgStore, broker, redisCache, validator)
	orchestrator := certify.NewOrchestrator(pgStore, validator, updater, eng, creds,
		cfg.Certify.Freshness, cfg.Certify.PassThreshold)

	// 6. Build router with dependencies
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler:       healthHandler(pgStore, redisCache),
		CertifyHandler:      handler.NewCertifyHandler(creator),
		CertifyBatchHandler: handler.NewCertifyBatchHandler(creator),
		CertifyAllHandler:   handler.NewCertifyAllHandler(creator),
		JobStatusHandler:    handler.NewJobStatusHandler(status),
		CancelJobHandler:    handler.NewCancelJobHandler(status),
		RunHandler:          handler.NewRunHandler(orchestrator),
		VendorRunHandler:    handler.NewVendorRunHandler(orchestrator),
		StreamHandler:       handler.NewStreamHandler(orchestrator),
		ModelCertsHandler:   handler.NewModelCertificationsHandler(status),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Engine.Timeout + 30*time.Second, // streams run a full certification
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and redis connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"redis":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["redis"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["redis"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
