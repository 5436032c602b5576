// Package main is the entrypoint for the vehicle folders retrieval API server.
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

	"github.com/kiranshivaraju/vehiclefolders/internal/api"
	"github.com/kiranshivaraju/vehiclefolders/internal/api/handler"
	mw "github.com/kiranshivaraju/vehiclefolders/internal/api/middleware"
	"github.com/kiranshivaraju/vehiclefolders/internal/api/response"
	"github.com/kiranshivaraju/vehiclefolders/internal/automation"
	"github.com/kiranshivaraju/vehiclefolders/internal/cache"
	"github.com/kiranshivaraju/vehiclefolders/internal/config"
	"github.com/kiranshivaraju/vehiclefolders/internal/retrieval"
	"github.com/kiranshivaraju/vehiclefolders/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	readyTimeout    = 2 * time.Second
)

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
	slog.Info("config loaded", "automation_base_url", cfg.Automation.BaseURL, "env", cfg.Server.Env)

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

	// 5. Automation service client. It may come up after us, so readiness only warns.
	client := automation.NewHTTPClient(cfg.Automation.BaseURL, cfg.Automation.APIKey, cfg.Automation.Timeout)
	readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
	if err := client.Ready(readyCtx); err != nil {
		slog.Warn("automation service not ready", "error", err)
	}
	cancelReady()

	// 6. Store and orchestrator
	pgStore := store.NewPostgresStore(pool)
	orch := retrieval.NewOrchestrator(retrieval.Options{
		Jobs:    pgStore,
		Folders: pgStore,
		Client:  client,
		Cache:   redisCache,
		Logger:  slog.Default(),
	})

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler: healthHandler(pgStore, redisCache, client),

		StartRetrieval:   handler.NewStartRetrievalHandler(orch),
		FolderRetrievals: handler.NewFolderRetrievalsHandler(orch),
		LatestRetrieval:  handler.NewLatestRetrievalHandler(orch),
		GetRetrieval:     handler.NewGetRetrievalHandler(orch),
		RetrievalLogs:    handler.NewRetrievalLogsHandler(orch),
		RetrievalStatus:  handler.NewRetrievalStatusHandler(orch),
		Prefill:          handler.NewPrefillHandler(orch),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server. Synchronous runs hold the request for the whole
	// automation call, so the write timeout follows the automation timeout.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Automation.Timeout + 30*time.Second,
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

	// Background jobs must record their terminal state before the pool closes.
	if !waitFor(shutdownCtx, orch.Wait) {
		slog.Warn("retrieval jobs still running at shutdown")
	}

	slog.Info("server stopped gracefully")
	return nil
}

// waitFor runs wait and reports whether it returned before ctx ended.
func waitFor(ctx context.Context, wait func()) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

type readier interface {
	Ready(ctx context.Context) error
}

// healthHandler checks database and cache connectivity. The automation service is
// reported but does not degrade the server, since jobs record its failures.
func healthHandler(db, c pinger, automationSvc readier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database":   "ok",
			"cache":      "ok",
			"automation": "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if automationSvc != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			if err := automationSvc.Ready(ctx); err != nil {
				checks["automation"] = "unavailable"
			}
			cancel()
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
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
