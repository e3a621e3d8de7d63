// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tariffsync/internal/api"
	"github.com/starford/tariffsync/internal/export"
	"github.com/starford/tariffsync/internal/mcpserver"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/sse"
	"github.com/starford/tariffsync/internal/storage"
	"github.com/starford/tariffsync/internal/watch"
)

// Run starts the long-running server: status API, SSE events, metrics and,
// when enabled, the codes-file watcher.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg
	logger := rt.logger

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	g, gCtx := errgroup.WithContext(ctx)

	runs, err := rt.runService(ctx, broker, "serve")
	if err != nil {
		return err
	}
	defer runs.Wait()

	apiRouter := api.NewRouter(api.Deps{
		Reader:      rt.store,
		Runs:        runs,
		RunContext:  gCtx,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.store.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// Re-run on codes file changes.
	if cfg.Watch.Enabled {
		g.Go(func() error {
			return watch.Watch(gCtx, cfg.Codes.Path, cfg.Watch.Debounce, logger, func(ctx context.Context) {
				if err := runs.Start(ctx, pipeline.Params{Trigger: "watch"}); err != nil {
					logger.Warn("watch-triggered run skipped", slog.String("error", err.Error()))
				}
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop the watcher and any background run; runs flush their open batch.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// Sync performs one run in the foreground and returns its summary. SIGINT
// and SIGTERM cancel the run gracefully. Zero fields of p fall back to the
// configured defaults.
func Sync(ctx context.Context, p pipeline.Params, opts ...Option) (models.Summary, error) {
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return models.Summary{}, err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runs, err := rt.runService(ctx, nil, "cli")
	if err != nil {
		return models.Summary{}, err
	}
	return runs.Run(ctx, p)
}

// ServeMCP serves the MCP tools on stdin/stdout until the client disconnects.
// Logs go to stderr.
func ServeMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	runs, err := rt.runService(ctx, nil, "mcp")
	if err != nil {
		return err
	}
	defer runs.Wait()

	return mcpserver.New(rt.store, runs, ctx).ServeStdio()
}

// Export writes every current record under dir (the configured export
// directory when empty).
func Export(ctx context.Context, dir string, opts ...Option) (export.Stats, error) {
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return export.Stats{}, err
	}
	defer rt.close()

	if dir == "" {
		dir = rt.cfg.Export.Dir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return export.Stats{}, fmt.Errorf("create export dir: %w", err)
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		return export.Stats{}, fmt.Errorf("init export storage: %w", err)
	}
	return export.Run(ctx, rt.store, fs, rt.logger)
}
