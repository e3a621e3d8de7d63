package internal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/starford/tariffsync/internal/audit"
	"github.com/starford/tariffsync/internal/fetch"
	"github.com/starford/tariffsync/internal/lock"
	"github.com/starford/tariffsync/internal/pipeline"
	"github.com/starford/tariffsync/internal/runservice"
	"github.com/starford/tariffsync/internal/storage"
	"github.com/starford/tariffsync/internal/store"
	"github.com/starford/tariffsync/internal/store/pgstore"
)

// runtime is the wired set of collaborators shared by every command.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	store   store.Store
	fetcher fetch.Fetcher
	closers []func() error
}

func newRuntime(ctx context.Context, opts []Option) (*runtime, error) {
	app := &application{logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger, store: app.store, fetcher: app.fetcher}

	if rt.store == nil {
		st, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		rt.store = st
		rt.closers = append(rt.closers, st.Close)
	}

	if rt.fetcher == nil {
		f, err := newFetcher(cfg.Source)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.fetcher = f
	}

	logger.Info("Configuration loaded",
		slog.String("store", cfg.Store.Driver),
		slog.String("source", cfg.Source.Kind),
		slog.String("codes", cfg.Codes.Path),
		slog.Int("batch_size", cfg.Pipeline.BatchSize),
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.Duration("freshness_window", cfg.Pipeline.FreshnessWindow),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return rt, nil
}

func openStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case StorePostgres:
		st, err := pgstore.Open(ctx, cfg.Postgres.DSN, int(cfg.Postgres.MaxConns))
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		return st, nil
	default:
		st, err := store.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		return st, nil
	}
}

func newFetcher(cfg SourceConfig) (fetch.Fetcher, error) {
	switch cfg.Kind {
	case SourceHTTP:
		f, err := fetch.NewHTTPFetcher(&http.Client{}, cfg.BaseURL, cfg.UserAgent, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("init source: %w", err)
		}
		return f, nil
	default:
		fs, err := storage.NewFS(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init source: %w", err)
		}
		return fetch.NewFileFetcher(fs), nil
	}
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

func (rt *runtime) pipeline(sink audit.Sink) *pipeline.Pipeline {
	p := rt.cfg.Pipeline
	return pipeline.New(rt.store, rt.fetcher, rt.logger,
		pipeline.WithFetchPolicy(fetch.Policy{
			MaxAttempts: p.RetryAttempts,
			BaseDelay:   p.BackoffBase,
			MaxDelay:    p.BackoffMax,
			CallTimeout: p.FetchTimeout,
		}),
		pipeline.WithCommitRetry(p.CommitAttempts, p.BackoffBase, p.BackoffMax),
		pipeline.WithSink(sink),
	)
}

func (rt *runtime) locker(ctx context.Context) (lock.Locker, error) {
	if !rt.cfg.Redis.Enabled() {
		return lock.Nop{}, nil
	}
	l, err := lock.NewRedis(ctx, rt.cfg.Redis.URL, rt.cfg.Redis.Key, rt.cfg.Redis.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("init run lock: %w", err)
	}
	rt.closers = append(rt.closers, l.Close)
	return l, nil
}

// defaults are the configured run parameters.
func (rt *runtime) defaults(trigger string) pipeline.Params {
	p := rt.cfg.Pipeline
	return pipeline.Params{
		Window:    p.FreshnessWindow,
		BatchSize: p.BatchSize,
		Workers:   p.Workers,
		QueueSize: p.QueueSize,
		Trigger:   trigger,
	}
}

func (rt *runtime) runService(ctx context.Context, sink audit.Sink, trigger string) (*runservice.Service, error) {
	l, err := rt.locker(ctx)
	if err != nil {
		return nil, err
	}
	var codes runservice.CodeSource
	if rt.cfg.Codes.Path != "" {
		codes = runservice.FileCodes(rt.cfg.Codes.Path, rt.logger)
	}
	return runservice.NewService(rt.pipeline(sink), l, codes, rt.defaults(trigger), rt.logger), nil
}
