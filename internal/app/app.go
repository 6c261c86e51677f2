package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/material-scraper/internal/config"
	"github.com/maltedev/material-scraper/internal/database"
	"github.com/maltedev/material-scraper/internal/events"
	"github.com/maltedev/material-scraper/internal/fetch"
	"github.com/maltedev/material-scraper/internal/jobs"
	"github.com/maltedev/material-scraper/internal/metrics"
	"github.com/maltedev/material-scraper/internal/pipeline"
	"github.com/maltedev/material-scraper/internal/storage"
)

// App holds the components shared by the CLI and the API server.
type App struct {
	Config       *config.Config
	Metrics      *metrics.Collector
	Orchestrator *pipeline.Orchestrator
	Store        *storage.RecordStore
	Jobs         *jobs.Manager

	// DB and Redis are nil unless enabled in the configuration.
	DB    *database.DB
	Redis *redis.Client

	logger *slog.Logger
}

type Option func(*options)

type options struct {
	client fetch.Doer
}

// WithHTTPClient replaces the supplier HTTP client.
func WithHTTPClient(client fetch.Doer) Option {
	return func(o *options) { o.client = client }
}

// New wires every component described by cfg. Database and Redis are
// connected only when enabled; a failed connection is fatal.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	defs, err := cfg.SupplierDefinitions()
	if err != nil {
		return nil, fmt.Errorf("invalid supplier configuration: %w", err)
	}

	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  logger,
	}

	observer := fetch.MultiObserver{fetch.NewLogObserver(logger), a.Metrics}
	fetcher := fetch.New(o.client, cfg.FetchOptions(), observer, logger)

	a.Orchestrator = pipeline.New(defs, pipeline.Dependencies{
		Fetcher:  fetcher,
		Recorder: a.Metrics,
		Logger:   logger,
	})

	a.Store, err = storage.NewRecordStore(cfg.Output.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	deps := jobs.Dependencies{
		Scraper: a.Orchestrator,
		Records: a.Store,
		Metrics: a.Metrics,
		Logger:  logger,
	}

	if cfg.Database.Enabled {
		a.DB, err = database.New(ctx, database.Config{DSN: cfg.Database.DSN(), MaxConns: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := a.DB.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		deps.Runs = database.NewMaterialRepository(a.DB, cfg.Redis.Stream)
		logger.Info("database enabled", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
	}

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		if deps.Runs == nil {
			deps.Publisher = events.NewPublisher(a.Redis, cfg.Redis.Stream, logger)
		}
		logger.Info("redis enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	}

	a.Jobs = jobs.NewManager(cfg.PipelineOptions(), deps)
	return a, nil
}

// Relay returns the outbox relay, or nil when the database or Redis is
// disabled.
func (a *App) Relay(cfg database.RelayConfig) *database.Relay {
	if a.DB == nil || a.Redis == nil {
		return nil
	}
	return database.NewRelay(a.DB, a.Redis, a.logger, cfg)
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
