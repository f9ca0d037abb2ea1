// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/opendevdata/harvester/internal/archive"
	"github.com/opendevdata/harvester/internal/clock"
	"github.com/opendevdata/harvester/internal/config"
	"github.com/opendevdata/harvester/internal/database"
	"github.com/opendevdata/harvester/internal/fetch"
	"github.com/opendevdata/harvester/internal/logging"
	"github.com/opendevdata/harvester/internal/queue"
	"github.com/opendevdata/harvester/internal/sources"
	"github.com/opendevdata/harvester/internal/workflows"
)

// App holds the shared services built once at startup: the logger, the
// Postgres client, the task queue, the raw-payload archive, the fetch
// client, and the workflow registry.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	DB       database.Client
	Queue    queue.Client
	Archive  archive.Store
	Fetch    *fetch.Client
	Registry *workflows.Registry
	Clock    clock.Clock
}

// New builds every service from the configuration. It fails fast: any
// service that cannot be initialized aborts startup.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.NewPostgresClient(ctx, database.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxTaskRetries:  cfg.Tasks.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	q, err := newQueue(ctx, cfg.Queue)
	if err != nil {
		db.Close()
		return nil, err
	}

	store, err := newArchive(ctx, cfg.Archive)
	if err != nil {
		db.Close()
		_ = q.Close()
		return nil, err
	}

	fetchClient := fetch.New(fetch.Config{
		Timeout:        cfg.FetchTimeout(),
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		BackoffInitial: cfg.FetchBackoffInitial(),
		BackoffMax:     cfg.FetchBackoffMax(),
		PerHostRPS:     cfg.Fetch.PerHostRPS,
		UserAgents:     cfg.Fetch.UserAgents,
	}, logger)

	registry := workflows.NewRegistry()
	sources.Register(registry)

	logger.Info("application services initialized",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Strings("sources", registry.Sources()),
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Queue:    q,
		Archive:  store,
		Fetch:    fetchClient,
		Registry: registry,
		Clock:    clock.NewSystem(),
	}, nil
}

// Deps bundles the services the workflow envelope needs.
func (a *App) Deps() workflows.Deps {
	return workflows.Deps{
		DB:      a.DB,
		Queue:   a.Queue,
		Fetch:   a.Fetch,
		Archive: a.Archive,
		Logger:  a.Logger,
	}
}

// Close releases every service. Safe to call once after use.
func (a *App) Close() {
	if err := a.Queue.Close(); err != nil {
		a.Logger.Warn("closing queue", zap.Error(err))
	}
	if err := a.Archive.Close(); err != nil {
		a.Logger.Warn("closing archive", zap.Error(err))
	}
	a.DB.Close()
	_ = a.Logger.Sync()
}

func newQueue(ctx context.Context, cfg config.QueueConfig) (queue.Client, error) {
	switch cfg.Backend {
	case "pubsub":
		q, err := queue.NewPubSubClient(ctx, cfg.ProjectID, cfg.TopicPrefix, cfg.SubscriptionPrefix)
		if err != nil {
			return nil, fmt.Errorf("init pubsub queue: %w", err)
		}
		return q, nil
	case "memory":
		return queue.NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Backend)
	}
}

func newArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Store, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := archive.NewGCSStore(client, cfg.GCSBucket, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	case "local":
		store, err := archive.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case "none":
		return &archive.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}
