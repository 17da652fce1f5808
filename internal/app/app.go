// Package app wires configuration, storage, providers and the blocking
// engine together. Nothing in it is process-global: every App owns its
// database handle.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bobuk/calblock/internal/blocking"
	"github.com/bobuk/calblock/internal/config"
	"github.com/bobuk/calblock/internal/provider"
	"github.com/bobuk/calblock/internal/storage"
	relstore "github.com/bobuk/calblock/internal/storage/blocking"
	"github.com/bobuk/calblock/internal/storage/events"
	"github.com/bobuk/calblock/internal/storage/tokens"
	"github.com/bobuk/calblock/internal/storage/uow"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Tokens    *tokens.SQLiteStore
	Providers *provider.Factory
	Engine    *blocking.Engine
	Registry  *prometheus.Registry
}

// New opens and migrates the database and builds the engine. Extra factory
// options are applied after the defaults.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...provider.FactoryOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := storage.InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	evs := events.NewSQLiteStore(db)
	toks := tokens.NewSQLiteStore(db)
	factory := provider.NewFactory(cfg, evs, toks, append([]provider.FactoryOption{
		provider.WithLogger(logger),
	}, opts...)...)

	reg := prometheus.NewRegistry()
	engine := blocking.New(evs, relstore.NewSQLiteStore(db), uow.NewSQLTransactor(db), factory, blocking.Options{
		TitlePrefix: cfg.Blocking.TitlePrefix,
		FanOut:      cfg.Blocking.FanOut,
		Logger:      logger,
		Metrics:     blocking.NewMetrics(reg),
	})

	logger.Debug("database ready", slog.String("path", cfg.DatabasePath()), slog.Int("schema_version", storage.SchemaVersion()))
	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Tokens:    toks,
		Providers: factory,
		Engine:    engine,
		Registry:  reg,
	}, nil
}

// WriteMetrics writes the engine metrics to path in the Prometheus text
// format, for the node exporter textfile collector.
func (a *App) WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, a.Registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
