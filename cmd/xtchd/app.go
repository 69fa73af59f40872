package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xtchd/xtchd/internal/alert"
	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/config"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/pgstore"
	"github.com/xtchd/xtchd/internal/sqlitestore"
	"github.com/xtchd/xtchd/internal/storage"
	"github.com/xtchd/xtchd/internal/writer"
)

type chainEnvelope = chain.Envelope[content.Record]

// chainStore is what the commands need from either backend.
type chainStore interface {
	writer.Store
	Rows(ctx context.Context, table string, fromID int32, limit int) ([]chainEnvelope, error)
	Row(ctx context.Context, table string, id int32) (chainEnvelope, error)
	RowsWhere(ctx context.Context, table, column string, value any) ([]chainEnvelope, error)
	Latest(ctx context.Context, table string, limit int) ([]chainEnvelope, error)
	Count(ctx context.Context, table string) (int64, error)
	Migrate(ctx context.Context) error
	Close() error
}

// app is the process wiring shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  chainStore
	alerts *alert.Manager
}

func setup(ctx context.Context, opts *options) (*app, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		alerts: alert.NewManager(cfg.Alerts.Enabled, cfg.Alerts.SlackWebhook),
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (chainStore, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := pgstore.Open(ctx, cfg.Database.ConnectionString(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		s, err := sqlitestore.Open(ctx, cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", "error", err)
	}
}

func (a *app) checkpoints() (*storage.Storage, error) {
	if err := os.MkdirAll(a.cfg.Node.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s, err := storage.New(filepath.Join(a.cfg.Node.DataDir, "checkpoints.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint storage: %w", err)
	}
	return s, nil
}

// writer starts a writer over the store. Stop it when done.
func (a *app) writer(ctx context.Context) (*writer.Writer, error) {
	w := writer.New(a.store, &writer.Config{
		MaxRetries:   a.cfg.Writer.MaxRetries,
		RetryBackoff: a.cfg.Writer.RetryBackoff,
		MaxBackoff:   a.cfg.Writer.MaxBackoff,
		Logger:       a.logger,
	})
	w.SetAlerter(a.alerts)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
