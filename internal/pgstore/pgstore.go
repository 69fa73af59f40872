// Package pgstore is the PostgreSQL chain store. Each chained table carries
// a CHECK constraint that recomputes the row hash inside the database, so a
// row the application computed wrongly is refused at insert time.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects a pool to the database named by connString, a libpq
// keyword/value string or a postgres:// URL.
func Open(ctx context.Context, connString string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates every chained table with its constraints and triggers.
// It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := Schema()
	if err != nil {
		return fmt.Errorf("failed to render schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Schema applied", "driver", "postgres")
	return nil
}
