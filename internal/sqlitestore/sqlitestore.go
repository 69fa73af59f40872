// Package sqlitestore is the embedded chain store. The hash CHECK
// constraints call sha256_hex, a deterministic SQL function registered with
// the driver when this package is loaded.
package sqlitestore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"modernc.org/sqlite"
)

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction("sha256_hex", 1, sha256Hex); err != nil {
		panic(fmt.Sprintf("sqlitestore: register sha256_hex: %v", err))
	}
}

func sha256Hex(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var data []byte
	switch v := args[0].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case nil:
		return nil, nil
	default:
		data = []byte(fmt.Sprint(v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the database at path, or a private in-memory database when
// path is ":memory:" or empty. A single connection is kept so that appends
// are serialized and in-memory databases are shared by every query.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path
	if dsn == "" || dsn == ":memory:" {
		dsn = ":memory:"
	} else if !strings.Contains(dsn, "?") {
		dsn += "?_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=10000",
	}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates every chained table, its constraints and triggers.
// It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := Schema()
	if err != nil {
		return fmt.Errorf("failed to render schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Schema applied", "driver", "sqlite")
	return nil
}
