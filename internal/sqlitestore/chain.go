package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

// timestampLayout keeps microseconds, the resolution hash.Now produces.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(timestampLayout)
}

func lookup(table string) (*content.Class, error) {
	c, ok := content.ByTable(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return c, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readHead(ctx context.Context, q queryer, table string) (chain.Head, error) {
	var (
		id     sql.NullInt32
		digest string
	)
	err := q.QueryRowContext(ctx,
		"SELECT head_id, head_sha256 FROM chain_heads WHERE table_name = ?", table,
	).Scan(&id, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.GenesisHead(), nil
	}
	if err != nil {
		return chain.Head{}, err
	}
	if !id.Valid {
		return chain.Head{Empty: true, Hash: digest}, nil
	}
	return chain.Head{ID: id.Int32, Hash: digest}, nil
}

// Head reads the chain head record of table. A table that was never
// appended to has the genesis head.
func (s *Store) Head(ctx context.Context, table string) (chain.Head, error) {
	if _, err := lookup(table); err != nil {
		return chain.Head{}, err
	}
	head, err := readHead(ctx, s.db, table)
	if err != nil {
		return chain.Head{}, classify("read chain head", table, -1, err)
	}
	return head, nil
}

func (s *Store) Append(ctx context.Context, table string, fn chain.AppendFunc) (chain.Envelope[content.Record], error) {
	class, err := lookup(table)
	if err != nil {
		return chain.Envelope[content.Record]{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chain.Envelope[content.Record]{}, classify("begin append", table, -1, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chain_heads (table_name, head_id, head_sha256) VALUES (?, NULL, ?) ON CONFLICT DO NOTHING",
		table, hash.Genesis,
	); err != nil {
		return chain.Envelope[content.Record]{}, classify("create chain head", table, -1, err)
	}

	head, err := readHead(ctx, tx, table)
	if err != nil {
		return chain.Envelope[content.Record]{}, classify("read chain head", table, -1, err)
	}

	env, err := fn(head)
	if err != nil {
		return chain.Envelope[content.Record]{}, err
	}

	if _, err := tx.ExecContext(ctx, insertSQL(class), insertArgs(env)...); err != nil {
		return chain.Envelope[content.Record]{}, classify("insert row", table, env.ID(), err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE chain_heads SET head_id = ?, head_sha256 = ? WHERE table_name = ? AND head_sha256 = ?",
		env.ID(), env.NewHash, table, head.Hash,
	)
	if err != nil {
		return chain.Envelope[content.Record]{}, classify("advance chain head", table, env.ID(), err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return chain.Envelope[content.Record]{}, chain.NewTransientError("advance chain head",
			fmt.Errorf("chain head of %s moved during append", table))
	}

	if err := tx.Commit(); err != nil {
		return chain.Envelope[content.Record]{}, classify("commit append", table, env.ID(), err)
	}
	return env, nil
}

func insertSQL(c *content.Class) string {
	cols := append([]string{"prior_id"}, c.ColumnNames()...)
	cols = append(cols, "prior_sha256", "write_timestamp", "new_sha256")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", c.Table, strings.Join(cols, ", "), marks)
}

func insertArgs(env chain.Envelope[content.Record]) []any {
	var prior any
	if env.PriorID != nil {
		prior = *env.PriorID
	}
	args := append([]any{prior}, env.Content.Values()...)
	return append(args, env.PriorHash, formatTimestamp(env.Link.WriteTimestamp), env.NewHash)
}
