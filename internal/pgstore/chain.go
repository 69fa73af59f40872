package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

func lookup(table string) (*content.Class, error) {
	c, ok := content.ByTable(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	return c, nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readHead(ctx context.Context, q queryer, table string, forUpdate bool) (chain.Head, error) {
	query := "SELECT head_id, head_sha256 FROM chain_heads WHERE table_name = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		id     *int32
		digest string
	)
	err := q.QueryRow(ctx, query, table).Scan(&id, &digest)
	if errors.Is(err, pgx.ErrNoRows) {
		return chain.GenesisHead(), nil
	}
	if err != nil {
		return chain.Head{}, err
	}
	if id == nil {
		return chain.Head{Empty: true, Hash: digest}, nil
	}
	return chain.Head{ID: *id, Hash: digest}, nil
}

// Head reads the chain head record of table. A table that was never
// appended to has the genesis head.
func (s *Store) Head(ctx context.Context, table string) (chain.Head, error) {
	if _, err := lookup(table); err != nil {
		return chain.Head{}, err
	}
	head, err := readHead(ctx, s.pool, table, false)
	if err != nil {
		return chain.Head{}, classify("read chain head", table, -1, err)
	}
	return head, nil
}

// Append runs fn against the locked chain head of table and stores the row
// it returns. The head row stays locked until commit, so appends from other
// processes queue behind this one.
func (s *Store) Append(ctx context.Context, table string, fn chain.AppendFunc) (chain.Envelope[content.Record], error) {
	class, err := lookup(table)
	if err != nil {
		return chain.Envelope[content.Record]{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return chain.Envelope[content.Record]{}, classify("begin append", table, -1, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"INSERT INTO chain_heads (table_name, head_id, head_sha256) VALUES ($1, NULL, $2) ON CONFLICT (table_name) DO NOTHING",
		table, hash.Genesis,
	); err != nil {
		return chain.Envelope[content.Record]{}, classify("create chain head", table, -1, err)
	}

	head, err := readHead(ctx, tx, table, true)
	if err != nil {
		return chain.Envelope[content.Record]{}, classify("lock chain head", table, -1, err)
	}

	env, err := fn(head)
	if err != nil {
		return chain.Envelope[content.Record]{}, err
	}

	if _, err := tx.Exec(ctx, insertSQL(class), insertArgs(env)...); err != nil {
		return chain.Envelope[content.Record]{}, classify("insert row", table, env.ID(), err)
	}

	tag, err := tx.Exec(ctx,
		"UPDATE chain_heads SET head_id = $1, head_sha256 = $2 WHERE table_name = $3 AND head_sha256 = $4",
		env.ID(), env.NewHash, table, head.Hash,
	)
	if err != nil {
		return chain.Envelope[content.Record]{}, classify("advance chain head", table, env.ID(), err)
	}
	if tag.RowsAffected() != 1 {
		return chain.Envelope[content.Record]{}, chain.NewTransientError("advance chain head",
			fmt.Errorf("chain head of %s moved during append", table))
	}

	if err := tx.Commit(ctx); err != nil {
		return chain.Envelope[content.Record]{}, classify("commit append", table, env.ID(), err)
	}
	return env, nil
}

func insertSQL(c *content.Class) string {
	cols := append([]string{"prior_id"}, c.ColumnNames()...)
	cols = append(cols, "prior_sha256", "write_timestamp", "new_sha256")

	params := make([]string, len(cols))
	for i := range cols {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	// Dates travel as text so the driver needs no knowledge of content.Date.
	for i, col := range c.Columns {
		if col.Type == content.DateColumn {
			params[i+1] += "::text::date"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", c.Table, strings.Join(cols, ", "), strings.Join(params, ", "))
}

func insertArgs(env chain.Envelope[content.Record]) []any {
	var prior any
	if env.PriorID != nil {
		prior = *env.PriorID
	}
	args := append([]any{prior}, env.Content.Values()...)
	return append(args, env.PriorHash, env.Link.WriteTimestamp.UTC(), env.NewHash)
}
