package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
)

// rowJSON renders a row as a flat JSON object so every table decodes
// through chain.DecodeStored.
func rowJSON(c *content.Class) string {
	pairs := []string{"'prior_id', prior_id"}
	for _, col := range c.Columns {
		pairs = append(pairs, fmt.Sprintf("'%s', %s", col.Name, col.Name))
	}
	pairs = append(pairs,
		"'prior_sha256', prior_sha256",
		"'write_timestamp', write_timestamp",
		"'new_sha256', new_sha256",
	)
	return "json_object(" + strings.Join(pairs, ", ") + ")"
}

// query returns the matching rows in order. A row that cannot be
// reconstructed ends the read with an integrity error; the rows before it
// are still returned.
func (s *Store) query(ctx context.Context, c *content.Class, where, order string, args ...any) ([]chain.Envelope[content.Record], error) {
	q := fmt.Sprintf("SELECT %s FROM %s", rowJSON(c), c.Table)
	if where != "" {
		q += " WHERE " + where
	}
	q += " " + order

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify("query "+c.Table, c.Table, -1, err)
	}
	defer rows.Close()

	var out []chain.Envelope[content.Record]
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classify("scan "+c.Table, c.Table, -1, err)
		}
		stored, err := chain.DecodeStored(c, []byte(raw))
		if err != nil {
			return out, err
		}
		env, err := chain.FromStored(stored)
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query "+c.Table, c.Table, -1, err)
	}
	return out, nil
}

// Row returns the row of table with the given id.
func (s *Store) Row(ctx context.Context, table string, id int32) (chain.Envelope[content.Record], error) {
	c, err := lookup(table)
	if err != nil {
		return chain.Envelope[content.Record]{}, err
	}
	envs, err := s.query(ctx, c, c.IDColumn+" = ?", "", id)
	if err != nil {
		return chain.Envelope[content.Record]{}, err
	}
	if len(envs) == 0 {
		return chain.Envelope[content.Record]{}, fmt.Errorf("%s row %d: %w", table, id, chain.ErrNotFound)
	}
	return envs[0], nil
}

// Rows pages through table in id order starting at fromID.
func (s *Store) Rows(ctx context.Context, table string, fromID int32, limit int) ([]chain.Envelope[content.Record], error) {
	c, err := lookup(table)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, c, c.IDColumn+" >= ?", fmt.Sprintf("ORDER BY %s LIMIT ?", c.IDColumn), fromID, limit)
}

// RowsWhere returns every row whose column equals value, in id order.
func (s *Store) RowsWhere(ctx context.Context, table, column string, value any) ([]chain.Envelope[content.Record], error) {
	c, err := lookup(table)
	if err != nil {
		return nil, err
	}
	if _, ok := c.Column(column); !ok {
		return nil, fmt.Errorf("unknown column %q of %s", column, table)
	}
	return s.query(ctx, c, column+" = ?", "ORDER BY "+c.IDColumn, value)
}

// Latest returns up to limit rows of table, newest first.
func (s *Store) Latest(ctx context.Context, table string, limit int) ([]chain.Envelope[content.Record], error) {
	c, err := lookup(table)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, c, "", fmt.Sprintf("ORDER BY %s DESC LIMIT ?", c.IDColumn), limit)
}

// Count returns the number of rows stored in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	c, err := lookup(table)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+c.Table).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, classify("count "+table, table, -1, err)
	}
	return n, nil
}
