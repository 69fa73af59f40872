package sqlitestore

import (
	"context"
	"fmt"
)

var tamperableColumns = map[string]bool{
	"prior_sha256":    true,
	"write_timestamp": true,
	"new_sha256":      true,
}

// Tamper overwrites one stored value behind the chain's back: it lifts the
// append-only trigger and the CHECK and foreign key enforcement, updates
// the row, then restores all of them. It exists to demonstrate and test
// tamper detection and must never be used on a live database.
func (s *Store) Tamper(ctx context.Context, table string, id int32, column string, value any) error {
	c, err := lookup(table)
	if err != nil {
		return err
	}
	if _, ok := c.Column(column); !ok && !tamperableColumns[column] {
		return fmt.Errorf("unknown column %q of %s", column, table)
	}

	lift := []string{
		"PRAGMA ignore_check_constraints=ON",
		"PRAGMA foreign_keys=OFF",
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s_no_update", table),
	}
	for _, stmt := range lift {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to lift protection: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", table, column, c.IDColumn), value, id)

	restoreErr := s.restoreProtection(ctx)
	if err != nil {
		return fmt.Errorf("failed to update %s row %d: %w", table, id, err)
	}
	if restoreErr != nil {
		return restoreErr
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s row %d does not exist", table, id)
	}

	s.logger.Warn("Row tampered", "table", table, "id", id, "column", column)
	return nil
}

func (s *Store) restoreProtection(ctx context.Context) error {
	for _, stmt := range []string{"PRAGMA ignore_check_constraints=OFF", "PRAGMA foreign_keys=ON"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to restore protection: %w", err)
		}
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to restore triggers: %w", err)
	}
	return nil
}
