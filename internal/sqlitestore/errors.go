package sqlitestore

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xtchd/xtchd/internal/chain"
)

// classify maps driver errors onto the chain error taxonomy. Constraint
// failures on an insert are the database rejecting a computed row.
func classify(op, table string, rowID int32, err error) error {
	if err == nil {
		return nil
	}
	if chain.IsIntegrity(err) || chain.IsTransient(err) || errors.Is(err, chain.ErrNotFound) {
		return err
	}

	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return chain.NewTransientError(op, err)
	}

	switch code := sqliteErr.Code(); code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		// Another writer took the id first; a fresh head read resolves it.
		return chain.NewTransientError(op, err)
	case sqlite3.SQLITE_CONSTRAINT_CHECK,
		sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		sqlite3.SQLITE_CONSTRAINT_TRIGGER,
		sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return &chain.IntegrityError{Table: table, RowID: rowID, Reason: chain.ReasonRejectedByDatabase, Err: err}
	default:
		switch code & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return &chain.IntegrityError{Table: table, RowID: rowID, Reason: chain.ReasonRejectedByDatabase, Err: err}
		default:
			return chain.NewTransientError(op, err)
		}
	}
}
