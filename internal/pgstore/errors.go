package pgstore

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xtchd/xtchd/internal/chain"
)

// SQLSTATE codes the store tells apart.
const (
	codeNotNull        = "23502"
	codeForeignKey     = "23503"
	codeUnique         = "23505"
	codeCheck          = "23514"
	codeRaise          = "P0001"
	codeSerialization  = "40001"
	codeDeadlock       = "40P01"
	integrityViolation = "23"
)

// classify maps driver errors onto the chain error taxonomy.
func classify(op, table string, rowID int32, err error) error {
	if err == nil {
		return nil
	}
	if chain.IsIntegrity(err) || chain.IsTransient(err) || errors.Is(err, chain.ErrNotFound) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return chain.NewTransientError(op, err)
	}

	switch pgErr.Code {
	case codeUnique, codeSerialization, codeDeadlock:
		// Another writer took the id or the head first; a fresh head read resolves it.
		return chain.NewTransientError(op, err)
	case codeCheck, codeForeignKey, codeNotNull, codeRaise:
		return &chain.IntegrityError{Table: table, RowID: rowID, Reason: chain.ReasonRejectedByDatabase, Err: err}
	}
	if strings.HasPrefix(pgErr.Code, integrityViolation) {
		return &chain.IntegrityError{Table: table, RowID: rowID, Reason: chain.ReasonRejectedByDatabase, Err: err}
	}
	return chain.NewTransientError(op, err)
}
