package chain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an expected single row read returns nothing.
// It never signals tampering.
var ErrNotFound = errors.New("not found")

type Reason string

const (
	ReasonHashMismatch       Reason = "hash_mismatch"
	ReasonBrokenLink         Reason = "broken_link"
	ReasonBadGenesis         Reason = "bad_genesis"
	ReasonMalformed          Reason = "malformed"
	ReasonRejectedByDatabase Reason = "rejected_by_database"
	ReasonHeadMismatch       Reason = "head_mismatch"
	ReasonCheckpointMismatch Reason = "checkpoint_mismatch"
	ReasonMutation           Reason = "mutation"
)

// IntegrityError reports a row whose stored facts disagree with the chain
// contract. It is fatal for that row and must never be retried.
type IntegrityError struct {
	Table    string
	RowID    int32
	Reason   Reason
	Expected string
	Actual   string
	Err      error
}

func NewIntegrityError(table string, rowID int32, reason Reason, expected, actual string) *IntegrityError {
	return &IntegrityError{
		Table:    table,
		RowID:    rowID,
		Reason:   reason,
		Expected: expected,
		Actual:   actual,
	}
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("integrity violation in %s row %d: %s", e.Table, e.RowID, e.Reason)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(" (expected %q, got %q)", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

func AsIntegrity(err error) *IntegrityError {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie
	}
	return nil
}

// TransientError wraps a connection or query failure. Re-running the whole
// read-compute-write sequence is safe.
type TransientError struct {
	Op  string
	Err error
}

func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
