// Package content defines the payloads that can be hash chained.
//
// Every content type renders a StateString: a fixed-order encoding of its
// semantic fields only (no prior id, timestamp or prior hash). The same
// encoding is recomputed by a CHECK constraint in the database, so the field
// order of every StateString is part of the storage contract and must never
// change once rows exist.
package content

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Content is the capability every trackable content type implements.
type Content interface {
	StateString() string
	// DType is a static tag identifying the concrete type in heterogeneous
	// storage or transport. It is never renamed.
	DType() string
}

// Record is Content that lives in a chained table.
type Record interface {
	Content
	Table() string
	RowID() int32
	// Values returns the content column values in Class.Columns order.
	Values() []any
}

// Normalize prepares free text for chaining. Inputs are NFC normalized so
// that visually identical text produces an identical state string.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

const dateLayout = "2006-01-02"

// Date is a calendar date stored as a DATE column.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
