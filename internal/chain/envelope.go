// Package chain pairs content with its hash chain metadata and defines the
// error taxonomy shared by the writer, the stores and the verifier.
package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

// Stored holds the persisted facts of one row. The hashed string is not
// among them; it is rebuilt by FromStored.
type Stored[T content.Record] struct {
	PriorID        *int32    `json:"prior_id"`
	PriorHash      string    `json:"prior_sha256"`
	Content        T         `json:"content"`
	WriteTimestamp time.Time `json:"write_timestamp"`
	NewHash        string    `json:"new_sha256"`
}

// Envelope is a chained row with its reconstructed link.
type Envelope[T content.Record] struct {
	DType             string
	PriorID           *int32
	PriorHash         string
	Content           T
	Link              hash.Link
	WriteTimestampStr string
	NewHash           string
}

// Append chains c onto head at ts. The content id must already be
// head.NextID().
func Append[T content.Record](head Head, c T, ts time.Time) Envelope[T] {
	link := hash.LinkAt(head.Hash, ts, c)
	return Envelope[T]{
		DType:             c.DType(),
		PriorID:           head.PriorID(),
		PriorHash:         head.Hash,
		Content:           c,
		Link:              link,
		WriteTimestampStr: hash.FormatTimestamp(link.WriteTimestamp),
		NewHash:           link.NewHash(),
	}
}

// FromStored reconstructs the envelope of a stored row. Only the facts that
// enter the hashed string are checked here, and an error is a format
// contract violation, not evidence of tampering. The stored new_sha256 is
// taken as is; a value that is not the recomputed digest fails VerifyRow.
func FromStored[T content.Record](s Stored[T]) (Envelope[T], error) {
	table, id := s.Content.Table(), s.Content.RowID()
	if !hash.IsDigest(s.PriorHash) {
		return Envelope[T]{}, NewIntegrityError(table, id, ReasonMalformed, "prior_sha256 digest", s.PriorHash)
	}
	if s.WriteTimestamp.IsZero() {
		return Envelope[T]{}, NewIntegrityError(table, id, ReasonMalformed, "write_timestamp", "")
	}

	link := hash.LinkAt(s.PriorHash, s.WriteTimestamp, s.Content)
	return Envelope[T]{
		DType:             s.Content.DType(),
		PriorID:           s.PriorID,
		PriorHash:         s.PriorHash,
		Content:           s.Content,
		Link:              link,
		WriteTimestampStr: hash.FormatTimestamp(link.WriteTimestamp),
		NewHash:           s.NewHash,
	}, nil
}

func (e Envelope[T]) ID() int32 {
	return e.Content.RowID()
}

func (e Envelope[T]) Table() string {
	return e.Content.Table()
}

func (e Envelope[T]) CalcHash() string {
	return e.Link.NewHash()
}

// Valid reports whether the recomputed hash matches the stored one.
func (e Envelope[T]) Valid() bool {
	return e.CalcHash() == e.NewHash
}

// Head is the chain head once e is appended.
func (e Envelope[T]) Head() Head {
	return Head{ID: e.ID(), Hash: e.NewHash}
}

func (e Envelope[T]) Stored() Stored[T] {
	return Stored[T]{
		PriorID:        e.PriorID,
		PriorHash:      e.PriorHash,
		Content:        e.Content,
		WriteTimestamp: e.Link.WriteTimestamp,
		NewHash:        e.NewHash,
	}
}

// Erase drops the concrete content type.
func (e Envelope[T]) Erase() Envelope[content.Record] {
	return Envelope[content.Record]{
		DType:             e.DType,
		PriorID:           e.PriorID,
		PriorHash:         e.PriorHash,
		Content:           e.Content,
		Link:              e.Link,
		WriteTimestampStr: e.WriteTimestampStr,
		NewHash:           e.NewHash,
	}
}

// As narrows an envelope read from a heterogeneous source.
func As[T content.Record](e Envelope[content.Record]) (Envelope[T], error) {
	c, ok := e.Content.(T)
	if !ok {
		var zero T
		return Envelope[T]{}, fmt.Errorf("envelope holds %s, not %T", e.DType, zero)
	}
	return Envelope[T]{
		DType:             e.DType,
		PriorID:           e.PriorID,
		PriorHash:         e.PriorHash,
		Content:           c,
		Link:              e.Link,
		WriteTimestampStr: e.WriteTimestampStr,
		NewHash:           e.NewHash,
	}, nil
}

type storedRow struct {
	PriorID        *int32    `json:"prior_id"`
	PriorHash      string    `json:"prior_sha256"`
	WriteTimestamp time.Time `json:"write_timestamp"`
	NewHash        string    `json:"new_sha256"`
}

// DecodeStored decodes one flat JSON row, chain metadata and content
// columns side by side, as produced by to_jsonb or json_object.
func DecodeStored(class *content.Class, raw []byte) (Stored[content.Record], error) {
	var row storedRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return Stored[content.Record]{}, &IntegrityError{Table: class.Table, RowID: -1, Reason: ReasonMalformed, Err: err}
	}
	rec, err := class.Decode(raw)
	if err != nil {
		return Stored[content.Record]{}, &IntegrityError{Table: class.Table, RowID: -1, Reason: ReasonMalformed, Err: err}
	}
	return Stored[content.Record]{
		PriorID:        row.PriorID,
		PriorHash:      row.PriorHash,
		Content:        rec,
		WriteTimestamp: row.WriteTimestamp,
		NewHash:        row.NewHash,
	}, nil
}

// envelopeWire is the transport encoding. It carries the stored facts and
// the dtype; the hashed string is left for the recipient to rebuild.
type envelopeWire struct {
	DType          string          `json:"dtype"`
	PriorID        *int32          `json:"prior_id"`
	PriorHash      string          `json:"prior_sha256"`
	Content        json.RawMessage `json:"content"`
	WriteTimestamp time.Time       `json:"write_timestamp"`
	NewHash        string          `json:"new_sha256"`
}

func (e Envelope[T]) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{
		DType:          e.DType,
		PriorID:        e.PriorID,
		PriorHash:      e.PriorHash,
		Content:        raw,
		WriteTimestamp: e.Link.WriteTimestamp,
		NewHash:        e.NewHash,
	})
}

func (e *Envelope[T]) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	class, ok := content.ByDType(w.DType)
	if !ok {
		return fmt.Errorf("unknown dtype: %q", w.DType)
	}
	rec, err := class.Decode(w.Content)
	if err != nil {
		return err
	}
	c, ok := rec.(T)
	if !ok {
		var zero T
		return fmt.Errorf("envelope holds %s, not %T", w.DType, zero)
	}
	env, err := FromStored(Stored[T]{
		PriorID:        w.PriorID,
		PriorHash:      w.PriorHash,
		Content:        c,
		WriteTimestamp: w.WriteTimestamp,
		NewHash:        w.NewHash,
	})
	if err != nil {
		return err
	}
	*e = env
	return nil
}
