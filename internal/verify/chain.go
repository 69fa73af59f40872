// Package verify recomputes stored hashes and walks chains to confirm
// continuity. VerifyRow, VerifyChain and Walker are pure; Verifier and
// AppendOnlyGuard run them against live data.
package verify

import (
	"strconv"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/hash"
)

// VerifyRow recomputes the hash of env and compares it to the stored one.
func VerifyRow[T content.Record](env chain.Envelope[T]) error {
	if calc := env.CalcHash(); calc != env.NewHash {
		return chain.NewIntegrityError(env.Table(), env.ID(), chain.ReasonHashMismatch, env.NewHash, calc)
	}
	return nil
}

type RowResult struct {
	ID         int32          `json:"id" yaml:"id"`
	Valid      bool           `json:"valid" yaml:"valid"`
	StoredHash string         `json:"stored_sha256" yaml:"stored_sha256"`
	CalcHash   string         `json:"calc_sha256" yaml:"calc_sha256"`
	Reasons    []chain.Reason `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

type Report struct {
	RunID    string                  `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Table    string                  `json:"table" yaml:"table"`
	Rows     int64                   `json:"rows" yaml:"rows"`
	Valid    bool                    `json:"valid" yaml:"valid"`
	Head     *chain.Head             `json:"head,omitempty" yaml:"head,omitempty"`
	Results  []RowResult             `json:"results,omitempty" yaml:"results,omitempty"`
	Failures []*chain.IntegrityError `json:"-" yaml:"-"`
	Problems []string                `json:"problems,omitempty" yaml:"problems,omitempty"`
}

func (r *Report) fail(ie *chain.IntegrityError) {
	r.Valid = false
	r.Failures = append(r.Failures, ie)
	r.Problems = append(r.Problems, ie.Error())
}

// Walker checks one chain incrementally, row by row in id order, so that a
// long chain can be verified a page at a time.
type Walker struct {
	table      string
	prev       *chain.Head
	keepResult bool
	report     Report
}

// NewWalker starts a walk at the genesis row of table.
func NewWalker(table string) *Walker {
	return &Walker{table: table, report: Report{Table: table, Valid: true}}
}

// NewWalkerFrom continues a walk after head, a row already trusted.
func NewWalkerFrom(table string, head chain.Head) *Walker {
	w := NewWalker(table)
	if !head.Empty {
		h := head
		w.prev = &h
	}
	return w
}

// KeepResults makes the walker record a RowResult for every row, not only
// for failing ones.
func (w *Walker) KeepResults() *Walker {
	w.keepResult = true
	return w
}

// Next checks env against its own stored hash and against the previous row.
func (w *Walker) Next(env chain.Envelope[content.Record]) RowResult {
	res := RowResult{ID: env.ID(), StoredHash: env.NewHash, CalcHash: env.CalcHash()}
	var failures []*chain.IntegrityError

	if res.CalcHash != res.StoredHash {
		failures = append(failures, chain.NewIntegrityError(w.table, env.ID(), chain.ReasonHashMismatch, res.StoredHash, res.CalcHash))
	}

	if w.prev == nil {
		if env.PriorID != nil || env.PriorHash != hash.Genesis || env.ID() != 0 {
			failures = append(failures, chain.NewIntegrityError(w.table, env.ID(), chain.ReasonBadGenesis, hash.Genesis, env.PriorHash))
		}
	} else {
		switch {
		case env.PriorID == nil || *env.PriorID != w.prev.ID:
			failures = append(failures, chain.NewIntegrityError(w.table, env.ID(), chain.ReasonBrokenLink,
				"prior_id="+strconv.Itoa(int(w.prev.ID)), "prior_id="+formatPriorID(env.PriorID)))
		case env.ID() != w.prev.ID+1:
			failures = append(failures, chain.NewIntegrityError(w.table, env.ID(), chain.ReasonBrokenLink,
				"id="+strconv.Itoa(int(w.prev.ID)+1), "id="+strconv.Itoa(int(env.ID()))))
		case env.PriorHash != w.prev.Hash:
			failures = append(failures, chain.NewIntegrityError(w.table, env.ID(), chain.ReasonBrokenLink, w.prev.Hash, env.PriorHash))
		}
	}

	res.Valid = len(failures) == 0
	for _, ie := range failures {
		res.Reasons = append(res.Reasons, ie.Reason)
		w.report.fail(ie)
	}
	if w.keepResult || !res.Valid {
		w.report.Results = append(w.report.Results, res)
	}

	head := env.Head()
	w.prev = &head
	w.report.Head = &head
	w.report.Rows++
	return res
}

// Fail records a problem found outside the row checks.
func (w *Walker) Fail(ie *chain.IntegrityError) {
	w.report.fail(ie)
}

// Last is the last row walked, nil before the first row.
func (w *Walker) Last() *chain.Head {
	return w.prev
}

func (w *Walker) Report() *Report {
	r := w.report
	return &r
}

func formatPriorID(id *int32) string {
	if id == nil {
		return "null"
	}
	return strconv.Itoa(int(*id))
}

// VerifyChain checks an ordered run of rows starting at the genesis row.
func VerifyChain[T content.Record](envs []chain.Envelope[T]) *Report {
	table := ""
	if len(envs) > 0 {
		table = envs[0].Table()
	}
	w := NewWalker(table).KeepResults()
	for _, env := range envs {
		w.Next(env.Erase())
	}
	return w.Report()
}
