package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/storage"
)

const DefaultPageSize = 500

// Source is the read side of a chain store. Rows returns the rows before
// an unreadable one together with the integrity error for it.
type Source interface {
	Head(ctx context.Context, table string) (chain.Head, error)
	Rows(ctx context.Context, table string, fromID int32, limit int) ([]chain.Envelope[content.Record], error)
}

// Checkpoints persists the last verified head of every chain.
type Checkpoints interface {
	GetCheckpoint(tableName string) (*storage.Checkpoint, error)
	SaveCheckpoint(cp *storage.Checkpoint) error
	SaveRun(run *storage.Run) error
}

type Alerter interface {
	SendIntegrityAlert(ctx context.Context, ie *chain.IntegrityError) error
}

type TableConfig struct {
	Name           string
	VerifyInterval string
}

// maxAlertsPerRun bounds the alerts of one run; a broken row usually
// breaks the link of its successor too.
const maxAlertsPerRun = 10

type Verifier struct {
	source      Source
	checkpoints Checkpoints
	alerter     Alerter
	logger      *slog.Logger
	pageSize    int
	now         func() time.Time

	mu     sync.RWMutex
	tables []*TableConfig
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewVerifier creates a verifier. checkpoints may be nil, in which case
// runs are neither compared with nor recorded as checkpoints.
func NewVerifier(source Source, checkpoints Checkpoints, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		source:      source,
		checkpoints: checkpoints,
		logger:      logger,
		pageSize:    DefaultPageSize,
		now:         time.Now,
		tables:      make([]*TableConfig, 0),
		stopCh:      make(chan struct{}),
	}
}

func (v *Verifier) AddTable(config *TableConfig) error {
	if _, ok := content.ByTable(config.Name); !ok {
		return fmt.Errorf("table %s is not a chained table", config.Name)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tables = append(v.tables, config)
	return nil
}

func (v *Verifier) SetAlerter(a Alerter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerter = a
}

func (v *Verifier) SetPageSize(n int) {
	if n > 0 {
		v.pageSize = n
	}
}

func (v *Verifier) Tables() []*TableConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*TableConfig, len(v.tables))
	copy(out, v.tables)
	return out
}

// Start verifies every table once, then keeps verifying each table that
// has a verify interval in the background.
func (v *Verifier) Start(ctx context.Context) error {
	v.logger.Info("Running startup hash chain verification")
	for _, table := range v.Tables() {
		report, err := v.VerifyTable(ctx, table.Name)
		v.logResult(table.Name, report, err)
	}

	for _, table := range v.Tables() {
		if table.VerifyInterval == "" {
			continue
		}
		interval, err := time.ParseDuration(table.VerifyInterval)
		if err != nil {
			return fmt.Errorf("invalid verify_interval for %s: %w", table.Name, err)
		}

		v.wg.Add(1)
		go v.runPeriodicVerification(ctx, table.Name, interval)
	}

	return nil
}

func (v *Verifier) Stop() {
	close(v.stopCh)
	v.wg.Wait()
}

func (v *Verifier) runPeriodicVerification(ctx context.Context, tableName string, interval time.Duration) {
	defer v.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := v.VerifyTable(ctx, tableName)
			v.logResult(tableName, report, err)
		}
	}
}

func (v *Verifier) logResult(table string, report *Report, err error) {
	switch {
	case err != nil:
		v.logger.Warn("Verification could not complete", "table", table, "error", err)
	case !report.Valid:
		v.logger.Error("TAMPERING DETECTED", "table", table, "run_id", report.RunID, "problems", len(report.Problems))
	default:
		v.logger.Info("Hash chain verified", "table", table, "run_id", report.RunID, "rows", report.Rows)
	}
}

// VerifyTable walks the whole chain of table, checks the chain head record
// and the last checkpoint, and records the run. An error is returned only
// when the chain could not be read; integrity problems are in the report.
func (v *Verifier) VerifyTable(ctx context.Context, table string) (*Report, error) {
	runID := uuid.NewString()
	started := v.now()

	var cp *storage.Checkpoint
	if v.checkpoints != nil {
		got, err := v.checkpoints.GetCheckpoint(table)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to read checkpoint: %w", err)
		}
		cp = got
	}

	w := NewWalker(table)
	checkpointSeen := false
	complete := true
	from := int32(0)
	for {
		page, err := v.source.Rows(ctx, table, from, v.pageSize)
		unreadable := chain.AsIntegrity(err)
		if err != nil && unreadable == nil {
			return nil, fmt.Errorf("failed to read %s from id %d: %w", table, from, err)
		}

		for _, env := range page {
			w.Next(env)
			if cp != nil && env.ID() == cp.RowID {
				checkpointSeen = true
				if env.NewHash != cp.Hash {
					w.Fail(chain.NewIntegrityError(table, env.ID(), chain.ReasonCheckpointMismatch, cp.Hash, env.NewHash))
				}
			}
		}
		if unreadable != nil {
			// The rows after one that cannot be reconstructed are not walked.
			w.Fail(unreadable)
			complete = false
			break
		}
		if len(page) < v.pageSize {
			break
		}
		from = page[len(page)-1].ID() + 1
	}

	if complete {
		head, err := v.source.Head(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain head of %s: %w", table, err)
		}
		v.checkHead(w, table, head)
	}

	report := w.Report()
	report.RunID = runID

	if cp != nil && complete {
		if !checkpointSeen {
			report.fail(chain.NewIntegrityError(table, cp.RowID, chain.ReasonCheckpointMismatch, cp.Hash, "row missing"))
		}
		if report.Rows < cp.Rows {
			report.fail(chain.NewIntegrityError(table, cp.RowID, chain.ReasonCheckpointMismatch,
				fmt.Sprintf("at least %d rows", cp.Rows), fmt.Sprintf("%d rows", report.Rows)))
		}
	}

	v.record(ctx, report, started)
	return report, nil
}

func (v *Verifier) checkHead(w *Walker, table string, head chain.Head) {
	last := w.Last()
	switch {
	case last == nil && !head.Empty:
		w.Fail(chain.NewIntegrityError(table, head.ID, chain.ReasonHeadMismatch, "empty chain", head.Hash))
	case last != nil && head.Empty:
		w.Fail(chain.NewIntegrityError(table, last.ID, chain.ReasonHeadMismatch, last.Hash, "empty chain head"))
	case last != nil && (head.ID != last.ID || head.Hash != last.Hash):
		w.Fail(chain.NewIntegrityError(table, last.ID, chain.ReasonHeadMismatch, last.Hash, head.Hash))
	}
}

func (v *Verifier) record(ctx context.Context, report *Report, started time.Time) {
	if report.Valid && report.Head != nil && v.checkpoints != nil {
		cp := &storage.Checkpoint{
			TableName:  report.Table,
			RowID:      report.Head.ID,
			Hash:       report.Head.Hash,
			Rows:       report.Rows,
			VerifiedAt: v.now().UTC(),
			RunID:      report.RunID,
		}
		if err := v.checkpoints.SaveCheckpoint(cp); err != nil {
			v.logger.Warn("Failed to save checkpoint", "table", report.Table, "error", err)
		}
	}

	if v.checkpoints != nil {
		run := &storage.Run{
			RunID:     report.RunID,
			TableName: report.Table,
			StartedAt: started.UTC(),
			Duration:  v.now().Sub(started).String(),
			Rows:      report.Rows,
			OK:        report.Valid,
			Failures:  report.Problems,
		}
		if err := v.checkpoints.SaveRun(run); err != nil {
			v.logger.Warn("Failed to save verification run", "table", report.Table, "error", err)
		}
	}

	v.mu.RLock()
	a := v.alerter
	v.mu.RUnlock()
	if a == nil {
		return
	}
	for i, ie := range report.Failures {
		if i >= maxAlertsPerRun {
			break
		}
		if err := a.SendIntegrityAlert(ctx, ie); err != nil {
			v.logger.Warn("Failed to send integrity alert", "table", report.Table, "error", err)
		}
	}
}
