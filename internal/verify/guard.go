package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/xtchd/xtchd/internal/cdc"
	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
)

type MutationAlerter interface {
	Alerter
	SendMutationAlert(ctx context.Context, tableName, operation, rowID, details string) error
}

// AppendOnlyGuard watches the replication stream of the chained tables.
// Any UPDATE, DELETE or TRUNCATE is a mutation of an append-only table;
// every INSERT is checked against its own hash and the previous insert
// seen for that table.
type AppendOnlyGuard struct {
	alerter MutationAlerter
	logger  *slog.Logger

	mu      sync.Mutex
	tables  map[string]*content.Class
	walkers map[string]*Walker
}

func NewAppendOnlyGuard(logger *slog.Logger) *AppendOnlyGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppendOnlyGuard{
		logger:  logger,
		tables:  make(map[string]*content.Class),
		walkers: make(map[string]*Walker),
	}
}

func (g *AppendOnlyGuard) SetAlerter(a MutationAlerter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alerter = a
}

// AddTable guards table. Inserts are linked to head, the chain head at the
// time the guard starts; with an empty head the first insert seen must be
// the genesis row.
func (g *AppendOnlyGuard) AddTable(table string, head chain.Head) error {
	class, ok := content.ByTable(table)
	if !ok {
		return fmt.Errorf("table %s is not a chained table", table)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tables[table] = class
	g.walkers[table] = NewWalkerFrom(table, head)
	return nil
}

func (g *AppendOnlyGuard) HandleChange(ctx context.Context, event *cdc.ChangeEvent) error {
	g.mu.Lock()
	class, ok := g.tables[event.TableName]
	walker := g.walkers[event.TableName]
	alerter := g.alerter
	g.mu.Unlock()
	if !ok {
		return nil
	}

	switch event.Operation {
	case cdc.OperationUpdate, cdc.OperationDelete, cdc.OperationTruncate:
		return g.mutation(ctx, alerter, class, event)
	case cdc.OperationInsert:
	default:
		return nil
	}

	stored, err := decodeReplicated(class, event.NewData)
	if err != nil {
		return g.report(ctx, alerter, chain.AsIntegrity(err))
	}
	env, err := chain.FromStored(stored)
	if err != nil {
		return g.report(ctx, alerter, chain.AsIntegrity(err))
	}

	g.mu.Lock()
	before := len(walker.report.Failures)
	walker.Next(env)
	failures := append([]*chain.IntegrityError(nil), walker.report.Failures[before:]...)
	g.mu.Unlock()

	if len(failures) == 0 {
		g.logger.Debug("Replicated insert verified", "table", class.Table, "id", env.ID())
		return nil
	}
	for _, ie := range failures[1:] {
		g.report(ctx, alerter, ie)
	}
	return g.report(ctx, alerter, failures[0])
}

func (g *AppendOnlyGuard) mutation(ctx context.Context, alerter MutationAlerter, class *content.Class, event *cdc.ChangeEvent) error {
	rowID := int32(-1)
	if v, ok := event.PrimaryKey[class.IDColumn]; ok {
		if id, err := toInt(v); err == nil {
			rowID = int32(id)
		}
	}
	ie := chain.NewIntegrityError(class.Table, rowID, chain.ReasonMutation, "append-only", string(event.Operation))

	g.logger.Error("TAMPERING DETECTED: append-only table mutated",
		"table", class.Table, "operation", event.Operation, "id", rowID)
	if alerter != nil {
		details := fmt.Sprintf("%s observed in replication stream at LSN %d", event.Operation, event.LSN)
		if err := alerter.SendMutationAlert(ctx, class.Table, string(event.Operation), strconv.Itoa(int(rowID)), details); err != nil {
			g.logger.Warn("Failed to send mutation alert", "table", class.Table, "error", err)
		}
	}
	return ie
}

func (g *AppendOnlyGuard) report(ctx context.Context, alerter MutationAlerter, ie *chain.IntegrityError) error {
	g.logger.Error("TAMPERING DETECTED: replicated insert failed verification",
		"table", ie.Table, "id", ie.RowID, "reason", ie.Reason)
	if alerter != nil {
		if err := alerter.SendIntegrityAlert(ctx, ie); err != nil {
			g.logger.Warn("Failed to send integrity alert", "table", ie.Table, "error", err)
		}
	}
	return ie
}

// Timestamps arrive in PostgreSQL text output format.
var replicatedTimestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07:00:00",
}

func parseReplicatedTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range replicatedTimestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseInt(n, 10, 64)
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected integer value %T", v)
	}
}

// decodeReplicated converts a text format tuple into the flat row JSON
// every store produces, then decodes it.
func decodeReplicated(class *content.Class, data map[string]any) (chain.Stored[content.Record], error) {
	malformed := func(err error) error {
		return &chain.IntegrityError{Table: class.Table, RowID: -1, Reason: chain.ReasonMalformed, Err: err}
	}

	row := make(map[string]any, len(class.Columns)+4)
	convert := func(name string, typ content.ColumnType) error {
		v, ok := data[name]
		if !ok || v == nil {
			row[name] = nil
			return nil
		}
		switch typ {
		case content.Integer, content.SmallInt:
			n, err := toInt(v)
			if err != nil {
				return fmt.Errorf("column %s: %w", name, err)
			}
			row[name] = n
		default:
			row[name] = fmt.Sprint(v)
		}
		return nil
	}

	if err := convert("prior_id", content.Integer); err != nil {
		return chain.Stored[content.Record]{}, malformed(err)
	}
	for _, col := range class.Columns {
		if err := convert(col.Name, col.Type); err != nil {
			return chain.Stored[content.Record]{}, malformed(err)
		}
	}
	row["prior_sha256"] = data["prior_sha256"]
	row["new_sha256"] = data["new_sha256"]

	ts, ok := data["write_timestamp"].(string)
	if !ok {
		return chain.Stored[content.Record]{}, malformed(fmt.Errorf("missing write_timestamp"))
	}
	parsed, err := parseReplicatedTimestamp(ts)
	if err != nil {
		return chain.Stored[content.Record]{}, malformed(err)
	}
	row["write_timestamp"] = parsed

	raw, err := json.Marshal(row)
	if err != nil {
		return chain.Stored[content.Record]{}, malformed(err)
	}
	return chain.DecodeStored(class, raw)
}
