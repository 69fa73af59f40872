package cdc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

const (
	OutputPlugin = "pgoutput"

	receiveTimeout = 10 * time.Second
)

var ErrNotConnected = errors.New("replication client not connected")

type ReplicationConfig struct {
	// ConnString is a regular libpq connection string or URL; the
	// replication parameter is added when the stream is opened.
	ConnString      string
	SlotName        string
	PublicationName string
	// Tables limits the publication. Empty publishes all tables.
	Tables []string
}

type ReplicationClient struct {
	config    *ReplicationConfig
	conn      *pgconn.PgConn
	relations map[uint32]*pglogrepl.RelationMessage
	handler   EventHandler
	logger    *slog.Logger

	xid     uint32
	lastLSN pglogrepl.LSN
}

func NewReplicationClient(config *ReplicationConfig, handler EventHandler, logger *slog.Logger) *ReplicationClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplicationClient{
		config:    config,
		relations: make(map[uint32]*pglogrepl.RelationMessage),
		handler:   handler,
		logger:    logger,
	}
}

func (rc *ReplicationClient) Connect(ctx context.Context) error {
	cfg, err := pgconn.ParseConfig(rc.config.ConnString)
	if err != nil {
		return fmt.Errorf("invalid connection string: %w", err)
	}
	cfg.RuntimeParams["replication"] = "database"

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	rc.conn = conn
	return nil
}

func (rc *ReplicationClient) CreateSlotIfNotExists(ctx context.Context) error {
	if rc.conn == nil {
		return ErrNotConnected
	}

	result, err := pglogrepl.CreateReplicationSlot(ctx, rc.conn, rc.config.SlotName, OutputPlugin,
		pglogrepl.CreateReplicationSlotOptions{})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42710" {
			return nil
		}
		return fmt.Errorf("failed to create replication slot: %w", err)
	}

	rc.logger.Info("Created replication slot", "slot", result.SlotName, "lsn", result.ConsistentPoint)
	return nil
}

func (rc *ReplicationClient) DropSlot(ctx context.Context) error {
	if rc.conn == nil {
		return ErrNotConnected
	}
	if err := pglogrepl.DropReplicationSlot(ctx, rc.conn, rc.config.SlotName, pglogrepl.DropReplicationSlotOptions{}); err != nil {
		return fmt.Errorf("failed to drop replication slot: %w", err)
	}
	return nil
}

func (rc *ReplicationClient) StartReplication(ctx context.Context, startLSN pglogrepl.LSN) error {
	if rc.conn == nil {
		return ErrNotConnected
	}

	err := pglogrepl.StartReplication(ctx, rc.conn, rc.config.SlotName, startLSN,
		pglogrepl.StartReplicationOptions{
			PluginArgs: []string{
				"proto_version '1'",
				fmt.Sprintf("publication_names '%s'", rc.config.PublicationName),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to start replication: %w", err)
	}
	rc.lastLSN = startLSN
	return nil
}

// ReceiveMessage waits for one message from the stream and dispatches it.
// A receive timeout is not an error.
func (rc *ReplicationClient) ReceiveMessage(ctx context.Context) error {
	if rc.conn == nil {
		return ErrNotConnected
	}

	recvCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
	defer cancel()

	msg, err := rc.conn.ReceiveMessage(recvCtx)
	if err != nil {
		if pgconn.Timeout(err) {
			return rc.SendStandbyStatusUpdate(ctx, rc.lastLSN)
		}
		return fmt.Errorf("receive message failed: %w", err)
	}

	switch msg := msg.(type) {
	case *pgproto3.CopyData:
		return rc.handleCopyData(ctx, msg.Data)
	case *pgproto3.ErrorResponse:
		return fmt.Errorf("replication stream error: %s", msg.Message)
	default:
		return nil
	}
}

func (rc *ReplicationClient) handleCopyData(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(data[1:])
		if err != nil {
			return fmt.Errorf("failed to parse keepalive: %w", err)
		}
		if pkm.ReplyRequested {
			return rc.SendStandbyStatusUpdate(ctx, rc.lastLSN)
		}
	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(data[1:])
		if err != nil {
			return fmt.Errorf("failed to parse xlog data: %w", err)
		}
		if err := rc.processWALData(ctx, xld.WALStart, xld.WALData); err != nil {
			return err
		}
		if end := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); end > rc.lastLSN {
			rc.lastLSN = end
		}
	}
	return nil
}

func (rc *ReplicationClient) processWALData(ctx context.Context, lsn pglogrepl.LSN, walData []byte) error {
	logicalMsg, err := pglogrepl.Parse(walData)
	if err != nil {
		return fmt.Errorf("failed to parse logical replication message: %w", err)
	}
	return rc.dispatch(ctx, lsn, logicalMsg)
}

func (rc *ReplicationClient) dispatch(ctx context.Context, lsn pglogrepl.LSN, logicalMsg pglogrepl.Message) error {
	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		rc.relations[msg.RelationID] = msg
	case *pglogrepl.BeginMessage:
		rc.xid = msg.Xid
	case *pglogrepl.CommitMessage:
		rc.xid = 0
	case *pglogrepl.InsertMessage:
		rel, err := rc.relation(msg.RelationID)
		if err != nil {
			return err
		}
		values := tupleToMap(rel, msg.Tuple)
		return rc.emit(ctx, &ChangeEvent{
			TableName:  rel.RelationName,
			Operation:  OperationInsert,
			NewData:    values,
			PrimaryKey: extractPrimaryKey(rel, values),
		}, lsn)
	case *pglogrepl.UpdateMessage:
		rel, err := rc.relation(msg.RelationID)
		if err != nil {
			return err
		}
		values := tupleToMap(rel, msg.NewTuple)
		return rc.emit(ctx, &ChangeEvent{
			TableName:  rel.RelationName,
			Operation:  OperationUpdate,
			NewData:    values,
			OldData:    tupleToMap(rel, msg.OldTuple),
			PrimaryKey: extractPrimaryKey(rel, values),
		}, lsn)
	case *pglogrepl.DeleteMessage:
		rel, err := rc.relation(msg.RelationID)
		if err != nil {
			return err
		}
		values := tupleToMap(rel, msg.OldTuple)
		return rc.emit(ctx, &ChangeEvent{
			TableName:  rel.RelationName,
			Operation:  OperationDelete,
			OldData:    values,
			PrimaryKey: extractPrimaryKey(rel, values),
		}, lsn)
	case *pglogrepl.TruncateMessage:
		for _, id := range msg.RelationIDs {
			rel, err := rc.relation(id)
			if err != nil {
				return err
			}
			if err := rc.emit(ctx, &ChangeEvent{TableName: rel.RelationName, Operation: OperationTruncate}, lsn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rc *ReplicationClient) relation(id uint32) (*pglogrepl.RelationMessage, error) {
	rel, ok := rc.relations[id]
	if !ok {
		return nil, fmt.Errorf("unknown relation ID: %d", id)
	}
	return rel, nil
}

// emit hands event to the handler. A handler error is reported but does
// not stop the stream; the change has already been committed upstream.
func (rc *ReplicationClient) emit(ctx context.Context, event *ChangeEvent, lsn pglogrepl.LSN) error {
	event.Timestamp = time.Now()
	event.TransactionID = rc.xid
	event.LSN = uint64(lsn)
	if rc.handler == nil {
		return nil
	}
	if err := rc.handler.HandleChange(ctx, event); err != nil {
		rc.logger.Warn("Change handler failed",
			"table", event.TableName, "operation", event.Operation, "lsn", lsn, "error", err)
	}
	return nil
}

func (rc *ReplicationClient) SendStandbyStatusUpdate(ctx context.Context, lsn pglogrepl.LSN) error {
	if rc.conn == nil {
		return ErrNotConnected
	}
	return pglogrepl.SendStandbyStatusUpdate(ctx, rc.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
}

func (rc *ReplicationClient) LastLSN() pglogrepl.LSN {
	return rc.lastLSN
}

func (rc *ReplicationClient) Close(ctx context.Context) error {
	if rc.conn != nil {
		return rc.conn.Close(ctx)
	}
	return nil
}

// tupleToMap keeps values in text format. Unchanged TOAST columns are
// left out.
func tupleToMap(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) map[string]any {
	if tuple == nil {
		return nil
	}
	values := make(map[string]any, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			break
		}
		name := rel.Columns[i].Name
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[name] = nil
		case pglogrepl.TupleDataTypeText, pglogrepl.TupleDataTypeBinary:
			values[name] = string(col.Data)
		}
	}
	return values
}

func extractPrimaryKey(rel *pglogrepl.RelationMessage, values map[string]any) map[string]any {
	pk := make(map[string]any)
	for _, col := range rel.Columns {
		if col.Flags == 1 {
			if val, ok := values[col.Name]; ok {
				pk[col.Name] = val
			}
		}
	}
	return pk
}
