package cdc

import (
	"context"
	"time"
)

type OperationType string

const (
	OperationInsert   OperationType = "INSERT"
	OperationUpdate   OperationType = "UPDATE"
	OperationDelete   OperationType = "DELETE"
	OperationTruncate OperationType = "TRUNCATE"
)

// ChangeEvent is one row change decoded from the replication stream.
// Column values are in PostgreSQL text format; NULL columns map to nil.
type ChangeEvent struct {
	TableName     string
	Operation     OperationType
	Timestamp     time.Time
	NewData       map[string]any
	OldData       map[string]any
	PrimaryKey    map[string]any
	TransactionID uint32
	LSN           uint64
}

type EventHandler interface {
	HandleChange(ctx context.Context, event *ChangeEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *ChangeEvent) error

func (f EventHandlerFunc) HandleChange(ctx context.Context, event *ChangeEvent) error {
	return f(ctx, event)
}
