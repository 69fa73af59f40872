package cdc

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pglogrepl"
)

func authorsRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:   16384,
		Namespace:    "public",
		RelationName: "authors",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Flags: 0, Name: "prior_id"},
			{Flags: 1, Name: "auth_id"},
			{Flags: 0, Name: "name"},
		},
	}
}

func tuple(values ...*string) *pglogrepl.TupleData {
	td := &pglogrepl.TupleData{ColumnNum: uint16(len(values))}
	for _, v := range values {
		if v == nil {
			td.Columns = append(td.Columns, &pglogrepl.TupleDataColumn{DataType: pglogrepl.TupleDataTypeNull})
			continue
		}
		td.Columns = append(td.Columns, &pglogrepl.TupleDataColumn{
			DataType: pglogrepl.TupleDataTypeText,
			Length:   uint32(len(*v)),
			Data:     []byte(*v),
		})
	}
	return td
}

func str(s string) *string { return &s }

func newTestClient(h EventHandler) *ReplicationClient {
	rc := NewReplicationClient(&ReplicationConfig{}, h, nil)
	rel := authorsRelation()
	rc.relations[rel.RelationID] = rel
	return rc
}

func TestDispatchInsert(t *testing.T) {
	h := &mockHandler{}
	rc := newTestClient(h)
	ctx := context.Background()

	if err := rc.dispatch(ctx, 0, &pglogrepl.BeginMessage{Xid: 42}); err != nil {
		t.Fatal(err)
	}
	err := rc.dispatch(ctx, 100, &pglogrepl.InsertMessage{RelationID: 16384, Tuple: tuple(nil, str("0"), str("Xtchd Admins"))})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if len(h.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(h.events))
	}
	ev := h.events[0]
	if ev.TableName != "authors" || ev.Operation != OperationInsert {
		t.Errorf("Unexpected event %s %s", ev.TableName, ev.Operation)
	}
	if v, ok := ev.NewData["prior_id"]; !ok || v != nil {
		t.Errorf("Expected NULL prior_id, got %v", v)
	}
	if ev.NewData["name"] != "Xtchd Admins" {
		t.Errorf("Expected name in text format, got %v", ev.NewData["name"])
	}
	if ev.PrimaryKey["auth_id"] != "0" {
		t.Errorf("Expected primary key auth_id=0, got %v", ev.PrimaryKey)
	}
	if ev.TransactionID != 42 || ev.LSN != 100 {
		t.Errorf("Expected xid 42 at LSN 100, got %d at %d", ev.TransactionID, ev.LSN)
	}
}

func TestDispatchUpdateAndDelete(t *testing.T) {
	h := &mockHandler{}
	rc := newTestClient(h)
	ctx := context.Background()

	err := rc.dispatch(ctx, 1, &pglogrepl.UpdateMessage{
		RelationID: 16384,
		OldTuple:   tuple(nil, str("0"), str("Xtchd Admins")),
		NewTuple:   tuple(nil, str("0"), str("Someone else")),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = rc.dispatch(ctx, 2, &pglogrepl.DeleteMessage{RelationID: 16384, OldTuple: tuple(nil, str("0"), nil)})
	if err != nil {
		t.Fatal(err)
	}

	if len(h.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(h.events))
	}
	if h.events[0].Operation != OperationUpdate || h.events[0].OldData["name"] != "Xtchd Admins" {
		t.Errorf("Update not decoded: %+v", h.events[0])
	}
	if h.events[1].Operation != OperationDelete || h.events[1].PrimaryKey["auth_id"] != "0" {
		t.Errorf("Delete not decoded: %+v", h.events[1])
	}
}

func TestDispatchTruncate(t *testing.T) {
	h := &mockHandler{}
	rc := newTestClient(h)

	err := rc.dispatch(context.Background(), 5, &pglogrepl.TruncateMessage{RelationNum: 1, RelationIDs: []uint32{16384}})
	if err != nil {
		t.Fatal(err)
	}
	if len(h.events) != 1 || h.events[0].Operation != OperationTruncate || h.events[0].TableName != "authors" {
		t.Errorf("Truncate not reported: %+v", h.events)
	}
}

func TestDispatchUnknownRelation(t *testing.T) {
	rc := newTestClient(&mockHandler{})

	err := rc.dispatch(context.Background(), 0, &pglogrepl.InsertMessage{RelationID: 1, Tuple: tuple(str("x"))})
	if err == nil {
		t.Error("Expected error for unknown relation")
	}
}

func TestHandlerErrorsDoNotStopStream(t *testing.T) {
	h := &mockHandler{err: errors.New("tampering detected")}
	rc := newTestClient(h)

	err := rc.dispatch(context.Background(), 0, &pglogrepl.DeleteMessage{RelationID: 16384, OldTuple: tuple(nil, str("3"), nil)})
	if err != nil {
		t.Errorf("Handler failure should not end the stream: %v", err)
	}
}

func TestClientRequiresConnection(t *testing.T) {
	rc := NewReplicationClient(&ReplicationConfig{}, nil, nil)
	ctx := context.Background()

	if err := rc.CreateSlotIfNotExists(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := rc.ReceiveMessage(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}
