package cdc

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type mockHandler struct {
	mu     sync.Mutex
	events []*ChangeEvent
	err    error
}

func (m *mockHandler) HandleChange(_ context.Context, event *ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func TestEventHandlerFunc(t *testing.T) {
	var got *ChangeEvent
	h := EventHandlerFunc(func(_ context.Context, event *ChangeEvent) error {
		got = event
		return errors.New("rejected")
	})

	event := &ChangeEvent{TableName: "authors", Operation: OperationInsert}
	if err := h.HandleChange(context.Background(), event); err == nil || err.Error() != "rejected" {
		t.Errorf("Expected handler error to pass through, got %v", err)
	}
	if got != event {
		t.Error("Event not passed to function")
	}
}

func TestOperationType(t *testing.T) {
	tests := []struct {
		name string
		op   OperationType
		want string
	}{
		{"insert", OperationInsert, "INSERT"},
		{"update", OperationUpdate, "UPDATE"},
		{"delete", OperationDelete, "DELETE"},
		{"truncate", OperationTruncate, "TRUNCATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.op) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, string(tt.op))
			}
		})
	}
}
