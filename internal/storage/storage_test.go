package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "xtchd-test.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckpoints(t *testing.T) {
	storage := newTestStorage(t)

	t.Run("MissingCheckpoint", func(t *testing.T) {
		_, err := storage.GetCheckpoint("authors")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveAndGetCheckpoint", func(t *testing.T) {
		cp := &Checkpoint{
			TableName:  "authors",
			RowID:      1,
			Hash:       "7b32f1219b87ce2b2c2eb4a8cf5ed45df48ebad5a25bc2f28f005291bbf3c4e3",
			Rows:       2,
			VerifiedAt: time.Now().UTC(),
			RunID:      "run-1",
		}
		if err := storage.SaveCheckpoint(cp); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}

		got, err := storage.GetCheckpoint("authors")
		if err != nil {
			t.Fatalf("GetCheckpoint failed: %v", err)
		}
		if got.Hash != cp.Hash || got.RowID != 1 || got.Rows != 2 {
			t.Errorf("Unexpected checkpoint: %+v", got)
		}
	})

	t.Run("CheckpointIsReplaced", func(t *testing.T) {
		if err := storage.SaveCheckpoint(&Checkpoint{TableName: "authors", RowID: 2, Hash: "h2", Rows: 3}); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
		got, err := storage.GetCheckpoint("authors")
		if err != nil {
			t.Fatalf("GetCheckpoint failed: %v", err)
		}
		if got.RowID != 2 {
			t.Errorf("Expected row 2, got %d", got.RowID)
		}
	})
}

func TestRuns(t *testing.T) {
	storage := newTestStorage(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, table := range []string{"articles", "authors", "authors", "authors", "authors_extra"} {
		run := &Run{
			RunID:     table + string(rune('a'+i)),
			TableName: table,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			OK:        i != 2,
		}
		if err := storage.SaveRun(run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	runs, err := storage.ListRuns("authors", 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	if runs[0].RunID != "authorsd" || runs[2].RunID != "authorsb" {
		t.Errorf("Expected newest first, got %s..%s", runs[0].RunID, runs[2].RunID)
	}

	limited, err := storage.ListRuns("authors", 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(limited))
	}

	none, err := storage.ListRuns("images", 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no runs, got %d", len(none))
	}

	last, err := storage.ListRuns("authors_extra", 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(last) != 1 {
		t.Errorf("Expected 1 run, got %d", len(last))
	}
}

func TestMetadata(t *testing.T) {
	storage := newTestStorage(t)

	if err := storage.SetMetadata("node_id", "node-1"); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}

	value, err := storage.GetMetadata("node_id")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if value != "node-1" {
		t.Errorf("Expected node-1, got %s", value)
	}

	if _, err := storage.GetMetadata("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
