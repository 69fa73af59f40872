// Package storage keeps verification state on the local node: the last
// verified head of every chain and a history of verification runs.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	CheckpointBucket = []byte("checkpoints")
	RunBucket        = []byte("runs")
	MetadataBucket   = []byte("metadata")
)

var ErrNotFound = errors.New("not found")

type Storage struct {
	db *bolt.DB
}

// Checkpoint is the head of a chain as last verified. A later run must
// still find this row with this hash, and at least as many rows.
type Checkpoint struct {
	TableName  string    `json:"table_name"`
	RowID      int32     `json:"row_id"`
	Hash       string    `json:"hash"`
	Rows       int64     `json:"rows"`
	VerifiedAt time.Time `json:"verified_at"`
	RunID      string    `json:"run_id"`
}

type Run struct {
	RunID     string    `json:"run_id"`
	TableName string    `json:"table_name"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Rows      int64     `json:"rows"`
	OK        bool      `json:"ok"`
	Failures  []string  `json:"failures,omitempty"`
}

func New(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{CheckpointBucket, RunBucket, MetadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveCheckpoint(cp *Checkpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		return tx.Bucket(CheckpointBucket).Put([]byte(cp.TableName), data)
	})
}

func (s *Storage) GetCheckpoint(tableName string) (*Checkpoint, error) {
	var cp Checkpoint

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(CheckpointBucket).Get([]byte(tableName))
		if data == nil {
			return fmt.Errorf("checkpoint for %s: %w", tableName, ErrNotFound)
		}
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}

	return &cp, nil
}

func runKey(tableName string, startedAt time.Time) []byte {
	return []byte(fmt.Sprintf("%s:%020d", tableName, startedAt.UnixNano()))
}

func (s *Storage) SaveRun(run *Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		return tx.Bucket(RunBucket).Put(runKey(run.TableName, run.StartedAt), data)
	})
}

// ListRuns returns up to limit runs of tableName, newest first.
func (s *Storage) ListRuns(tableName string, limit int) ([]*Run, error) {
	var runs []*Run
	prefix := []byte(tableName + ":")

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(RunBucket).Cursor()

		// Seek past the last key with this prefix, then walk backwards.
		end := append([]byte(tableName), ':'+1)
		k, v := c.Seek(end)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}

		for ; k != nil && hasPrefix(k, prefix); k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to unmarshal run %s: %w", k, err)
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return runs, nil
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}

func (s *Storage) SetMetadata(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(MetadataBucket).Put([]byte(key), []byte(value))
	})
}

func (s *Storage) GetMetadata(key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(MetadataBucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("metadata key %s: %w", key, ErrNotFound)
		}
		value = string(data)
		return nil
	})

	return value, err
}
