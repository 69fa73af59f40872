// Command xtchd-tamper corrupts stored data behind xtchd's back so that
// tamper detection can be demonstrated. Never point it at a live database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xtchd/xtchd/internal/sqlitestore"
	"github.com/xtchd/xtchd/internal/storage"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s row <sqlite-path> <table> <id> <column> <value>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "      overwrite one column of a chained row\n")
	fmt.Fprintf(os.Stderr, "  %s checkpoint <checkpoints-db> <table>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "      corrupt the recorded checkpoint hash of a table\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "row":
		if len(os.Args) != 7 {
			usage()
		}
		err = tamperRow(os.Args[2], os.Args[3], os.Args[4], os.Args[5], os.Args[6])
	case "checkpoint":
		if len(os.Args) != 4 {
			usage()
		}
		err = tamperCheckpoint(os.Args[2], os.Args[3])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func tamperRow(dbPath, table, idArg, column, value string) error {
	id, err := strconv.ParseInt(idArg, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid row id %q", idArg)
	}

	fmt.Printf("Opening SQLite: %s\n", dbPath)
	ctx := context.Background()
	s, err := sqlitestore.Open(ctx, dbPath, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Tamper(ctx, table, int32(id), column, value); err != nil {
		return err
	}
	fmt.Printf("✓ Overwrote %s.%s of row %d\n", table, column, id)
	return nil
}

func tamperCheckpoint(dbPath, table string) error {
	fmt.Printf("Opening BoltDB: %s\n", dbPath)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to open BoltDB: %w", err)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(storage.CheckpointBucket)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", storage.CheckpointBucket)
		}
		data := bucket.Get([]byte(table))
		if data == nil {
			return fmt.Errorf("no checkpoint for table: %s", table)
		}

		var cp storage.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		fmt.Printf("Found checkpoint for %s (row %d)\n", table, cp.RowID)
		fmt.Printf("  Original Hash: %s...\n", cp.Hash[:32])

		if cp.Hash[0] == 'a' {
			cp.Hash = "b" + cp.Hash[1:]
		} else {
			cp.Hash = "a" + cp.Hash[1:]
		}
		fmt.Printf("  Corrupted Hash: %s...\n", cp.Hash[:32])

		corrupted, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal corrupted checkpoint: %w", err)
		}
		if err := bucket.Put([]byte(table), corrupted); err != nil {
			return fmt.Errorf("failed to save corrupted checkpoint: %w", err)
		}
		fmt.Println("✓ Successfully corrupted checkpoint")
		return nil
	})
}
