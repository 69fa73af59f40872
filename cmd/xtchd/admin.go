package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/storage"
)

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory and create the chained tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}

			cps, err := a.checkpoints()
			if err != nil {
				return err
			}
			defer cps.Close()
			if err := cps.SetMetadata("node_id", a.cfg.Node.ID); err != nil {
				return fmt.Errorf("failed to write metadata: %w", err)
			}
			if _, err := cps.GetMetadata("initialized_at"); errors.Is(err, storage.ErrNotFound) {
				if err := cps.SetMetadata("initialized_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
					return fmt.Errorf("failed to write metadata: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized xtchd node: %s\n", a.cfg.Node.ID)
			fmt.Fprintf(out, "Data directory: %s\n", a.cfg.Node.DataDir)
			fmt.Fprintf(out, "Database driver: %s\n", a.cfg.Database.Driver)
			return nil
		},
	}
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chained tables, constraints and triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newHeadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "head <table>",
		Short: "Print the chain head of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tableArg(args[0]); err != nil {
				return err
			}
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			head, err := a.store.Head(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if head.Empty {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: empty (genesis %s)\n", args[0], head.Hash)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: id=%d sha256=%s\n", args[0], head.ID, head.Hash)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display chain heads, row counts and recent verification runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			cps, err := a.checkpoints()
			if err != nil {
				return err
			}
			defer cps.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node ID: %s\n", a.cfg.Node.ID)
			fmt.Fprintf(out, "Data Directory: %s\n", a.cfg.Node.DataDir)
			fmt.Fprintf(out, "\nChained Tables:\n")

			for _, t := range a.cfg.Tables {
				n, err := a.store.Count(cmd.Context(), t.Name)
				if err != nil {
					return err
				}
				head, err := a.store.Head(cmd.Context(), t.Name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  - %s (%d rows, verify every %s)\n", t.Name, n, t.VerifyInterval)
				if !head.Empty {
					fmt.Fprintf(out, "    Head: id=%d sha256=%s\n", head.ID, head.Hash[:16])
				}

				cp, err := cps.GetCheckpoint(t.Name)
				switch {
				case errors.Is(err, storage.ErrNotFound):
					fmt.Fprintf(out, "    Never verified\n")
				case err != nil:
					return err
				default:
					fmt.Fprintf(out, "    Checkpoint: id=%d sha256=%s at %s\n", cp.RowID, cp.Hash[:16], cp.VerifiedAt.Format(time.RFC3339))
				}

				recent, err := cps.ListRuns(t.Name, runs)
				if err != nil {
					return err
				}
				for _, r := range recent {
					result := "OK"
					if !r.OK {
						result = fmt.Sprintf("FAILED (%d problems)", len(r.Failures))
					}
					fmt.Fprintf(out, "    Run %s: %s, %d rows, %s\n", r.StartedAt.Format(time.RFC3339), result, r.Rows, r.Duration)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 3, "number of recent verification runs to show per table")
	return cmd
}

// tableArg validates a table given on the command line.
func tableArg(name string) error {
	if _, ok := content.ByTable(name); !ok {
		return fmt.Errorf("%q is not a chained table", name)
	}
	return nil
}
