package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtchd/xtchd/internal/api"
	"github.com/xtchd/xtchd/internal/cdc"
	"github.com/xtchd/xtchd/internal/verify"
	"github.com/xtchd/xtchd/internal/views"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve verified reads over HTTP and verify chains periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(ctx); err != nil {
				return err
			}

			cps, err := a.checkpoints()
			if err != nil {
				return err
			}
			defer cps.Close()

			verifier := verify.NewVerifier(a.store, cps, a.logger)
			verifier.SetPageSize(a.cfg.Verify.PageSize)
			verifier.SetAlerter(a.alerts)
			for _, t := range a.cfg.Tables {
				if err := verifier.AddTable(&verify.TableConfig{Name: t.Name, VerifyInterval: t.VerifyInterval}); err != nil {
					return err
				}
			}
			if err := verifier.Start(ctx); err != nil {
				return fmt.Errorf("failed to start verifier: %w", err)
			}
			defer verifier.Stop()

			if a.cfg.Replication.Enabled {
				repl, err := a.startGuard(ctx)
				if err != nil {
					return err
				}
				defer stopReplication(a, repl)
			}

			server := api.NewServer(a.cfg.API.ListenAddr, views.New(a.store, a.logger), a.store, verifier, a.logger)
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Serving", "addr", a.cfg.API.ListenAddr)
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			}

			a.logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the logical replication stream and alert on any mutation of a chained table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.Replication.Enabled {
				return errors.New("replication is not enabled in the configuration")
			}

			repl, err := a.startGuard(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %d table(s) on slot %s\n", len(a.cfg.Tables), a.cfg.Replication.SlotName)

			<-ctx.Done()
			stopReplication(a, repl)
			return nil
		},
	}
}

// startGuard starts replication with an append-only guard over every
// configured table, each linked from its current chain head.
func (a *app) startGuard(ctx context.Context) (*cdc.Manager, error) {
	guard := verify.NewAppendOnlyGuard(a.logger)
	guard.SetAlerter(a.alerts)
	for _, t := range a.cfg.TableNames() {
		head, err := a.store.Head(ctx, t)
		if err != nil {
			return nil, err
		}
		if err := guard.AddTable(t, head); err != nil {
			return nil, err
		}
	}

	repl := cdc.NewManager(&cdc.ReplicationConfig{
		ConnString:      a.cfg.Database.ConnectionString(),
		SlotName:        a.cfg.Replication.SlotName,
		PublicationName: a.cfg.Replication.PublicationName,
		Tables:          a.cfg.TableNames(),
	}, a.logger)
	repl.AddHandler(guard)
	repl.SetAlerter(a.alerts)

	if err := repl.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize replication: %w", err)
	}
	if err := repl.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start replication: %w", err)
	}
	return repl, nil
}

func stopReplication(a *app, repl *cdc.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := repl.Stop(ctx); err != nil {
		a.logger.Warn("Failed to stop replication", "error", err)
	}
}
