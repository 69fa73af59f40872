package cdc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
)

const maxReceiveBackoff = 30 * time.Second

// Alerter receives notice of replication outages.
type Alerter interface {
	SendSystemAlert(ctx context.Context, title, message, severity string) error
}

// Manager owns the replication connection and fans decoded changes out to
// every registered handler.
type Manager struct {
	config *ReplicationConfig
	client *ReplicationClient
	logger *slog.Logger

	mu         sync.RWMutex
	handlers   []EventHandler
	alerter    Alerter
	currentLSN pglogrepl.LSN
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewManager(config *ReplicationConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (m *Manager) AddHandler(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Manager) SetAlerter(a Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerter = a
}

func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.createPublicationIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create publication: %w", err)
	}

	client := NewReplicationClient(m.config, m, m.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := client.CreateSlotIfNotExists(ctx); err != nil {
		client.Close(ctx)
		return fmt.Errorf("failed to create slot: %w", err)
	}

	m.client = client
	return nil
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("manager already running")
	}
	if m.client == nil {
		return errors.New("manager not initialized")
	}

	if err := m.client.StartReplication(ctx, m.currentLSN); err != nil {
		return fmt.Errorf("failed to start replication: %w", err)
	}

	m.running = true
	m.wg.Add(1)
	go m.receiveLoop(ctx)

	m.logger.Info("Replication started",
		"slot", m.config.SlotName, "publication", m.config.PublicationName, "lsn", m.currentLSN)
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.client != nil {
		return m.client.Close(ctx)
	}
	return nil
}

func (m *Manager) receiveLoop(ctx context.Context) {
	defer m.wg.Done()

	errorCount := 0
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := m.client.ReceiveMessage(ctx)
		if err == nil {
			errorCount = 0
			m.SetLSN(m.client.LastLSN())
			continue
		}
		if ctx.Err() != nil {
			return
		}

		errorCount++
		backoff := receiveBackoff(errorCount)
		m.logger.Error("Error receiving replication message", "error", err, "retry_in", backoff)

		m.mu.RLock()
		alerter := m.alerter
		m.mu.RUnlock()
		if alerter != nil {
			_ = alerter.SendSystemAlert(ctx,
				"Replication Connection Lost",
				fmt.Sprintf("Failed to receive replication message: %v. Retrying in %v...", err, backoff),
				"danger",
			)
		}

		select {
		case <-time.After(backoff):
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func receiveBackoff(errorCount int) time.Duration {
	if errorCount > 5 {
		return maxReceiveBackoff
	}
	backoff := time.Second << errorCount
	if backoff > maxReceiveBackoff {
		backoff = maxReceiveBackoff
	}
	return backoff
}

// HandleChange passes event to every handler, even when an earlier one
// fails, and returns the joined failures.
func (m *Manager) HandleChange(ctx context.Context, event *ChangeEvent) error {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler.HandleChange(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// publicationSQL builds the CREATE PUBLICATION statement for the
// configured tables.
func publicationSQL(name string, tables []string) string {
	if len(tables) == 0 {
		return fmt.Sprintf("CREATE PUBLICATION %s FOR ALL TABLES", pgx.Identifier{name}.Sanitize())
	}
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = pgx.Identifier{t}.Sanitize()
	}
	return fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s", pgx.Identifier{name}.Sanitize(), strings.Join(quoted, ", "))
}

func (m *Manager) createPublicationIfNotExists(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, m.config.ConnString)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_publication WHERE pubname = $1)",
		m.config.PublicationName,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check publication: %w", err)
	}

	if !exists {
		if _, err := conn.Exec(ctx, publicationSQL(m.config.PublicationName, m.config.Tables)); err != nil {
			return fmt.Errorf("failed to create publication: %w", err)
		}
		m.logger.Info("Created publication", "publication", m.config.PublicationName, "tables", m.config.Tables)
	}
	return nil
}

func (m *Manager) SetLSN(lsn pglogrepl.LSN) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentLSN = lsn
}

func (m *Manager) GetLSN() pglogrepl.LSN {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLSN
}
