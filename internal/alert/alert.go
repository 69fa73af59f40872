package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xtchd/xtchd/internal/chain"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Manager struct {
	enabled      bool
	slackWebhook string
	httpClient   HTTPClient
	now          func() time.Time
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewManager(enabled bool, slackWebhook string) *Manager {
	return NewManagerWithClient(enabled, slackWebhook, &http.Client{Timeout: 10 * time.Second})
}

func NewManagerWithClient(enabled bool, slackWebhook string, client HTTPClient) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		httpClient:   client,
		now:          time.Now,
	}
}

func (m *Manager) active() bool {
	return m != nil && m.enabled && m.slackWebhook != ""
}

// SendIntegrityAlert reports a row that failed hash or link verification,
// or that the database rejected at insert.
func (m *Manager) SendIntegrityAlert(ctx context.Context, ie *chain.IntegrityError) error {
	if !m.active() || ie == nil {
		return nil
	}

	fields := []slackField{
		{Title: "Table", Value: ie.Table, Short: true},
		{Title: "Row", Value: strconv.Itoa(int(ie.RowID)), Short: true},
		{Title: "Reason", Value: string(ie.Reason), Short: true},
	}
	if ie.Expected != "" {
		fields = append(fields, slackField{Title: "Expected", Value: ie.Expected})
	}
	if ie.Actual != "" {
		fields = append(fields, slackField{Title: "Actual", Value: ie.Actual})
	}
	if ie.Err != nil {
		fields = append(fields, slackField{Title: "Details", Value: ie.Err.Error()})
	}

	return m.sendSlackMessage(ctx, slackMessage{
		Text: "🚨 *HASH CHAIN INTEGRITY VIOLATION*",
		Attachments: []slackAttachment{
			{
				Color:  "danger",
				Title:  "Hash Chain Broken",
				Fields: fields,
				Footer: "xtchd integrity monitor",
				Ts:     m.now().Unix(),
			},
		},
	})
}

// SendMutationAlert reports an UPDATE, DELETE or TRUNCATE observed on an
// append-only table.
func (m *Manager) SendMutationAlert(ctx context.Context, tableName, operation, rowID, details string) error {
	if !m.active() {
		return nil
	}

	return m.sendSlackMessage(ctx, slackMessage{
		Text: "🚨 *TAMPERING DETECTED*",
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: "Append-only Table Mutated",
				Fields: []slackField{
					{Title: "Table", Value: tableName, Short: true},
					{Title: "Operation", Value: operation, Short: true},
					{Title: "Row", Value: rowID, Short: true},
					{Title: "Details", Value: details, Short: false},
				},
				Footer: "xtchd integrity monitor",
				Ts:     m.now().Unix(),
			},
		},
	})
}

func (m *Manager) SendSystemAlert(ctx context.Context, title, message, severity string) error {
	if !m.active() {
		return nil
	}

	color := "danger"
	if severity == "warning" {
		color = "warning"
	} else if severity == "good" {
		color = "good"
	}

	return m.sendSlackMessage(ctx, slackMessage{
		Text: fmt.Sprintf("🚨 *SYSTEM ALERT: %s*", title),
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: title,
				Fields: []slackField{
					{Title: "Message", Value: message, Short: false},
				},
				Footer: "xtchd system monitor",
				Ts:     m.now().Unix(),
			},
		},
	})
}

func (m *Manager) sendSlackMessage(ctx context.Context, msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.slackWebhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
