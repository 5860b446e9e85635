package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Notification severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
	SeveritySuccess  = "success"
	SeverityAlert    = "alert"
)

// Notification is one outbox record awaiting user-visible delivery.
// sent=true is terminal; files are retained after send.
type Notification struct {
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	From         string `json:"from"`
	OrderID      string `json:"order_id,omitempty"`
	Message      string `json:"message"`
	OrderPayload string `json:"order_payload,omitempty"`
	Timestamp    string `json:"timestamp"`
	Sent         bool   `json:"sent"`
	SentAt       string `json:"sent_at,omitempty"`
	ChatID       string `json:"chat_id,omitempty"`

	// Channel names where a targeted notification goes back to. Empty means
	// the dispatcher's broadcast channel.
	Channel string `json:"channel,omitempty"`
}

// NewNotification fills the invariant fields.
func NewNotification(severity, from, message string) Notification {
	return Notification{
		Type:      "notification",
		Severity:  severity,
		From:      from,
		Message:   message,
		Timestamp: Timestamp(time.Now()),
	}
}

// OutboxEntry pairs a parsed notification with its on-disk location.
type OutboxEntry struct {
	Path         string
	Notification Notification
}

// WriteOutbox persists a notification under the given file name
// (without directory, e.g. "hermes-<orderID>.json").
func (s *Store) WriteOutbox(name string, n Notification) (string, error) {
	if err := os.MkdirAll(s.OutboxDir(), 0755); err != nil {
		return "", fmt.Errorf("create outbox dir: %w", err)
	}
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}
	path := filepath.Join(s.OutboxDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write notification: %w", err)
	}
	return path, nil
}

// ListUnsentOutbox returns unsent notifications in lexicographic
// (timestamp) order. Unparseable files are skipped, not quarantined;
// the outbox is advisory, not authoritative.
func (s *Store) ListUnsentOutbox() ([]OutboxEntry, error) {
	entries, err := os.ReadDir(s.OutboxDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read outbox dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var unsent []OutboxEntry
	for _, name := range names {
		path := filepath.Join(s.OutboxDir(), name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var n Notification
		if err := json.Unmarshal(data, &n); err != nil {
			continue
		}
		if n.Sent {
			continue
		}
		unsent = append(unsent, OutboxEntry{Path: path, Notification: n})
	}
	return unsent, nil
}

// MarkSent flips sent=true and records the send instant.
func (s *Store) MarkSent(entry OutboxEntry) error {
	entry.Notification.Sent = true
	entry.Notification.SentAt = Timestamp(time.Now())
	data, err := json.MarshalIndent(entry.Notification, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := os.WriteFile(entry.Path, data, 0644); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// ReadOrderNotification parses a single outbox record by file name.
func (s *Store) ReadOrderNotification(name string) (Notification, error) {
	var n Notification
	data, err := os.ReadFile(filepath.Join(s.OutboxDir(), name))
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("parse notification %s: %w", name, err)
	}
	return n, nil
}

// ProcessingNotificationName names the intake acknowledgment for an order.
func ProcessingNotificationName(orderID string) string {
	return "processing-" + orderID + ".json"
}

// DeliveredNotificationName names the daemon's full-response record for a
// completed order.
func DeliveredNotificationName(orderID string) string {
	return "hermes-" + orderID + ".json"
}

// MarkOrderDelivered flips the daemon's delivery record for an order to sent.
// Called by whichever gateway path relays the response inline, so the outbox
// dispatcher does not deliver the same response a second time.
func (s *Store) MarkOrderDelivered(orderID string) error {
	name := DeliveredNotificationName(orderID)
	n, err := s.ReadOrderNotification(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if n.Sent {
		return nil
	}
	return s.MarkSent(OutboxEntry{Path: filepath.Join(s.OutboxDir(), name), Notification: n})
}

// HeartbeatNotificationName names a liveness record for an order still
// running after the given number of elapsed seconds.
func HeartbeatNotificationName(orderID string, elapsedSeconds int) string {
	return fmt.Sprintf("heartbeat-%s-%d.json", orderID, elapsedSeconds)
}

// CleanupOrderNotifications removes the processing and heartbeat records for
// an order. Called on completion and on timeout.
func (s *Store) CleanupOrderNotifications(orderID string) {
	os.Remove(filepath.Join(s.OutboxDir(), ProcessingNotificationName(orderID)))

	matches, err := filepath.Glob(filepath.Join(s.OutboxDir(), "heartbeat-"+orderID+"-*.json"))
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}
