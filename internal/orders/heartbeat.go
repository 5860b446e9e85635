package orders

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const heartbeatFile = ".sisyphus/notepads/galaxy-session-heartbeat.json"

// StaleAfter is how old a heartbeat may be before the daemon is presumed dead.
const StaleAfter = 120 * time.Second

// Heartbeat is the daemon liveness record, rewritten every poll tick.
type Heartbeat struct {
	Status          string `json:"status"` // running or stopped
	Daemon          string `json:"daemon"`
	StartedAt       string `json:"started_at"`
	LastHeartbeatAt string `json:"last_heartbeat_at"`
	LastPollAt      string `json:"last_poll_at,omitempty"`
	StoppedAt       string `json:"stopped_at,omitempty"`
	OrdersProcessed int    `json:"orders_processed"`
	FailureCount    int    `json:"failure_count"`
	Machine         string `json:"machine,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// HeartbeatPath returns the daemon heartbeat file location.
func (s *Store) HeartbeatPath() string {
	return filepath.Join(s.root, heartbeatFile)
}

// WriteHeartbeat records daemon liveness via temp-file-and-rename so readers
// never observe a partial record.
func (s *Store) WriteHeartbeat(hb Heartbeat) error {
	if err := os.MkdirAll(filepath.Dir(s.HeartbeatPath()), 0755); err != nil {
		return fmt.Errorf("create heartbeat dir: %w", err)
	}
	hb.LastHeartbeatAt = Timestamp(time.Now())
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := writeFileAtomic(s.HeartbeatPath(), data); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// ReadHeartbeat returns the current heartbeat record if one exists.
func (s *Store) ReadHeartbeat() (Heartbeat, error) {
	var hb Heartbeat
	data, err := os.ReadFile(s.HeartbeatPath())
	if err != nil {
		return hb, err
	}
	if err := json.Unmarshal(data, &hb); err != nil {
		return hb, fmt.Errorf("parse heartbeat: %w", err)
	}
	return hb, nil
}

// MarkHeartbeatStopped flips the record to stopped on clean shutdown.
// Best effort; a missing or corrupt file is left alone.
func (s *Store) MarkHeartbeatStopped() {
	hb, err := s.ReadHeartbeat()
	if err != nil {
		return
	}
	hb.Status = "stopped"
	hb.StoppedAt = Timestamp(time.Now())
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.HeartbeatPath(), data, 0644)
}

// Stale reports whether a heartbeat is too old to trust.
func (hb Heartbeat) Stale(now time.Time) bool {
	t, err := time.Parse(timeFormat, hb.LastHeartbeatAt)
	if err != nil {
		return true
	}
	return now.Sub(t) > StaleAfter
}
