package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Role names a session consumer with its own persisted session record.
type Role string

const (
	RoleHermes     Role = "hermes"
	RoleEnrichment Role = "enrichment"
)

// Record is the persisted session identity for one role.
type Record struct {
	SessionID string `json:"session_id"`
	UpdatedAt string `json:"updated_at"`
}

// Tracker reads and writes the session record for one role.
// Single writer (the agent runner); readers tolerate concurrent replacement
// because writes go through temp-file-and-rename.
type Tracker struct {
	path string
}

// NewTracker creates a tracker rooted at the repository root.
func NewTracker(root string, role Role) *Tracker {
	return &Tracker{path: filepath.Join(root, ".galaxy", string(role)+"-session.json")}
}

// Path returns the session file location.
func (t *Tracker) Path() string { return t.path }

// Load returns the persisted session id, or "" when none exists.
// A corrupt record reads as empty; the next save replaces it.
func (t *Tracker) Load() string {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return ""
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return ""
	}
	return rec.SessionID
}

// Save overwrites the session record with a new id.
func (t *Tracker) Save(sessionID string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	rec := Record{
		SessionID: sessionID,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session record: %w", err)
	}
	return nil
}

// Reset deletes the session record, forcing the next invocation to start a
// fresh agent session.
func (t *Tracker) Reset() error {
	err := os.Remove(t.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reset session record: %w", err)
	}
	return nil
}
