package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const eventLogFile = ".sisyphus/notepads/galaxy-session-events.jsonl"

// EventLog appends lifecycle records to the JSONL session event log.
// Observability data, not functional state: every write is best effort.
type EventLog struct {
	path string
}

// NewEventLog creates an event log rooted at the repository root.
func NewEventLog(root string) *EventLog {
	return &EventLog{path: filepath.Join(root, eventLogFile)}
}

// Log appends one event. Details merge into the record alongside the
// timestamp and event_type fields.
func (l *EventLog) Log(eventType string, details map[string]any) {
	record := make(map[string]any, len(details)+2)
	for k, v := range details {
		record[k] = v
	}
	record["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	record["event_type"] = eventType

	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(data, '\n'))
}
