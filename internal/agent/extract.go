package agent

import (
	"encoding/json"
	"strings"
)

// streamEvent is the subset of the agent's NDJSON output we care about.
type streamEvent struct {
	SessionID string      `json:"sessionID"`
	Content   string      `json:"content"`
	Part      *streamPart `json:"part"`
}

type streamPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractResponse assembles readable text from the agent's stdout stream.
// Text parts are concatenated in order; events carrying a top-level content
// field contribute that instead. Output with no JSON at all is returned
// trimmed as-is.
func ExtractResponse(raw string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")

	hasJSON := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			hasJSON = true
			break
		}
	}
	if !hasJSON {
		return strings.TrimSpace(raw)
	}

	var parts []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Part != nil {
			if ev.Part.Type == "text" {
				parts = append(parts, ev.Part.Text)
			}
		} else if ev.Content != "" {
			parts = append(parts, ev.Content)
		}
	}

	if len(parts) > 0 {
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	if len(raw) > 2000 {
		raw = raw[:2000]
	}
	return strings.TrimSpace(raw)
}

// ExtractSessionID returns the first sessionID carried by any stream event.
func ExtractSessionID(raw string) string {
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.SessionID != "" {
			return ev.SessionID
		}
	}
	return ""
}
