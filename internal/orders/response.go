package orders

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const responsePrefix = "galaxy-order-response-"

// ResponsePath returns where the agent writes the response for an order.
func (s *Store) ResponsePath(orderID string) string {
	return filepath.Join(s.ResponseDir(), responsePrefix+orderID+".md")
}

// ReadResponse returns the response markdown for an order, or fs.ErrNotExist.
func (s *Store) ReadResponse(orderID string) (string, error) {
	data, err := os.ReadFile(s.ResponsePath(orderID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeleteResponse removes a consumed response file. Missing files are fine;
// another reader may have consumed it first.
func (s *Store) DeleteResponse(orderID string) {
	os.Remove(s.ResponsePath(orderID))
}

// WriteResponse writes the response markdown for an order: header metadata,
// body, trailing signature.
func (s *Store) WriteResponse(order *Order, responseText string) (string, error) {
	if err := os.MkdirAll(s.ResponseDir(), 0755); err != nil {
		return "", fmt.Errorf("create response dir: %w", err)
	}

	content := "# Galaxy Order Response\n\n"
	content += fmt.Sprintf("**Order**: %s\n", order.Timestamp)
	content += fmt.Sprintf("**Message**: %q\n\n", order.Payload)
	content += "---\n\n"
	content += responseText + "\n\n"
	content += "---\n\n"
	content += fmt.Sprintf("*Hermes - %s*\n", Timestamp(time.Now()))

	path := s.ResponsePath(order.OrderID)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write response: %w", err)
	}
	return path, nil
}

// LatestResponsePath returns the newest galaxy-order-response-*.md file,
// used as a fallback when no response matches an order id exactly.
func (s *Store) LatestResponsePath() (string, bool) {
	matches, err := filepath.Glob(filepath.Join(s.ResponseDir(), responsePrefix+"*.md"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, ei := os.Stat(matches[i])
		fj, ej := os.Stat(matches[j])
		if ei != nil || ej != nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})
	return matches[len(matches)-1], true
}
