// Package orders implements the filesystem order protocol shared between the
// gateway and the hermes daemon.
//
// Every order is one JSON file. Its name moves through three states:
//
//	pending   <id>.json              in the orders directory
//	claimed   <id>.json.processing   rename grants exclusive ownership
//	archived  <id>.json              in the archive directory, acknowledged=true
//
// Atomicity is delegated to rename; all directories must live on the same
// volume.
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

const (
	ordersSubdir    = ".sisyphus/notepads/galaxy-orders"
	archiveSubdir   = ".sisyphus/notepads/galaxy-orders-archive"
	corruptedSubdir = ".sisyphus/notepads/galaxy-orders-corrupted"
	outboxSubdir    = ".sisyphus/notepads/galaxy-outbox"
	responseSubdir  = ".sisyphus/notepads"

	claimSuffix = ".processing"

	// MaxPayloadChars bounds the user text accepted into an order.
	MaxPayloadChars = 10000
)

// timeFormat matches the ISO instants written by every protocol participant.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

var (
	ErrEmptyPayload   = errors.New("order has empty payload and no media")
	ErrPayloadTooLong = fmt.Errorf("order payload exceeds %d chars", MaxPayloadChars)

	// ErrAlreadyClaimed means another consumer won the claim race.
	// Callers skip the order without treating this as a failure.
	ErrAlreadyClaimed = errors.New("order already claimed")
)

// Order is the persisted record for a single user request.
type Order struct {
	OrderID        string          `json:"order_id"`
	Payload        string          `json:"payload"`
	Timestamp      string          `json:"timestamp"`
	SessionKey     string          `json:"session_key,omitempty"`
	SenderID       string          `json:"sender_id,omitempty"`
	ChatID         string          `json:"chat_id,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	Project        string          `json:"project,omitempty"`
	ScheduledFor   string          `json:"scheduled_for,omitempty"`
	Media          json.RawMessage `json:"media,omitempty"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedAt string          `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
}

// Validate rejects orders that must never be persisted.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.Payload) == "" && len(o.Media) == 0 {
		return ErrEmptyPayload
	}
	if len([]rune(o.Payload)) > MaxPayloadChars {
		return ErrPayloadTooLong
	}
	return nil
}

// PendingOrder pairs a parsed order with its on-disk location.
type PendingOrder struct {
	Path  string
	Order Order
}

// Store provides the filesystem primitives over the protocol directories.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given repository root.
// Directories are created lazily by the operations that write into them.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) OrdersDir() string    { return filepath.Join(s.root, ordersSubdir) }
func (s *Store) ArchiveDir() string   { return filepath.Join(s.root, archiveSubdir) }
func (s *Store) CorruptedDir() string { return filepath.Join(s.root, corruptedSubdir) }
func (s *Store) OutboxDir() string    { return filepath.Join(s.root, outboxSubdir) }
func (s *Store) ResponseDir() string  { return filepath.Join(s.root, responseSubdir) }

// NewOrderID derives a unique order id from the current time.
// Microsecond precision avoids collisions within a scheduling tick; the
// optional suffix (e.g. a platform message id) further disambiguates.
func NewOrderID(now time.Time, suffix string) string {
	id := now.UTC().Format("20060102-150405-") + fmt.Sprintf("%06d", now.Nanosecond()/1000)
	if suffix != "" {
		id += "-" + suffix
	}
	return id
}

// Timestamp formats an instant the way order records carry them.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// Write validates and persists a pending order, returning its path.
func (s *Store) Write(order *Order) (string, error) {
	if err := order.Validate(); err != nil {
		return "", err
	}
	if order.OrderID == "" {
		order.OrderID = NewOrderID(time.Now(), "")
	}
	if order.Timestamp == "" {
		order.Timestamp = Timestamp(time.Now())
	}

	if err := os.MkdirAll(s.OrdersDir(), 0755); err != nil {
		return "", fmt.Errorf("create orders dir: %w", err)
	}

	path := filepath.Join(s.OrdersDir(), order.OrderID+".json")
	data, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write order: %w", err)
	}
	return path, nil
}

// Claim renames <id>.json to <id>.json.processing, granting the caller
// exclusive ownership. ErrAlreadyClaimed means someone else got there first.
func (s *Store) Claim(path string) (string, error) {
	claimed := path + claimSuffix
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrAlreadyClaimed
		}
		return "", fmt.Errorf("claim order: %w", err)
	}
	return claimed, nil
}

// Release renames a claimed order back to pending so it can be retried.
func (s *Store) Release(claimedPath string) error {
	pending := strings.TrimSuffix(claimedPath, claimSuffix)
	if pending == claimedPath {
		return fmt.Errorf("release: %q is not a claimed order", claimedPath)
	}
	if err := os.Rename(claimedPath, pending); err != nil {
		return fmt.Errorf("release order: %w", err)
	}
	return nil
}

// Archive finalizes a claimed order: marks it acknowledged, writes the record
// into the archive directory (complete-or-absent via temp and rename), then
// removes the claim.
func (s *Store) Archive(claimedPath string, order *Order, acknowledgedBy string) error {
	order.Acknowledged = true
	order.AcknowledgedAt = Timestamp(time.Now())
	order.AcknowledgedBy = acknowledgedBy

	if err := os.MkdirAll(s.ArchiveDir(), 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	data, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archived order: %w", err)
	}
	dest := filepath.Join(s.ArchiveDir(), order.OrderID+".json")
	if err := writeFileAtomic(dest, data); err != nil {
		return fmt.Errorf("archive order: %w", err)
	}

	if err := os.Remove(claimedPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove claim: %w", err)
	}
	return nil
}

// ReadUnacknowledged enumerates pending orders in lexicographic filename
// order, which the timestamp naming makes creation order. Claimed entries are
// skipped; unparseable files are quarantined and reported in the second
// return value.
func (s *Store) ReadUnacknowledged() ([]PendingOrder, []string, error) {
	entries, err := os.ReadDir(s.OrdersDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read orders dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.Contains(name, claimSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var pending []PendingOrder
	var quarantined []string
	for _, name := range names {
		path := filepath.Join(s.OrdersDir(), name)
		order, err := s.ReadOrder(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if qerr := s.Quarantine(path); qerr == nil {
				quarantined = append(quarantined, name)
			}
			continue
		}
		if order.Acknowledged {
			continue
		}
		pending = append(pending, PendingOrder{Path: path, Order: order})
	}
	return pending, quarantined, nil
}

// ReadOrder parses a single order file.
func (s *Store) ReadOrder(path string) (Order, error) {
	var order Order
	data, err := os.ReadFile(path)
	if err != nil {
		return order, err
	}
	if err := json.Unmarshal(data, &order); err != nil {
		return order, fmt.Errorf("parse order %s: %w", filepath.Base(path), err)
	}
	if order.OrderID == "" {
		order.OrderID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return order, nil
}

// Quarantine moves an unparseable order into the corrupted directory so it
// stops blocking the scan loop but is never silently lost.
func (s *Store) Quarantine(path string) error {
	if err := os.MkdirAll(s.CorruptedDir(), 0755); err != nil {
		return fmt.Errorf("create corrupted dir: %w", err)
	}
	dest := filepath.Join(s.CorruptedDir(), filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("quarantine order: %w", err)
	}
	return nil
}

// OrderPath returns where a pending order with the given id would live.
func (s *Store) OrderPath(orderID string) string {
	return filepath.Join(s.OrdersDir(), orderID+".json")
}

// writeFileAtomic writes via a temp file in the target directory and renames
// into place. Readers see either the prior content or the new complete file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
