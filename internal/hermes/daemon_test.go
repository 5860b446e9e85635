package hermes

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/galaxyproto/caduceus/internal/agent"
	"github.com/galaxyproto/caduceus/internal/orders"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

func writeStub(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "opencode")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv(agent.BinaryEnvVar, path)
}

func newTestDaemon(t *testing.T) (*Daemon, *orders.Store) {
	t.Helper()
	root := t.TempDir()
	store := orders.NewStore(root)
	tracker := sessions.NewTracker(root, sessions.RoleHermes)
	events := sessions.NewEventLog(root)
	runner := agent.NewRunner(root, "hermes", tracker, events, agent.WithTimeout(5*time.Second))
	return New(store, runner, events, "testhost", time.Second), store
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"stars command routes to curator", "/stars list", "STAR CURATOR"},
		{"stars with leading space", "  /stars audit", "STAR CURATOR"},
		{"plain order gets conversation preamble", "how is the build going?", "Telegram CONVERSATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildPrompt(tt.payload)
			if !strings.Contains(got, tt.want) {
				t.Errorf("BuildPrompt(%q) missing %q", tt.payload, tt.want)
			}
			if !strings.Contains(got, tt.payload) {
				t.Error("payload not carried into prompt")
			}
		})
	}
}

func TestProcessOrderHappyPath(t *testing.T) {
	writeStub(t, `printf '%s\n' '{"sessionID":"ses_1","part":{"type":"text","text":"build is green"}}'`)
	d, store := newTestDaemon(t)

	order := &orders.Order{Payload: "how is the build?", ChatID: "42", Channel: "telegram"}
	path, err := store.Write(order)
	if err != nil {
		t.Fatal(err)
	}

	d.processOrder(context.Background(), orders.PendingOrder{Path: path, Order: *order})

	// Archived with acknowledged=true.
	archived, err := store.ReadOrder(filepath.Join(store.ArchiveDir(), order.OrderID+".json"))
	if err != nil {
		t.Fatalf("archived order missing: %v", err)
	}
	if !archived.Acknowledged || archived.AcknowledgedBy != "Hermes" {
		t.Errorf("archived order = %+v", archived)
	}

	// Response file present for the gateway to consume.
	content, err := store.ReadResponse(order.OrderID)
	if err != nil {
		t.Fatalf("response missing: %v", err)
	}
	if !strings.Contains(content, "build is green") {
		t.Errorf("response = %q", content)
	}

	// Delivery notification carries the response and chat routing.
	n, err := store.ReadOrderNotification("hermes-" + order.OrderID + ".json")
	if err != nil {
		t.Fatalf("delivery notification missing: %v", err)
	}
	if n.Severity != orders.SeveritySuccess || n.ChatID != "42" || !strings.Contains(n.Message, "build is green") {
		t.Errorf("notification = %+v", n)
	}

	if d.ordersProcessed != 1 || d.failureCount != 0 {
		t.Errorf("stats = %d processed, %d failed", d.ordersProcessed, d.failureCount)
	}
}

func TestProcessOrderMissingBinaryReleasesClaim(t *testing.T) {
	t.Setenv(agent.BinaryEnvVar, "")
	t.Setenv("PATH", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	d, store := newTestDaemon(t)

	order := &orders.Order{Payload: "needs the agent", ChatID: "42"}
	path, err := store.Write(order)
	if err != nil {
		t.Fatal(err)
	}

	d.processOrder(context.Background(), orders.PendingOrder{Path: path, Order: *order})

	// Order back in pending for a later poll.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("order not released: %v", err)
	}

	// One warning notification, not one per retry.
	n, err := store.ReadOrderNotification("hermes-unavailable-" + order.OrderID + ".json")
	if err != nil {
		t.Fatalf("warning notification missing: %v", err)
	}
	if n.Severity != orders.SeverityWarning {
		t.Errorf("severity = %q", n.Severity)
	}

	d.processOrder(context.Background(), orders.PendingOrder{Path: path, Order: *order})
	entries, _ := os.ReadDir(store.OutboxDir())
	warnings := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "hermes-unavailable-") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}

func TestProcessOrderEmptyPayloadReleased(t *testing.T) {
	writeStub(t, "exit 0")
	d, store := newTestDaemon(t)

	// Write an empty-payload order directly; Store.Write would reject it.
	path := filepath.Join(store.OrdersDir(), "20260202-120000-000001.json")
	if err := os.MkdirAll(store.OrdersDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"order_id":"20260202-120000-000001","payload":"  ","acknowledged":false}`), 0644); err != nil {
		t.Fatal(err)
	}

	d.processOrder(context.Background(), orders.PendingOrder{Path: path})

	if _, err := os.Stat(path); err != nil {
		t.Errorf("empty order not released: %v", err)
	}
	if d.ordersProcessed != 0 {
		t.Errorf("processed = %d", d.ordersProcessed)
	}
}

func TestScanQuarantinesCorrupted(t *testing.T) {
	writeStub(t, `printf '%s\n' '{"part":{"type":"text","text":"ok"}}'`)
	d, store := newTestDaemon(t)

	if err := os.MkdirAll(store.OrdersDir(), 0755); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(store.OrdersDir(), "20260202-120000-000001.json")
	if err := os.WriteFile(bad, []byte("{corrupt"), 0644); err != nil {
		t.Fatal(err)
	}

	d.scan(context.Background())

	if _, err := os.Stat(bad); err == nil {
		t.Error("corrupted order still pending")
	}
	if _, err := os.Stat(filepath.Join(store.CorruptedDir(), filepath.Base(bad))); err != nil {
		t.Errorf("corrupted order not quarantined: %v", err)
	}
}

func TestRunProcessesAndWritesHeartbeat(t *testing.T) {
	writeStub(t, `printf '%s\n' '{"sessionID":"ses_run","part":{"type":"text","text":"done"}}'`)
	d, store := newTestDaemon(t)
	d.interval = 50 * time.Millisecond

	order := &orders.Order{Payload: "quick order", ChatID: "42"}
	if _, err := store.Write(order); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.ReadResponse(order.OrderID); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	hb, err := store.ReadHeartbeat()
	if err != nil {
		t.Fatalf("heartbeat missing: %v", err)
	}
	if hb.Status != "stopped" || hb.Daemon != "hermes" || hb.Machine != "testhost" {
		t.Errorf("heartbeat = %+v", hb)
	}
}
