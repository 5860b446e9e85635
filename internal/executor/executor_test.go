package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/orders"
)

func newTestExecutor(t *testing.T, timeout time.Duration) (*Executor, *orders.Store) {
	t.Helper()
	store := orders.NewStore(t.TempDir())
	e := New(store, timeout, 10*time.Millisecond)
	return e, store
}

// respondTo plays the daemon: waits for the order file, then writes the
// response markdown.
func respondTo(t *testing.T, store *orders.Store, orderID, text string) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if _, err := os.Stat(store.OrderPath(orderID)); err == nil {
				order, err := store.ReadOrder(store.OrderPath(orderID))
				if err == nil {
					store.WriteResponse(&order, text)
					return
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestExecuteHappyPath(t *testing.T) {
	e, store := newTestExecutor(t, 5*time.Second)
	order := &orders.Order{
		OrderID: "20260202-120000-000001",
		Payload: "focus on module X",
		ChatID:  "386246614",
		Channel: "telegram",
	}
	respondTo(t, store, order.OrderID, "Done: module X prioritized.")

	result := e.Execute(context.Background(), order)
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.Error)
	}
	if !strings.Contains(result.ResponseText, "Done: module X prioritized.") {
		t.Errorf("response = %q", result.ResponseText)
	}

	// Response file consumed, liveness notifications cleaned.
	if _, err := store.ReadResponse(order.OrderID); err == nil {
		t.Error("response file not deleted")
	}
	if _, err := os.Stat(filepath.Join(store.OutboxDir(), orders.ProcessingNotificationName(order.OrderID))); err == nil {
		t.Error("processing notification not cleaned up")
	}
}

func TestExecuteMarksDeliveryNotificationSent(t *testing.T) {
	e, store := newTestExecutor(t, 5*time.Second)
	order := &orders.Order{OrderID: "20260202-120000-000009", Payload: "dedup check", ChatID: "42"}

	// Daemon stand-in writes both the response file and its delivery
	// notification, as the real daemon does.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			o, err := store.ReadOrder(store.OrderPath(order.OrderID))
			if err == nil {
				n := orders.NewNotification(orders.SeveritySuccess, "Hermes", "dedup done")
				n.OrderID = order.OrderID
				n.ChatID = order.ChatID
				store.WriteOutbox(orders.DeliveredNotificationName(order.OrderID), n)
				store.WriteResponse(&o, "dedup done")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result := e.Execute(context.Background(), order)
	if !result.Success {
		t.Fatalf("Execute: %s", result.Error)
	}

	// The inline response is the delivery; the outbox copy must not go out.
	n, err := store.ReadOrderNotification(orders.DeliveredNotificationName(order.OrderID))
	if err != nil {
		t.Fatalf("delivery notification missing: %v", err)
	}
	if !n.Sent || n.SentAt == "" {
		t.Errorf("delivery notification not marked sent: %+v", n)
	}
}

func TestExecuteWritesProcessingNotification(t *testing.T) {
	e, store := newTestExecutor(t, 200*time.Millisecond)
	order := &orders.Order{OrderID: "20260202-120000-000002", Payload: "slow", ChatID: "42"}

	// No responder: times out, but the intake notification must have existed.
	done := make(chan Result, 1)
	go func() { done <- e.Execute(context.Background(), order) }()

	var seen bool
	for i := 0; i < 40 && !seen; i++ {
		if n, err := store.ReadOrderNotification(orders.ProcessingNotificationName(order.OrderID)); err == nil {
			seen = true
			if n.Severity != orders.SeverityInfo || n.ChatID != "42" {
				t.Errorf("processing notification = %+v", n)
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !seen {
		t.Error("processing notification never appeared")
	}
	<-done
}

func TestExecuteTimeout(t *testing.T) {
	e, store := newTestExecutor(t, 150*time.Millisecond)
	order := &orders.Order{OrderID: "20260202-120000-000003", Payload: "never answered", ChatID: "42"}

	result := e.Execute(context.Background(), order)
	if result.Success {
		t.Fatal("Execute succeeded without a response")
	}
	if !strings.Contains(result.Error, "Timeout after") {
		t.Errorf("error = %q", result.Error)
	}

	// Pending order withdrawn, notifications cleaned.
	if _, err := os.Stat(store.OrderPath(order.OrderID)); err == nil {
		t.Error("pending order not withdrawn after timeout")
	}
	entries, _ := os.ReadDir(store.OutboxDir())
	for _, entry := range entries {
		if strings.Contains(entry.Name(), order.OrderID) {
			t.Errorf("notification %s survived timeout", entry.Name())
		}
	}
}

func TestExecuteTimeoutReleasesClaim(t *testing.T) {
	e, store := newTestExecutor(t, 150*time.Millisecond)
	order := &orders.Order{OrderID: "20260202-120000-000004", Payload: "claimed but stuck"}

	// Play a daemon that claims the order and never responds.
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if _, err := store.Claim(store.OrderPath(order.OrderID)); err == nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result := e.Execute(context.Background(), order)
	if result.Success {
		t.Fatal("Execute succeeded without a response")
	}
	// The claim must be released back to pending for retry.
	if _, err := os.Stat(store.OrderPath(order.OrderID)); err != nil {
		t.Errorf("order not released after timeout: %v", err)
	}
}

func TestExecuteHeartbeats(t *testing.T) {
	e, store := newTestExecutor(t, 5*time.Second)
	e.heartbeatEvery = 80 * time.Millisecond
	order := &orders.Order{OrderID: "20260202-120000-000005", Payload: "long job", ChatID: "42"}

	// Respond only after a heartbeat notification appears.
	sawHeartbeat := make(chan struct{})
	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			matches, _ := filepath.Glob(filepath.Join(store.OutboxDir(), "heartbeat-"+order.OrderID+"-*.json"))
			if len(matches) > 0 {
				close(sawHeartbeat)
				o, err := store.ReadOrder(store.OrderPath(order.OrderID))
				if err == nil {
					store.WriteResponse(&o, "finally done")
				}
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result := e.Execute(context.Background(), order)
	if !result.Success {
		t.Fatalf("Execute: %s", result.Error)
	}
	select {
	case <-sawHeartbeat:
	default:
		t.Error("no heartbeat notification observed")
	}
}

func TestExecuteRejectsInvalidPayloads(t *testing.T) {
	e, _ := newTestExecutor(t, time.Second)

	result := e.Execute(context.Background(), &orders.Order{Payload: ""})
	if result.Success || result.Error == "" {
		t.Errorf("empty payload result = %+v", result)
	}

	long := &orders.Order{Payload: strings.Repeat("x", orders.MaxPayloadChars+1)}
	result = e.Execute(context.Background(), long)
	if result.Success || !strings.Contains(result.Error, "exceeds") {
		t.Errorf("oversized payload result = %+v", result)
	}
}

func TestLoopPublishesOutbound(t *testing.T) {
	e, store := newTestExecutor(t, 5*time.Second)
	router := bus.NewMessageBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Loop(ctx, router)

	// Daemon stand-in: respond to whatever order shows up.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			pending, _, _ := store.ReadUnacknowledged()
			for _, p := range pending {
				store.WriteResponse(&p.Order, "loop response")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	router.PublishInbound(bus.InboundMessage{
		Channel:  "telegram",
		SenderID: "386246614",
		ChatID:   "386246614",
		Content:  "hello",
	})

	out, ok := router.ConsumeOutbound(ctx)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Channel != "telegram" || out.ChatID != "386246614" {
		t.Errorf("outbound routing = %+v", out)
	}
	if !strings.Contains(out.Content, "loop response") {
		t.Errorf("outbound content = %q", out.Content)
	}
}

func TestOrderIDIsTimestampSorted(t *testing.T) {
	t1 := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	id1 := OrderID("telegram:42", t1)
	id2 := OrderID("telegram:42", t2)
	if !(id1 < id2) {
		t.Errorf("ids not sorted: %q vs %q", id1, id2)
	}
	// Same instant, different sessions: distinct ids.
	if OrderID("telegram:42", t1) == OrderID("web:owl", t1) {
		t.Error("ids collide across session keys")
	}
}
