// Package executor bridges bus messages to the hermes daemon through the
// filesystem order protocol.
//
// One Execute call covers the whole lifecycle of an order on the gateway
// side: write the order file, acknowledge intake via the outbox, poll for the
// response file, emit liveness heartbeats while the agent works, and clean up
// on completion or timeout. The daemon side (claiming, agent invocation,
// archiving) lives in the hermes package.
package executor

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/galaxyproto/caduceus/internal/orders"
)

// heartbeatInterval spaces liveness notifications for long-running orders.
const heartbeatInterval = 60 * time.Second

// Result is the structured outcome of one order execution.
type Result struct {
	Success      bool
	ResponseText string
	Error        string
}

// Executor writes orders and waits for the daemon's responses.
type Executor struct {
	store        *orders.Store
	timeout      time.Duration
	pollInterval time.Duration

	// heartbeatEvery is overridable in tests; heartbeatInterval otherwise.
	heartbeatEvery time.Duration
}

// New creates an Executor over the given store.
func New(store *orders.Store, timeout, pollInterval time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Executor{
		store:          store,
		timeout:        timeout,
		pollInterval:   pollInterval,
		heartbeatEvery: heartbeatInterval,
	}
}

// OrderID derives a unique order id from the session key and an instant.
// The timestamp prefix keeps order files sorted by creation time; the session
// key digest ties the id to its conversation without leaking the key into
// file names.
func OrderID(sessionKey string, now time.Time) string {
	sum := sha256.Sum256([]byte(sessionKey))
	return orders.NewOrderID(now, fmt.Sprintf("%x", sum[:4]))
}

// Execute runs one order end to end and reports the outcome. The returned
// Result is always populated; errors during the protocol dance degrade to
// Result.Error rather than propagating.
func (e *Executor) Execute(ctx context.Context, order *orders.Order) Result {
	if err := order.Validate(); err != nil {
		return Result{Error: err.Error()}
	}
	if order.OrderID == "" {
		order.OrderID = OrderID(order.SessionKey, time.Now())
	}

	if _, err := e.store.Write(order); err != nil {
		return Result{Error: fmt.Sprintf("write order: %v", err)}
	}

	e.notifyProcessing(order)

	start := time.Now()
	lastHeartbeat := start
	deadline := start.Add(e.timeout)

	for time.Now().Before(deadline) {
		responseText, err := e.store.ReadResponse(order.OrderID)
		if err == nil {
			e.store.DeleteResponse(order.OrderID)
			e.store.CleanupOrderNotifications(order.OrderID)
			if err := e.store.MarkOrderDelivered(order.OrderID); err != nil {
				slog.Warn("mark delivered failed", "order_id", order.OrderID, "error", err)
			}
			return Result{Success: true, ResponseText: responseText}
		}
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("response read failed", "order_id", order.OrderID, "error", err)
		}

		elapsed := time.Since(start)
		if elapsed >= e.heartbeatEvery && time.Since(lastHeartbeat) >= e.heartbeatEvery {
			e.notifyHeartbeat(order, elapsed)
			lastHeartbeat = time.Now()
		}

		select {
		case <-ctx.Done():
			e.cleanupAbandoned(order)
			return Result{Error: "cancelled"}
		case <-time.After(e.pollInterval):
		}
	}

	e.cleanupAbandoned(order)
	return Result{Error: fmt.Sprintf("Timeout after %ds waiting for response", int(e.timeout.Seconds()))}
}

// notifyProcessing acknowledges intake so the user knows the order was seen.
func (e *Executor) notifyProcessing(order *orders.Order) {
	n := orders.NewNotification(orders.SeverityInfo, "Hermes", fmt.Sprintf(
		"⏳ <b>Processing your order...</b>\n\n<code>%s</code>", preview(order.Payload, 80)))
	n.OrderID = order.OrderID
	n.ChatID = order.ChatID
	n.Channel = order.Channel
	if _, err := e.store.WriteOutbox(orders.ProcessingNotificationName(order.OrderID), n); err != nil {
		slog.Warn("processing notification failed", "order_id", order.OrderID, "error", err)
	}
}

// notifyHeartbeat tells the user the agent is still working. Write failures
// are non-fatal; liveness is best effort.
func (e *Executor) notifyHeartbeat(order *orders.Order, elapsed time.Duration) {
	elapsedSec := int(elapsed.Seconds())
	n := orders.NewNotification(orders.SeverityInfo, "Hermes", fmt.Sprintf(
		"⏳ <b>Still working...</b> (%dm elapsed)\n\n<code>%s</code>",
		elapsedSec/60, preview(order.Payload, 60)))
	n.OrderID = order.OrderID
	n.ChatID = order.ChatID
	n.Channel = order.Channel
	if _, err := e.store.WriteOutbox(orders.HeartbeatNotificationName(order.OrderID, elapsedSec), n); err != nil {
		slog.Warn("heartbeat notification failed", "order_id", order.OrderID, "error", err)
	}
}

// cleanupAbandoned removes the traces of an order we stopped waiting for.
// A still-pending order file is withdrawn; a claim held by the daemon is
// released so the order can be retried; liveness notifications go away.
func (e *Executor) cleanupAbandoned(order *orders.Order) {
	pending := e.store.OrderPath(order.OrderID)
	if _, err := os.Stat(pending); err == nil {
		os.Remove(pending)
	} else if _, err := os.Stat(pending + ".processing"); err == nil {
		if err := e.store.Release(pending + ".processing"); err != nil {
			slog.Warn("release claim failed", "order_id", order.OrderID, "error", err)
		}
	}
	e.store.CleanupOrderNotifications(order.OrderID)
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
