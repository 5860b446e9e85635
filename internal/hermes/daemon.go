// Package hermes implements the order-processing daemon. It claims pending
// orders from the filesystem, delivers them to the agent CLI, writes response
// files, and archives completed orders.
//
// The daemon is the consumer side of the order protocol; the executor package
// is the producer side. Either can run without the other as long as the
// shared directories exist.
package hermes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/galaxyproto/caduceus/internal/agent"
	"github.com/galaxyproto/caduceus/internal/orders"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

// DefaultInterval is the fallback poll cadence. fsnotify wakeups usually
// preempt it; the poll remains authoritative in case events are dropped.
const DefaultInterval = 30 * time.Second

// Daemon polls the orders directory and processes each pending order.
type Daemon struct {
	store    *orders.Store
	runner   *agent.Runner
	events   *sessions.EventLog
	machine  string
	interval time.Duration

	startedAt       time.Time
	ordersProcessed int
	failureCount    int

	// binaryWarned suppresses repeated missing-binary notifications; reset
	// when resolution succeeds again.
	binaryWarned bool
}

// New creates a Daemon. machine names this host in heartbeats and
// notifications.
func New(store *orders.Store, runner *agent.Runner, events *sessions.EventLog, machine string, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Daemon{
		store:    store,
		runner:   runner,
		events:   events,
		machine:  machine,
		interval: interval,
	}
}

// Run executes the daemon loop until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	for _, dir := range []string{d.store.OrdersDir(), d.store.ArchiveDir(), d.store.OutboxDir(), d.store.CorruptedDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	d.startedAt = time.Now()
	d.events.Log("daemon_started", map[string]any{
		"component":             "hermes",
		"machine":               d.machine,
		"poll_interval_seconds": int(d.interval.Seconds()),
	})
	slog.Info("hermes daemon starting", "orders_dir", d.store.OrdersDir(), "interval", d.interval)

	d.runner.BootstrapSession(ctx)
	d.writeHeartbeat()

	// Directory events wake the loop early; a failed watcher degrades to
	// pure polling.
	var wake <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(d.store.OrdersDir()); err == nil {
			wake = watcher.Events
		} else {
			slog.Warn("orders dir watch failed, polling only", "error", err)
		}
		defer watcher.Close()
	} else {
		slog.Warn("fsnotify unavailable, polling only", "error", err)
	}

	for {
		d.scan(ctx)
		d.writeHeartbeat()

		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case <-time.After(d.interval):
		case ev, ok := <-wake:
			if ok && ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				// Debounce: give the writer a moment to finish the file.
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// scan processes every pending order in creation order.
func (d *Daemon) scan(ctx context.Context) {
	pending, quarantined, err := d.store.ReadUnacknowledged()
	if err != nil {
		slog.Error("orders scan failed", "error", err)
		return
	}
	for _, name := range quarantined {
		slog.Warn("corrupted order quarantined", "file", name)
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		d.processOrder(ctx, p)
	}
}

// processOrder claims and executes one order. Losing the claim race is not an
// error; the winner will handle it.
func (d *Daemon) processOrder(ctx context.Context, p orders.PendingOrder) {
	claimed, err := d.store.Claim(p.Path)
	if err != nil {
		if !errors.Is(err, orders.ErrAlreadyClaimed) {
			slog.Error("claim failed", "order_id", p.Order.OrderID, "error", err)
		}
		return
	}

	order, err := d.store.ReadOrder(claimed)
	if err != nil {
		// Claimed but unreadable: release so the scan quarantines it.
		d.store.Release(claimed)
		return
	}
	if strings.TrimSpace(order.Payload) == "" && len(order.Media) == 0 {
		d.store.Release(claimed)
		return
	}

	slog.Info("order claimed", "order_id", order.OrderID, "preview", preview(order.Payload, 80))
	start := time.Now()

	responseText, err := d.runner.Run(ctx, BuildPrompt(order.Payload))
	if err != nil {
		if errors.Is(err, agent.ErrBinaryNotFound) {
			d.handleMissingBinary(claimed, &order, err)
			return
		}
		d.failureCount++
		slog.Error("agent run failed", "order_id", order.OrderID, "error", err)
		if rerr := d.store.Release(claimed); rerr != nil {
			slog.Error("release after failure failed", "order_id", order.OrderID, "error", rerr)
		}
		return
	}
	d.binaryWarned = false

	if _, err := d.store.WriteResponse(&order, responseText); err != nil {
		d.failureCount++
		slog.Error("response write failed", "order_id", order.OrderID, "error", err)
		d.store.Release(claimed)
		return
	}

	if err := d.store.Archive(claimed, &order, "Hermes"); err != nil {
		d.failureCount++
		slog.Error("archive failed", "order_id", order.OrderID, "error", err)
		return
	}

	d.notifyDelivered(&order, responseText)
	d.ordersProcessed++
	slog.Info("order delivered", "order_id", order.OrderID, "latency", time.Since(start).Round(time.Millisecond))
}

// handleMissingBinary releases the claim so the order survives until the
// agent CLI is installed, and warns the user once.
func (d *Daemon) handleMissingBinary(claimed string, order *orders.Order, cause error) {
	if err := d.store.Release(claimed); err != nil {
		slog.Error("release failed", "order_id", order.OrderID, "error", err)
	}
	slog.Warn("agent binary unavailable, order re-queued", "order_id", order.OrderID, "error", cause)

	if d.binaryWarned {
		return
	}
	d.binaryWarned = true
	n := orders.NewNotification(orders.SeverityWarning, "Hermes",
		"⚠️ Agent execution unavailable: "+cause.Error())
	n.OrderID = order.OrderID
	n.ChatID = order.ChatID
	n.Channel = order.Channel
	if _, err := d.store.WriteOutbox("hermes-unavailable-"+order.OrderID+".json", n); err != nil {
		slog.Warn("unavailable notification failed", "error", err)
	}
}

// notifyDelivered drops the full response into the outbox. The gateway marks
// this record sent when it relays the response over the bus instead, so the
// user hears exactly one of the two paths.
func (d *Daemon) notifyDelivered(order *orders.Order, responseText string) {
	n := orders.NewNotification(orders.SeveritySuccess, "Hermes", responseText)
	n.OrderID = order.OrderID
	n.OrderPayload = order.Payload
	n.ChatID = order.ChatID
	n.Channel = order.Channel
	if _, err := d.store.WriteOutbox(orders.DeliveredNotificationName(order.OrderID), n); err != nil {
		slog.Warn("delivery notification failed", "order_id", order.OrderID, "error", err)
	}
}

func (d *Daemon) writeHeartbeat() {
	hb := orders.Heartbeat{
		Status:          "running",
		Daemon:          "hermes",
		StartedAt:       orders.Timestamp(d.startedAt),
		LastPollAt:      orders.Timestamp(time.Now()),
		OrdersProcessed: d.ordersProcessed,
		FailureCount:    d.failureCount,
		Machine:         d.machine,
		SessionID:       d.sessionID(),
	}
	if err := d.store.WriteHeartbeat(hb); err != nil {
		slog.Warn("heartbeat write failed", "error", err)
	}
}

func (d *Daemon) sessionID() string {
	// The runner persists the session id through its tracker; reading it
	// back here keeps the heartbeat accurate without sharing state.
	return d.runner.SessionID()
}

func (d *Daemon) shutdown() {
	slog.Info("hermes daemon stopping", "orders_processed", d.ordersProcessed, "failure_count", d.failureCount)
	d.events.Log("daemon_stopped", map[string]any{
		"component":        "hermes",
		"machine":          d.machine,
		"orders_processed": d.ordersProcessed,
		"failure_count":    d.failureCount,
	})
	d.store.MarkHeartbeatStopped()
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
