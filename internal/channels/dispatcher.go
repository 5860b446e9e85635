package channels

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/orders"
)

// broadcastLimit bounds one chat-platform message. Telegram caps at 4096;
// staying under leaves room for markup the platform adds on delivery.
const broadcastLimit = 4000

// OutboxDispatcher delivers unsent outbox notifications through a chat
// channel. Targeted notifications go to their chat; the rest broadcast to the
// full allow-list.
type OutboxDispatcher struct {
	store      *orders.Store
	manager    *Manager
	channel    string
	recipients []string
	interval   time.Duration

	// warned dedupes the no-target warning per outbox file; such entries
	// stay unsent so a config fix picks them up.
	warned map[string]bool
}

// NewOutboxDispatcher creates a dispatcher sending through the named channel.
// interval should be half the base poll cadence so notifications feel prompt.
func NewOutboxDispatcher(store *orders.Store, manager *Manager, channel string, recipients []string, interval time.Duration) *OutboxDispatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &OutboxDispatcher{
		store:      store,
		manager:    manager,
		channel:    channel,
		recipients: recipients,
		interval:   interval,
		warned:     make(map[string]bool),
	}
}

// Run scans until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

// dispatch processes the unsent outbox in timestamp order. A failed delivery
// is left unsent for the next scan.
func (d *OutboxDispatcher) dispatch(ctx context.Context) {
	entries, err := d.store.ListUnsentOutbox()
	if err != nil {
		slog.Error("outbox scan failed", "error", err)
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if d.send(ctx, entry) {
			if err := d.store.MarkSent(entry); err != nil {
				slog.Error("mark sent failed", "path", entry.Path, "error", err)
			}
		}
	}
}

// send delivers one notification, splitting at the platform message limit.
// Targeted notifications follow their originating channel; broadcasts go to
// every authorized user on the dispatcher's channel. Reports whether every
// target received every chunk.
func (d *OutboxDispatcher) send(ctx context.Context, entry orders.OutboxEntry) bool {
	n := entry.Notification
	chunks := SplitMessage(FormatNotification(n), broadcastLimit)

	if n.ChatID != "" {
		channel := n.Channel
		if channel == "" {
			channel = d.channel
		}
		return d.sendChunks(ctx, channel, n.ChatID, chunks)
	}

	targets := d.broadcastTargets()
	if len(targets) == 0 {
		if !d.warned[entry.Path] {
			d.warned[entry.Path] = true
			slog.Warn("notification has no deliverable target, leaving unsent",
				"path", entry.Path, "order_id", n.OrderID)
		}
		return false
	}

	delivered := true
	for _, target := range targets {
		if !d.sendChunks(ctx, d.channel, target, chunks) {
			delivered = false
		}
	}
	return delivered
}

func (d *OutboxDispatcher) sendChunks(ctx context.Context, channel, chatID string, chunks []string) bool {
	for _, chunk := range chunks {
		msg := bus.OutboundMessage{ChatID: chatID, Content: chunk}
		if err := d.manager.Send(ctx, channel, msg); err != nil {
			slog.Error("notification send failed", "channel", channel, "chat_id", chatID, "error", err)
			return false
		}
	}
	return true
}

// broadcastTargets resolves the authorized-user chat ids.
func (d *OutboxDispatcher) broadcastTargets() []string {
	targets := make([]string, 0, len(d.recipients))
	for _, r := range d.recipients {
		// Allow-list entries may carry "id|username"; the chat id is the
		// numeric part.
		if idx := strings.IndexByte(r, '|'); idx > 0 {
			r = r[:idx]
		}
		if r == "" || strings.HasPrefix(r, "@") {
			continue
		}
		targets = append(targets, r)
	}
	return targets
}

// FormatNotification renders an outbox record as Telegram HTML: severity
// badge, sender, optional order context, then the message body.
func FormatNotification(n orders.Notification) string {
	header := severityEmoji(n.Severity) + " <b>" + n.From + "</b>\n"
	if n.OrderPayload != "" {
		header += "📨 <i>" + Truncate(n.OrderPayload, 100) + "</i>\n"
	}
	return header + "\n" + n.Message
}

func severityEmoji(severity string) string {
	switch severity {
	case orders.SeverityCritical:
		return "🚨"
	case orders.SeverityWarning:
		return "⚠️"
	case orders.SeverityInfo:
		return "ℹ️"
	case orders.SeveritySuccess:
		return "✅"
	case orders.SeverityAlert:
		return "🔔"
	default:
		return "📬"
	}
}
