package channels

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/orders"
)

// TrackedOrder records where an order came from so its response can be routed
// back to the originating chat.
type TrackedOrder struct {
	OrderID string
	ChatID  string
	Channel string
	Payload string
	Machine string

	// Store overrides the poller's default store for orders written into a
	// different machine checkout.
	Store *orders.Store
}

// AckPoller watches tracked orders for acknowledgment and delivers the paired
// response file to the originating channel. It covers the filesystem dispatch
// path; the executor covers the bus path for its own orders.
type AckPoller struct {
	store    *orders.Store
	router   bus.MessageRouter
	interval time.Duration

	mu      sync.Mutex
	tracked map[string]TrackedOrder
}

// NewAckPoller creates an AckPoller publishing deliveries through router.
func NewAckPoller(store *orders.Store, router bus.MessageRouter, interval time.Duration) *AckPoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AckPoller{
		store:    store,
		router:   router,
		interval: interval,
		tracked:  make(map[string]TrackedOrder),
	}
}

// Track registers an order for acknowledgment polling.
func (p *AckPoller) Track(t TrackedOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracked[t.OrderID] = t
}

// Tracked reports how many orders are currently being watched.
func (p *AckPoller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracked)
}

// Run polls until ctx is cancelled.
func (p *AckPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll inspects every tracked order once. Stale reads are fine; the
// acknowledged flag only ever goes false to true.
func (p *AckPoller) poll() {
	p.mu.Lock()
	snapshot := make([]TrackedOrder, 0, len(p.tracked))
	for _, t := range p.tracked {
		snapshot = append(snapshot, t)
	}
	p.mu.Unlock()

	for _, t := range snapshot {
		done := p.check(t)
		if done {
			p.mu.Lock()
			delete(p.tracked, t.OrderID)
			p.mu.Unlock()
		}
	}
}

func (p *AckPoller) storeFor(t TrackedOrder) *orders.Store {
	if t.Store != nil {
		return t.Store
	}
	return p.store
}

// check examines one tracked order and reports whether to un-track it.
func (p *AckPoller) check(t TrackedOrder) bool {
	store := p.storeFor(t)
	pendingPath := store.OrderPath(t.OrderID)

	if _, err := os.Stat(pendingPath + ".processing"); err == nil {
		// Claimed by the daemon; wait.
		return false
	}

	order, err := store.ReadOrder(pendingPath)
	if err == nil {
		if !order.Acknowledged {
			return false
		}
		p.deliver(t)
		return true
	}
	if !isNotExist(err) {
		slog.Warn("tracked order unreadable", "order_id", t.OrderID, "error", err)
		return false
	}

	// The daemon moves completed orders into the archive. An order in neither
	// place was withdrawn or lost; un-track silently.
	archived, err := store.ReadOrder(filepath.Join(store.ArchiveDir(), t.OrderID+".json"))
	if isNotExist(err) {
		return true
	}
	if err != nil {
		slog.Warn("archived order unreadable", "order_id", t.OrderID, "error", err)
		return false
	}
	if archived.Acknowledged {
		p.deliver(t)
	}
	return true
}

// deliver routes the response for an acknowledged order back to its chat,
// inline when short, as an attachment when long.
func (p *AckPoller) deliver(t TrackedOrder) {
	store := p.storeFor(t)
	responsePath := store.ResponsePath(t.OrderID)
	if _, err := os.Stat(responsePath); err != nil {
		latest, ok := store.LatestResponsePath()
		if !ok {
			p.router.PublishOutbound(bus.OutboundMessage{
				Channel: t.Channel,
				ChatID:  t.ChatID,
				Content: ackHeader(t) + "\n\n⏳ <i>No response notepad yet</i>",
			})
			return
		}
		responsePath = latest
	}

	data, err := os.ReadFile(responsePath)
	if err != nil {
		slog.Error("response read failed", "order_id", t.OrderID, "path", responsePath, "error", err)
		return
	}
	responseText := string(data)

	if len([]rune(responseText)) <= InlineLimit {
		p.router.PublishOutbound(bus.OutboundMessage{
			Channel: t.Channel,
			ChatID:  t.ChatID,
			Content: ackHeader(t),
		})
		p.router.PublishOutbound(bus.OutboundMessage{
			Channel: t.Channel,
			ChatID:  t.ChatID,
			Content: CompactMarkup(responseText),
		})
		// Consumed inline; remove the file so the latest-response fallback
		// cannot resurface it for a later order. Attachments keep theirs on
		// disk for the file transfer.
		if err := os.Remove(responsePath); err != nil {
			slog.Warn("response cleanup failed", "path", responsePath, "error", err)
		}
	} else {
		p.router.PublishOutbound(bus.OutboundMessage{
			Channel: t.Channel,
			ChatID:  t.ChatID,
			Content: ackHeader(t) + "\n\n<b>Summary:</b>\n" + Summarize(responseText) + "\n\n📎 Full response attached",
			Document: &bus.Attachment{
				Path:    responsePath,
				Caption: "📄 Full response from " + t.Machine,
			},
		})
	}

	if err := store.MarkOrderDelivered(t.OrderID); err != nil {
		slog.Warn("mark delivered failed", "order_id", t.OrderID, "error", err)
	}
	slog.Info("acknowledged order delivered", "order_id", t.OrderID, "chat_id", t.ChatID)
}

func ackHeader(t TrackedOrder) string {
	return fmt.Sprintf("✅ <b>Order Acknowledged</b>\n\n📍 <code>%s</code>\n📨 <i>%s</i>",
		t.Machine, Truncate(t.Payload, 100))
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
