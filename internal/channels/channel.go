// Package channels bridges chat frontends to the message bus. Each channel
// converts platform messages into inbound bus messages and delivers outbound
// messages back through its platform API.
//
// The package also carries the two filesystem-protocol background workers
// that every chat-platform deployment runs: the AckPoller (acknowledged-order
// delivery) and the OutboxDispatcher (proactive notifications).
package channels

import (
	"context"
	"strings"

	"github.com/galaxyproto/caduceus/internal/bus"
)

// Channel is the capability set every frontend implements.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "web").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message through the platform API.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks a sender against the channel's allow-list.
	IsAllowed(senderID string) bool
}

// BaseChannel provides the shared allow-list and bus plumbing.
// Channel implementations embed it.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   bool
	allowList []string
}

// NewBaseChannel creates a BaseChannel with the given allow-list.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// AllowList returns the configured recipients. Broadcast consumers iterate
// this list; an empty list means no one is authorized for broadcast.
func (c *BaseChannel) AllowList() []string { return c.allowList }

// IsAllowed checks a sender against the allow-list. Supports the compound
// "id|username" sender format and "@username" allow-list entries. An empty
// allow-list denies everyone; authorization is opt-in.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	idPart := senderID
	userPart := ""
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}
	return false
}

// HandleMessage builds an InboundMessage and publishes it to the bus.
// Unauthorized senders are dropped silently.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}

	// Telegram senders arrive as "id|username"; the platform user id alone is
	// the continuity key.
	userID := senderID
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		userID = senderID[:idx]
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		Metadata: metadata,
		UserID:   userID,
	})
}

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
