// Package bus provides the in-memory message routing layer between channels
// and the executor.
//
// Messages flow through two independent FIFO queues:
//
//	Inbound:  Channel → PublishInbound → queue → ConsumeInbound → Executor
//	Outbound: Executor → PublishOutbound → queue → ConsumeOutbound → Channel
//
// The queues are unbounded and purely in-memory. The filesystem order
// protocol is the durable path; the bus is the low-latency one.
package bus

import "context"

// InboundMessage represents a message received from a channel (Telegram, web).
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	UserID   string            `json:"user_id,omitempty"` // set when the sender is authenticated
}

// SessionKey derives the continuity key for this message.
// Authenticated senders get cross-channel continuity via their user ID;
// everyone else is scoped to the originating chat.
func (m InboundMessage) SessionKey() string {
	if m.UserID != "" {
		return m.UserID
	}
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage represents a response destined for an external channel.
type OutboundMessage struct {
	Channel  string      `json:"channel"`
	ChatID   string      `json:"chat_id"`
	Content  string      `json:"content"`
	Document *Attachment `json:"document,omitempty"` // long responses go out as a file
}

// Attachment is a file delivered alongside (or instead of) inline text.
type Attachment struct {
	Path    string `json:"path"`
	Caption string `json:"caption,omitempty"`
}

// MessageRouter abstracts inbound/outbound routing between channels and the
// executor loop. Satisfied by *MessageBus; kept as an interface so channels
// can be tested against a recording fake.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
