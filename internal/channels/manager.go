package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/galaxyproto/caduceus/internal/bus"
)

// Manager owns the registered channels, their lifecycle, and the outbound
// dispatch loop that routes bus messages to the right channel.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus

	dispatchCancel context.CancelFunc
}

// NewManager creates an empty Manager. Channels are registered externally
// via Register before StartAll.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// Register adds a channel under its own name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every registered channel and the outbound dispatch loop.
// A channel that fails to start is logged, not fatal; the rest keep going.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchCancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		return fmt.Errorf("no channels registered")
	}

	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatch loop and every channel.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatchCancel != nil {
		m.dispatchCancel()
		m.dispatchCancel = nil
	}

	for name, ch := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channel stop failed", "channel", name, "error", err)
		}
	}
}

// Send delivers a message through a named channel synchronously. Used by the
// outbox dispatcher, which needs the send result before marking a record sent.
func (m *Manager) Send(ctx context.Context, channelName string, msg bus.OutboundMessage) error {
	m.mu.RLock()
	ch, ok := m.channels[channelName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %s not registered", channelName)
	}
	msg.Channel = channelName
	return ch.Send(ctx, msg)
}

// dispatchOutbound consumes outbound bus messages and routes each to its
// channel. Per-chat ordering is the bus's FIFO guarantee; this loop is the
// single consumer.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			slog.Warn("outbound message for unknown channel", "channel", msg.Channel)
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("outbound send failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}
