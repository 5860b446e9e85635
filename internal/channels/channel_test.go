package channels

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/galaxyproto/caduceus/internal/bus"
)

func TestIsAllowed(t *testing.T) {
	ch := NewBaseChannel("telegram", bus.NewMessageBus(), []string{"386246614", "@owl", "99|falcon"})

	tests := []struct {
		name     string
		senderID string
		want     bool
	}{
		{"plain id match", "386246614", true},
		{"compound sender, id match", "386246614|someuser", true},
		{"username match against @ entry", "12345|owl", true},
		{"compound entry, id match", "99", true},
		{"compound entry, full match", "99|falcon", true},
		{"unknown id", "777", false},
		{"unknown compound", "777|stranger", false},
		{"empty sender", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ch.IsAllowed(tt.senderID); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.senderID, got, tt.want)
			}
		})
	}
}

func TestIsAllowedEmptyListDeniesAll(t *testing.T) {
	ch := NewBaseChannel("telegram", bus.NewMessageBus(), nil)
	if ch.IsAllowed("386246614") {
		t.Error("empty allow-list must deny")
	}
}

func TestHandleMessagePublishesForAuthorized(t *testing.T) {
	b := bus.NewMessageBus()
	ch := NewBaseChannel("telegram", b, []string{"42"})

	ch.HandleMessage("42|owl", "42", "hello", nil, map[string]string{"source": "telegram"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message published")
	}
	if msg.Channel != "telegram" || msg.SenderID != "42|owl" || msg.Content != "hello" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.UserID != "42" {
		t.Errorf("UserID = %q, want platform id without username", msg.UserID)
	}
}

func TestHandleMessageDropsUnauthorized(t *testing.T) {
	b := bus.NewMessageBus()
	ch := NewBaseChannel("telegram", b, []string{"42"})

	ch.HandleMessage("777", "777", "let me in", nil, nil)

	if n := b.InboundLen(); n != 0 {
		t.Errorf("inbound queue length = %d, want 0", n)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	got := Truncate(strings.Repeat("x", 20), 5)
	if got != "xxxxx..." {
		t.Errorf("Truncate = %q", got)
	}
}
