package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/feed"
)

// inboundIntercept siphons reference captures off the inbound queue before
// the executor sees them. Everything else passes through untouched.
type inboundIntercept struct {
	bus.MessageRouter
	gw *Gateway
}

func (r *inboundIntercept) ConsumeInbound(ctx context.Context) (bus.InboundMessage, bool) {
	for {
		msg, ok := r.MessageRouter.ConsumeInbound(ctx)
		if !ok || !r.gw.handleFeed(ctx, msg) {
			return msg, ok
		}
	}
}

// handleFeed captures "/feed <url> [note]" messages, and bare repository
// URLs when enrichment is on, as references. Reports whether the message
// was consumed.
func (g *Gateway) handleFeed(ctx context.Context, msg bus.InboundMessage) bool {
	content := strings.TrimSpace(msg.Content)

	var rawURL, note string
	switch {
	case content == "/feed":
		g.reply(msg, "Usage: /feed <url> [note]")
		return true
	case strings.HasPrefix(content, "/feed "):
		rawURL, note, _ = strings.Cut(strings.TrimSpace(strings.TrimPrefix(content, "/feed ")), " ")
	case g.cfg.Features.Enrichment && isBareRepoURL(content):
		rawURL = content
	default:
		return false
	}

	result, err := g.feed.Process(ctx, rawURL, strings.TrimSpace(note), msg.Channel, msg.ChatID)
	if err != nil {
		slog.Warn("feed capture failed", "url", rawURL, "error", err)
		g.reply(msg, "❌ Could not capture reference: "+err.Error())
		return true
	}

	text := "📚 Reference saved: " + result.Slug
	if result.UpdatedExisting {
		text = "📚 Reference updated: " + result.Slug
	}
	if result.Warning != "" {
		text += "\n⚠️ " + result.Warning
	}
	g.reply(msg, text)
	return true
}

func (g *Gateway) reply(msg bus.InboundMessage, text string) {
	g.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	})
}

// isBareRepoURL reports whether content is nothing but a single repository
// URL. Such messages are shares, not orders.
func isBareRepoURL(content string) bool {
	if strings.ContainsAny(content, " \t\n") {
		return false
	}
	_, _, ok := feed.ExtractOwnerRepo(content)
	return ok
}
