package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/orders"
)

// Loop consumes inbound messages until ctx is cancelled. Successful
// executions publish an outbound response; failures become a single warning
// notification in the outbox, never both.
func (e *Executor) Loop(ctx context.Context, router bus.MessageRouter) {
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			return
		}
		slog.Info("processing inbound", "channel", msg.Channel, "chat_id", msg.ChatID, "preview", preview(msg.Content, 80))

		order := &orders.Order{
			OrderID:    OrderID(msg.SessionKey(), time.Now()),
			Payload:    msg.Content,
			Timestamp:  orders.Timestamp(time.Now()),
			SessionKey: msg.SessionKey(),
			SenderID:   msg.SenderID,
			ChatID:     msg.ChatID,
			Channel:    msg.Channel,
		}

		result := e.Execute(ctx, order)
		switch {
		case result.Success && result.ResponseText != "":
			router.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: result.ResponseText,
			})
		case result.Error != "":
			slog.Error("execution failed", "order_id", order.OrderID, "error", result.Error)
			e.notifyFailure(order, result.Error)
		}
	}
}

// notifyFailure surfaces a terminal failure to the originating chat.
func (e *Executor) notifyFailure(order *orders.Order, reason string) {
	n := orders.NewNotification(orders.SeverityWarning, "Hermes", "⚠️ Order failed: "+reason)
	n.OrderID = order.OrderID
	n.ChatID = order.ChatID
	n.Channel = order.Channel
	if _, err := e.store.WriteOutbox("executor-"+order.OrderID+".json", n); err != nil {
		slog.Warn("failure notification failed", "order_id", order.OrderID, "error", err)
	}
}
