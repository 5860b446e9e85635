// Package telegram implements the chat-platform channel over the Telegram
// Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/channels"
	"github.com/galaxyproto/caduceus/internal/machines"
	"github.com/galaxyproto/caduceus/internal/orders"
)

// Channel connects Telegram to the gateway: authorized text becomes orders,
// slash commands answer synchronously from filesystem state.
type Channel struct {
	*channels.BaseChannel
	bot      *telego.Bot
	token    string
	registry *machines.Registry
	poller   *channels.AckPoller

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the Telegram channel. poller receives every order this channel
// writes so acknowledgments flow back to the originating chat.
func New(token string, msgBus *bus.MessageBus, allowList []string, registry *machines.Registry, poller *channels.AckPoller) (*Channel, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, allowList),
		bot:         bot,
		token:       token,
		registry:    registry,
		poller:      poller,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram channel connected", "default_machine", c.registry.DefaultName())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the update loop to exit so
// Telegram releases the getUpdates lock.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling did not exit within timeout")
		}
	}
	slog.Info("telegram channel stopped")
	return nil
}

// Send delivers an outbound message: inline text, optionally followed by a
// document for long responses.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	if msg.Content != "" {
		if err := c.sendText(ctx, chatID, msg.Content); err != nil {
			return err
		}
	}
	if msg.Document != nil {
		if err := c.sendDocument(ctx, chatID, msg.Document); err != nil {
			return err
		}
	}
	return nil
}

// sendText tries HTML markup first and falls back to plain text; agent
// output sometimes carries fragments Telegram refuses to parse.
func (c *Channel) sendText(ctx context.Context, chatID int64, text string) error {
	params := tu.Message(tu.ID(chatID), text)
	params.ParseMode = telego.ModeHTML
	if _, err := c.bot.SendMessage(ctx, params); err == nil {
		return nil
	}
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

func (c *Channel) sendDocument(ctx context.Context, chatID int64, doc *bus.Attachment) error {
	f, err := os.Open(doc.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	params := tu.Document(tu.ID(chatID), tu.File(f))
	params.Caption = doc.Caption
	if _, err := c.bot.SendDocument(ctx, params); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// handleMessage routes one incoming message: commands answer synchronously,
// plain text becomes an order for the default machine.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if message.From == nil || message.Text == "" {
		return
	}

	userID := fmt.Sprintf("%d", message.From.ID)
	senderID := userID
	if message.From.Username != "" {
		senderID = userID + "|" + message.From.Username
	}
	chatID := fmt.Sprintf("%d", message.Chat.ID)

	if message.Text[0] == '/' {
		c.handleCommand(ctx, message, senderID, userID, chatID)
		return
	}

	if !c.IsAllowed(senderID) {
		return
	}
	c.placeOrder(ctx, message.Chat.ID, chatID, senderID, userID, c.registry.DefaultName(), message.Text, message.MessageID, true)
}

// placeOrder writes an order into a machine checkout and registers it with
// the ack poller. publish additionally routes the text over the bus so the
// executor path runs too.
func (c *Channel) placeOrder(ctx context.Context, rawChatID int64, chatID, senderID, userID, machineName, payload string, messageID int, publish bool) bool {
	m, ok := c.registry.Resolve(machineName)
	if !ok {
		return false
	}
	if !m.IsLocal() {
		return false
	}

	store := orders.NewStore(m.RepoPath)
	order := &orders.Order{
		OrderID:    orders.NewOrderID(time.Now(), fmt.Sprintf("%d", messageID)),
		Payload:    payload,
		SessionKey: userID,
		SenderID:   senderID,
		ChatID:     chatID,
		Channel:    c.Name(),
	}
	if _, err := store.Write(order); err != nil {
		slog.Error("order write failed", "machine", machineName, "error", err)
		c.reply(ctx, rawChatID, "❌ Order rejected: "+err.Error())
		return false
	}

	c.poller.Track(channels.TrackedOrder{
		OrderID: order.OrderID,
		ChatID:  chatID,
		Channel: c.Name(),
		Payload: payload,
		Machine: m.Name,
		Store:   store,
	})
	slog.Info("order placed", "order_id", order.OrderID, "machine", m.Name)

	if publish {
		c.reply(ctx, rawChatID, fmt.Sprintf("📡 → <b>%s</b>", m.Name))
		c.HandleMessage(senderID, chatID, payload, nil, map[string]string{
			"source":     "telegram",
			"machine":    m.Name,
			"message_id": fmt.Sprintf("%d", messageID),
		})
	}
	return true
}

// reply sends a best-effort synchronous message back to the chat.
func (c *Channel) reply(ctx context.Context, chatID int64, text string) {
	if err := c.sendText(ctx, chatID, text); err != nil {
		slog.Error("telegram reply failed", "chat_id", chatID, "error", err)
	}
}

func parseChatID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
