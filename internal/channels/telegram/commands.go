package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/galaxyproto/caduceus/internal/channels"
	"github.com/galaxyproto/caduceus/internal/machines"
)

// replyLimit bounds one synchronous command reply.
const replyLimit = 4000

// handleCommand dispatches a slash command. Unauthorized senders are dropped
// silently except for /status, which replies with the caller's platform id
// so they can request access.
func (c *Channel) handleCommand(ctx context.Context, message *telego.Message, senderID, userID, chatID string) {
	cmd, args := parseCommand(message.Text)

	if !c.IsAllowed(senderID) {
		if cmd == "/status" {
			c.reply(ctx, message.Chat.ID, fmt.Sprintf(
				"❌ Unauthorized\nYour Telegram user ID: <code>%s</code>\n\n"+
					"Add this to <code>.galaxy/config.json</code>:\n"+
					"<code>\"authorizedUsers\": [%s]</code>", userID, userID))
		}
		return
	}

	switch cmd {
	case "/help", "/start":
		c.reply(ctx, message.Chat.ID, c.helpText())
	case "/status":
		c.cmdStatus(ctx, message.Chat.ID, args)
	case "/concerns":
		c.cmdConcerns(ctx, message.Chat.ID, args)
	case "/order":
		c.cmdOrder(ctx, message, args, senderID, userID, chatID)
	case "/machines":
		c.cmdMachines(ctx, message.Chat.ID)
	default:
		c.reply(ctx, message.Chat.ID, "Unknown command. /help lists what I understand.")
	}
}

// parseCommand splits "/status@bot lab extra" into "/status" and its args.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	return cmd, fields[1:]
}

func (c *Channel) helpText() string {
	return "🌌 <b>Galaxy Commands</b>\n\n" +
		"/status [machine|all] — machine status (git, tests, reports)\n" +
		"/concerns [machine|all] — latest Stargazer concerns\n" +
		"/order [machine|all] &lt;msg&gt; — send an order\n" +
		"/machines — list registered machines\n" +
		"/help — this message\n\n" +
		"Plain text goes to the default machine as an order.\n\n" +
		fmt.Sprintf("📍 Machines: <code>%s</code>\n", strings.Join(c.registry.Names(), ", ")) +
		fmt.Sprintf("📍 Default: <code>%s</code>", c.registry.DefaultName())
}

func (c *Channel) cmdStatus(ctx context.Context, chatID int64, args []string) {
	target := ""
	if len(args) > 0 {
		target = args[0]
	}

	var sections []string
	if target == "all" {
		for _, m := range c.registry.All() {
			sections = append(sections, c.registry.StatusText(ctx, m))
		}
	} else {
		m, ok := c.registry.Resolve(target)
		if !ok {
			c.replyUnknownMachine(ctx, chatID, target)
			return
		}
		sections = append(sections, c.registry.StatusText(ctx, m))
	}
	c.reply(ctx, chatID, capReply(strings.Join(sections, "\n\n---\n\n")))
}

func (c *Channel) cmdConcerns(ctx context.Context, chatID int64, args []string) {
	target := ""
	if len(args) > 0 {
		target = args[0]
	}

	var sections []string
	if target == "all" {
		for _, m := range c.registry.All() {
			sections = append(sections, c.registry.ConcernsText(m))
		}
	} else {
		m, ok := c.registry.Resolve(target)
		if !ok {
			c.replyUnknownMachine(ctx, chatID, target)
			return
		}
		sections = append(sections, c.registry.ConcernsText(m))
	}
	c.reply(ctx, chatID, capReply(strings.Join(sections, "\n\n---\n\n")))
}

// cmdOrder enqueues an order per target. Without a machine prefix, all args
// form the payload for the default machine.
func (c *Channel) cmdOrder(ctx context.Context, message *telego.Message, args []string, senderID, userID, chatID string) {
	if len(args) == 0 {
		c.reply(ctx, message.Chat.ID,
			"Usage: <code>/order [machine|all] &lt;message&gt;</code>\n"+
				fmt.Sprintf("Machines: <code>%s</code>", strings.Join(c.registry.Names(), ", ")))
		return
	}

	var targets []machines.Machine
	var payload string
	switch {
	case args[0] == "all":
		targets = c.registry.All()
		payload = strings.Join(args[1:], " ")
	case c.registry.Has(args[0]):
		m, _ := c.registry.Resolve(args[0])
		targets = []machines.Machine{m}
		payload = strings.Join(args[1:], " ")
	default:
		m, _ := c.registry.Resolve("")
		targets = []machines.Machine{m}
		payload = strings.Join(args, " ")
	}

	if strings.TrimSpace(payload) == "" {
		c.reply(ctx, message.Chat.ID, "❌ Order message cannot be empty.")
		return
	}

	var delivered []string
	for _, m := range targets {
		if !m.IsLocal() {
			delivered = append(delivered, m.Name+" (remote — pending SSH)")
			continue
		}
		if c.placeOrder(ctx, message.Chat.ID, chatID, senderID, userID, m.Name, payload, message.MessageID, false) {
			delivered = append(delivered, m.Name)
		}
	}
	if len(delivered) == 0 {
		return
	}
	c.reply(ctx, message.Chat.ID, fmt.Sprintf(
		"📡 Order delivered to <b>%s</b>:\n&gt; %s",
		strings.Join(delivered, ", "), channels.Truncate(payload, 200)))
}

func (c *Channel) cmdMachines(ctx context.Context, chatID int64) {
	lines := []string{"🖥️ <b>Registered Machines</b>", ""}
	for _, m := range c.registry.All() {
		location := "📍 local"
		if !m.IsLocal() {
			location = "🌐 " + m.Host
		}
		line := fmt.Sprintf("• <code>%s</code> — %s", m.Name, location)
		if m.Name == c.registry.DefaultName() {
			line += " <i>(default)</i>"
		}
		lines = append(lines, line)
	}
	c.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (c *Channel) replyUnknownMachine(ctx context.Context, chatID int64, target string) {
	c.reply(ctx, chatID, fmt.Sprintf(
		"❌ Unknown machine <code>%s</code>\nAvailable: <code>%s</code>",
		target, strings.Join(c.registry.Names(), ", ")))
}

func capReply(s string) string {
	if runes := []rune(s); len(runes) > replyLimit {
		return string(runes[:replyLimit]) + "\n\n... (truncated)"
	}
	return s
}
