// Package telegram connects to the Telegram Bot API via long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/ironclaw/internal/bus"
	"github.com/nextlevelbuilder/ironclaw/internal/channels"
	"github.com/nextlevelbuilder/ironclaw/internal/config"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
)

// Channel is the Telegram transport adapter.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	cfg        config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", cfg.AllowList),
		bot:         bot,
		cfg:         cfg,
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
	slog.Info("telegram bot connected", "username", c.bot.Username())

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
					c.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the goroutine so Telegram releases
// the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(msg *telego.Message) {
	if msg.Text == "" || msg.From == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	peerKind := "direct"
	if msg.Chat.Type != telego.ChatTypePrivate {
		peerKind = "group"
	}

	err := c.Handle(bus.IncomingMessage{
		Channel:    "telegram",
		From:       strconv.FormatInt(msg.From.ID, 10),
		To:         chatID,
		Text:       msg.Text,
		SessionKey: sessions.BuildChannelKey("telegram", chatID),
		PeerKind:   peerKind,
		Metadata: map[string]string{
			"username":   msg.From.Username,
			"message_id": strconv.Itoa(msg.MessageID),
		},
	})
	if err != nil {
		slog.Error("telegram: inbound handling failed", "chat", chatID, "error", err)
	}
}

// Send delivers a reply to the chat encoded in msg.To.
func (c *Channel) Send(ctx context.Context, msg bus.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", msg.To, err)
	}
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Text)); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

// SendTyping shows the typing indicator.
func (c *Channel) SendTyping(ctx context.Context, to string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", to, err)
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}
