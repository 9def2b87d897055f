// Package discord connects to the Discord gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/ironclaw/internal/bus"
	"github.com/nextlevelbuilder/ironclaw/internal/channels"
	"github.com/nextlevelbuilder/ironclaw/internal/config"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
)

// Channel is the Discord transport adapter.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	cfg       config.DiscordConfig
	botUserID string
}

func New(cfg config.DiscordConfig) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", cfg.AllowList),
		session:     session,
		cfg:         cfg,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessageCreate)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	peerKind := "direct"
	if m.GuildID != "" {
		peerKind = "group"
	}

	err := c.Handle(bus.IncomingMessage{
		Channel:    "discord",
		From:       m.Author.ID,
		To:         m.ChannelID,
		Text:       m.Content,
		SessionKey: sessions.BuildChannelKey("discord", m.ChannelID),
		GuildID:    m.GuildID,
		PeerKind:   peerKind,
		Metadata: map[string]string{
			"username":   m.Author.Username,
			"message_id": m.ID,
		},
	})
	if err != nil {
		slog.Error("discord: inbound handling failed", "channel_id", m.ChannelID, "error", err)
	}
}

// Send delivers a reply to the discord channel encoded in msg.To.
func (c *Channel) Send(_ context.Context, msg bus.OutgoingMessage) error {
	if msg.To == "" {
		return fmt.Errorf("discord: empty channel id")
	}
	if _, err := c.session.ChannelMessageSend(msg.To, msg.Text); err != nil {
		return fmt.Errorf("discord: send to %s: %w", msg.To, err)
	}
	return nil
}

// SendTyping shows the typing indicator.
func (c *Channel) SendTyping(_ context.Context, to string) error {
	return c.session.ChannelTyping(to)
}
