// Package channels provides the transport abstraction: adapters deliver
// incoming messages to the gateway and ship outgoing replies back.
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/ironclaw/internal/bus"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cron":     true,
	"system":   true,
	"subagent": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel is the contract every transport adapter satisfies.
type Channel interface {
	// Name returns the channel identifier, e.g. "telegram".
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the transport.
	Send(ctx context.Context, msg bus.OutgoingMessage) error

	// OnMessage registers the inbound handler. The gateway registers
	// exactly one at startup.
	OnMessage(handler bus.MessageHandler)
}

// TypingChannel is implemented by transports that can show a typing
// indicator while the agent works.
type TypingChannel interface {
	Channel
	SendTyping(ctx context.Context, to string) error
}

// Streamer is implemented by interactive transports (terminal sockets)
// that render chunks and tool activity as they happen.
type Streamer interface {
	SendChunk(to, text string)
	SendToolCall(to, name string)
	SendToolResult(to, name, result string)
}

// BaseChannel carries the pieces every adapter shares.
type BaseChannel struct {
	name      string
	allowList []string
	handler   bus.MessageHandler
	running   bool
}

func NewBaseChannel(name string, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, allowList: allowList}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) OnMessage(handler bus.MessageHandler) { c.handler = handler }

func (c *BaseChannel) IsRunning() bool { return c.running }

func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Handle forwards a normalised message to the registered handler,
// enforcing the allowlist first.
func (c *BaseChannel) Handle(msg bus.IncomingMessage) error {
	if !c.IsAllowed(msg.From) {
		return nil
	}
	if c.handler == nil {
		return nil
	}
	return c.handler(msg)
}

// IsAllowed checks the sender against the allowlist. Empty list allows
// everyone. Entries may be bare IDs or @usernames.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if senderID == allowed || senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
