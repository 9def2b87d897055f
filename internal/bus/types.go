// Package bus defines the message types exchanged between channels and the
// gateway, plus a small in-process message bus.
package bus

// IncomingMessage is a normalised inbound event from a channel adapter.
type IncomingMessage struct {
	Channel    string            `json:"channel"`
	From       string            `json:"from"`    // sender identity ("subagent-announce" for re-entry)
	To         string            `json:"to"`      // peer/chat identifier on the channel
	Text       string            `json:"text"`
	SessionKey string            `json:"session_key"`          // stable routing address, e.g. "telegram:123"
	AccountID  string            `json:"account_id,omitempty"` // bot account the message arrived on
	GuildID    string            `json:"guild_id,omitempty"`   // Discord guild
	TeamID     string            `json:"team_id,omitempty"`    // Slack-style team
	PeerKind   string            `json:"peer_kind,omitempty"`  // "direct" or "group"
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutgoingMessage is a reply shipped back to a channel adapter.
type OutgoingMessage struct {
	Channel          string            `json:"channel"`
	To               string            `json:"to"`
	Text             string            `json:"text"`
	ToolCallsSummary string            `json:"tool_calls_summary,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Event is a server-side event broadcast to subscribers (terminal sockets,
// admin UIs). Names follow the "run.*" / "chat.*" convention.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// MessageHandler consumes an inbound message. Returned errors are logged by
// the caller; they do not stop the bus.
type MessageHandler func(IncomingMessage) error

// EventHandler consumes a broadcast event.
type EventHandler func(Event)
