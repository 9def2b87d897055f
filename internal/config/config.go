// Package config holds the gateway configuration: agents, providers,
// routing bindings, channels, cron, and storage locations. Config is loaded
// from a single JSON5 file and overlaid with environment variables for
// secrets.
package config

import (
	"fmt"
	"sync"
)

// Config is the root configuration for the IronClaw gateway.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers []ProviderSpec  `json:"providers,omitempty"`
	Bindings  []Binding       `json:"bindings,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewaySettings `json:"gateway"`
	Cron      CronConfig      `json:"cron,omitempty"`
	Sessions  SessionsConfig  `json:"sessions"`
	Subagents SubagentsConfig `json:"subagents,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// AgentsConfig contains the agent roster. Exactly one entry is the default.
type AgentsConfig struct {
	Default string               `json:"default"` // agentId of the default agent
	List    map[string]AgentSpec `json:"list,omitempty"`
}

// AgentSpec configures one agent.
type AgentSpec struct {
	Name         string `json:"name,omitempty"`
	Model        string `json:"model"`
	BaseURL      string `json:"base_url,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ProviderSpec configures one model provider endpoint.
// Dialect selects the wire encoding: "anthropic" (system as a separate
// field, tool_use blocks) or "openai" (system as first message,
// tools[].function). Model uniqueness across providers is not enforced;
// the registry takes the first match.
type ProviderSpec struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	BaseURL   string   `json:"base_url,omitempty"`
	APIKey    string   `json:"-"` // env only: IRONCLAW_PROVIDER_<ID>_API_KEY
	Dialect   string   `json:"dialect"` // "anthropic" or "openai"
	Models    []string `json:"models,omitempty"`
	IsDefault bool     `json:"default,omitempty"`
}

// Binding maps a channel/peer pattern to an agent. Evaluated in priority
// order (ascending); ties broken by position in the list.
type Binding struct {
	ID       string       `json:"id,omitempty"`
	AgentID  string       `json:"agentId"`
	Match    BindingMatch `json:"match"`
	Priority int          `json:"priority,omitempty"`
}

// BindingMatch specifies which messages a binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"`
	AccountID string       `json:"accountId,omitempty"`
	Peer      *BindingPeer `json:"peer,omitempty"`
	GuildID   string       `json:"guildId,omitempty"`
	TeamID    string       `json:"teamId,omitempty"`
}

// BindingPeer pins a binding to one DM or group.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}

// ChannelsConfig configures the channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Socket   SocketConfig   `json:"socket,omitempty"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"` // env only: IRONCLAW_TELEGRAM_TOKEN
	AllowList []string `json:"allow_list,omitempty"`
	RateRPM   int      `json:"rate_rpm,omitempty"` // outbound sends per minute (0 = unlimited)
}

// DiscordConfig configures the Discord bot channel.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"` // env only: IRONCLAW_DISCORD_TOKEN
	AllowList []string `json:"allow_list,omitempty"`
	RateRPM   int      `json:"rate_rpm,omitempty"`
}

// SocketConfig configures the interactive terminal-socket channel.
type SocketConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// GatewaySettings holds gateway-level tunables.
type GatewaySettings struct {
	MaxIterations   int `json:"max_iterations,omitempty"`   // tool loop bound (default 10)
	MaxMessageChars int `json:"max_message_chars,omitempty"` // inbound truncation (default 32000)
}

// CronConfig configures the cron service.
type CronConfig struct {
	Enabled bool `json:"enabled"`
}

// SessionsConfig configures durable state locations.
type SessionsConfig struct {
	StateDir string `json:"state_dir,omitempty"` // default: ~/.ironclaw
}

// SubagentsConfig configures the subagent system.
type SubagentsConfig struct {
	MaxConcurrent       int `json:"max_concurrent,omitempty"`        // default 8
	ArchiveAfterMinutes int `json:"archive_after_minutes,omitempty"` // default 60
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"` // OTLP HTTP endpoint, e.g. "localhost:4318"
}

// DefaultAgentID returns the configured default agent, or "default".
func (c *Config) DefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Agents.Default != "" {
		return c.Agents.Default
	}
	return "default"
}

// Agent looks up an agent spec by id. Falls back to the default agent's
// spec when the id is unknown; ok reports whether the exact id was found.
func (c *Config) Agent(id string) (AgentSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.Agents.List[id]
	if !ok {
		spec = c.Agents.List[c.Agents.Default]
	}
	return spec, ok
}

// Validate checks invariants that Load cannot express structurally.
func (c *Config) Validate() error {
	defaults := 0
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		switch p.Dialect {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("provider %s: unknown dialect %q", p.ID, p.Dialect)
		}
		if p.IsDefault {
			defaults++
		}
	}
	if len(c.Providers) > 0 && defaults != 1 {
		return fmt.Errorf("exactly one provider must be marked default, got %d", defaults)
	}

	if c.Agents.Default != "" {
		if _, ok := c.Agents.List[c.Agents.Default]; !ok {
			return fmt.Errorf("default agent %q not in agents.list", c.Agents.Default)
		}
	}

	for i, b := range c.Bindings {
		if b.AgentID == "" {
			return fmt.Errorf("bindings[%d]: missing agentId", i)
		}
		if b.Match.Channel == "" {
			return fmt.Errorf("bindings[%d]: missing match.channel", i)
		}
	}
	return nil
}
