package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agents: AgentsConfig{
			Default: "default",
			List: map[string]AgentSpec{
				"default": {Name: "Assistant", Model: "claude-sonnet-4-5-20250929"},
			},
		},
		Gateway: GatewaySettings{
			MaxIterations:   10,
			MaxMessageChars: 32000,
		},
		Sessions: SessionsConfig{
			StateDir: filepath.Join(home, ".ironclaw"),
		},
		Subagents: SubagentsConfig{
			MaxConcurrent:       8,
			ArchiveAfterMinutes: 60,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overlays secrets from the environment.
// Env vars take precedence over file values and are never written back.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("IRONCLAW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("IRONCLAW_DISCORD_TOKEN", &c.Channels.Discord.Token)

	// Per-provider credentials: IRONCLAW_PROVIDER_<ID>_API_KEY
	for i := range c.Providers {
		key := "IRONCLAW_PROVIDER_" + strings.ToUpper(strings.ReplaceAll(c.Providers[i].ID, "-", "_")) + "_API_KEY"
		envStr(key, &c.Providers[i].APIKey)
	}

	// Auto-enable channels when credentials arrive via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
}
