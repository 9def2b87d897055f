package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ironclaw/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("ironclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Printf("  State:    %s\n", cfg.Sessions.StateDir)
	fmt.Printf("  Agents:   %d (default: %s)\n", len(cfg.Agents.List), cfg.DefaultAgentID())

	providers := 0
	for _, p := range cfg.Providers {
		status := "no API key"
		if p.APIKey != "" {
			status = "key set"
			providers++
		}
		fmt.Printf("  Provider: %s (%s dialect, %s)\n", p.ID, p.Dialect, status)
	}
	if providers == 0 {
		fmt.Println("  WARNING: no provider has an API key; set IRONCLAW_PROVIDER_<ID>_API_KEY")
	}

	check := func(name string, enabled bool, token string) {
		switch {
		case !enabled:
			fmt.Printf("  Channel:  %s (disabled)\n", name)
		case token == "":
			fmt.Printf("  Channel:  %s (enabled, MISSING TOKEN)\n", name)
		default:
			fmt.Printf("  Channel:  %s (enabled)\n", name)
		}
	}
	check("telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token)
	check("discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token)
	if cfg.Channels.Socket.Enabled {
		fmt.Printf("  Channel:  socket (enabled, %s:%d)\n", cfg.Channels.Socket.Host, cfg.Channels.Socket.Port)
	} else {
		fmt.Println("  Channel:  socket (disabled)")
	}

	fmt.Printf("  Cron:     enabled=%v\n", cfg.Cron.Enabled)
	fmt.Printf("  Telemetry: enabled=%v endpoint=%s\n", cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint)
}
