package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ironclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/ironclaw/internal/channels/socket"
	"github.com/nextlevelbuilder/ironclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/ironclaw/internal/config"
	"github.com/nextlevelbuilder/ironclaw/internal/gateway"
	"github.com/nextlevelbuilder/ironclaw/internal/telemetry"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	gw, err := gateway.New(cfg)
	if err != nil {
		slog.Error("gateway init failed", "error", err)
		os.Exit(1)
	}

	if err := registerChannels(gw, cfg); err != nil {
		slog.Error("channel setup failed", "error", err)
		os.Exit(1)
	}

	if err := gw.Start(ctx); err != nil {
		slog.Error("gateway start failed", "error", err)
		os.Exit(1)
	}

	// Reload on config file changes. Bindings and channel credentials need a
	// restart; agent prompts and models take effect on the next turn.
	go func() {
		if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			slog.Info("config change detected, restart to apply channel or binding changes")
		}); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	slog.Info("ironclaw gateway running", "version", Version, "config", cfgPath)
	<-ctx.Done()

	gw.Stop(context.Background())
}

func registerChannels(gw *gateway.Gateway, cfg *config.Config) error {
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram)
		if err != nil {
			return err
		}
		gw.Channels().Register(ch, cfg.Channels.Telegram.RateRPM)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord)
		if err != nil {
			return err
		}
		gw.Channels().Register(ch, cfg.Channels.Discord.RateRPM)
	}
	if cfg.Channels.Socket.Enabled {
		gw.Channels().Register(socket.New(cfg.Channels.Socket), 0)
	}
	return nil
}
