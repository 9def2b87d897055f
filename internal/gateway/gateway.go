// Package gateway is the composition root: it owns the session manager,
// router, tool registry, subagent registry, cron service, and channel
// registry, and drives the agent loop for every inbound message.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ironclaw/internal/agent"
	"github.com/nextlevelbuilder/ironclaw/internal/bus"
	"github.com/nextlevelbuilder/ironclaw/internal/channels"
	"github.com/nextlevelbuilder/ironclaw/internal/config"
	"github.com/nextlevelbuilder/ironclaw/internal/cron"
	"github.com/nextlevelbuilder/ironclaw/internal/providers"
	"github.com/nextlevelbuilder/ironclaw/internal/routing"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
	"github.com/nextlevelbuilder/ironclaw/internal/subagent"
	"github.com/nextlevelbuilder/ironclaw/internal/tools"
)

const (
	defaultMaxMessageChars = 32000
	defaultMaxConcurrent   = 8
	announceSenderIdentity = "subagent-announce"
)

// Gateway wires every subsystem together and processes inbound messages.
type Gateway struct {
	cfg       *config.Config
	providers *providers.Registry
	sessions  *sessions.Manager
	router    *routing.Router
	tools     *tools.Registry
	channels  *channels.Registry
	bus       *bus.MessageBus
	subagents *subagent.Registry
	announcer *subagent.Announcer
	cron      *cron.Service
	followups *agent.FollowupQueue

	mu      sync.Mutex
	runners map[string]*agent.Runner // session key → runner
}

// New builds a gateway from config. Channels are registered separately by
// the caller before Start.
func New(cfg *config.Config) (*Gateway, error) {
	stateDir := cfg.Sessions.StateDir
	if stateDir == "" {
		return nil, fmt.Errorf("sessions.state_dir is not configured")
	}

	sessionMgr, err := sessions.NewManager(stateDir)
	if err != nil {
		return nil, err
	}
	providerReg, err := providers.NewRegistry(cfg.Providers)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		providers: providerReg,
		sessions:  sessionMgr,
		router:    routing.NewRouter(cfg.Bindings),
		tools:     tools.NewRegistry(),
		channels:  channels.NewRegistry(),
		bus:       bus.NewMessageBus(),
		runners:   make(map[string]*agent.Runner),
	}
	g.followups = agent.NewFollowupQueue(agent.ModeSteer, g.steerMessage)

	archiveAfter := time.Duration(cfg.Subagents.ArchiveAfterMinutes) * time.Minute
	g.subagents, err = subagent.NewRegistry(stateDir, archiveAfter, sessionMgr.DeleteByKey)
	if err != nil {
		return nil, err
	}
	g.announcer = subagent.NewAnnouncer(g.TriggerAgent, func(runID string, didAnnounce bool) {
		if err := g.subagents.FinalizeCleanup(runID, didAnnounce); err != nil {
			slog.Warn("subagent cleanup failed", "run", runID, "error", err)
		}
	})

	g.cron, err = cron.NewService(stateDir, g.fireCron)
	if err != nil {
		return nil, err
	}

	g.registerBuiltinTools()
	return g, nil
}

func (g *Gateway) registerBuiltinTools() {
	g.tools.Register(tools.NewShellTool(""))
	g.tools.Register(tools.NewSessionsSendTool())
	g.tools.Register(tools.NewTelegramSendTool())
	g.tools.RegisterPrimaryOnly(tools.NewSpawnTool())
}

// Channels returns the channel registry so the caller can register adapters.
func (g *Gateway) Channels() *channels.Registry { return g.channels }

// Sessions returns the session manager.
func (g *Gateway) Sessions() *sessions.Manager { return g.sessions }

// Cron returns the cron service.
func (g *Gateway) Cron() *cron.Service { return g.cron }

// Subagents returns the subagent registry.
func (g *Gateway) Subagents() *subagent.Registry { return g.subagents }

// Tools returns the tool registry.
func (g *Gateway) Tools() *tools.Registry { return g.tools }

// Providers returns the provider registry.
func (g *Gateway) Providers() *providers.Registry { return g.providers }

// Bus returns the message bus for event subscribers.
func (g *Gateway) Bus() *bus.MessageBus { return g.bus }

// Start brings the gateway up: reports runs interrupted by the previous
// shutdown, starts the cron schedulers and the archive sweeper, starts all
// channels, and begins consuming inbound messages.
func (g *Gateway) Start(ctx context.Context) error {
	for _, run := range g.subagents.MarkInterrupted() {
		slog.Warn("reporting interrupted subagent run", "run", run.RunID, "label", run.Label)
		g.announcer.Announce(run, "")
	}

	if g.cfg.Cron.Enabled {
		g.cron.Start(ctx)
	}
	go g.subagents.StartSweeper(ctx)

	if err := g.channels.StartAll(ctx, func(msg bus.IncomingMessage) error {
		if !g.bus.PublishInbound(msg) {
			slog.Warn("inbound queue full, dropping message", "channel", msg.Channel, "from", msg.From)
		}
		return nil
	}); err != nil {
		return err
	}

	go g.consumeLoop(ctx)
	slog.Info("gateway started", "channels", g.channels.Names())
	return nil
}

// Stop shuts down channels and aborts in-flight runs.
func (g *Gateway) Stop(ctx context.Context) {
	g.channels.StopAll(ctx)

	g.mu.Lock()
	runners := make([]*agent.Runner, 0, len(g.runners))
	for _, r := range g.runners {
		runners = append(runners, r)
	}
	g.mu.Unlock()
	for _, r := range runners {
		r.Abort()
	}
	slog.Info("gateway stopped")
}

func (g *Gateway) consumeLoop(ctx context.Context) {
	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go func(msg bus.IncomingMessage) {
			if err := g.ProcessMessage(ctx, msg); err != nil {
				slog.Error("message processing failed", "channel", msg.Channel, "session", msg.SessionKey, "error", err)
			}
		}(msg)
	}
}
