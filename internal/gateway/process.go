package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/ironclaw/internal/agent"
	"github.com/nextlevelbuilder/ironclaw/internal/bus"
	"github.com/nextlevelbuilder/ironclaw/internal/channels"
	"github.com/nextlevelbuilder/ironclaw/internal/routing"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
	"github.com/nextlevelbuilder/ironclaw/internal/telemetry"
	"github.com/nextlevelbuilder/ironclaw/internal/tools"
)

// ProcessMessage runs one inbound message end to end: route to an agent,
// resolve the session, and either steer a live runner or start a turn.
// The final reply ships back through the message's channel unless it is a
// sentinel or a NO_REPLY.
func (g *Gateway) ProcessMessage(ctx context.Context, msg bus.IncomingMessage) error {
	if msg.Text == "" {
		return nil
	}
	maxChars := g.cfg.Gateway.MaxMessageChars
	if maxChars <= 0 {
		maxChars = defaultMaxMessageChars
	}
	if len(msg.Text) > maxChars {
		msg.Text = msg.Text[:maxChars]
		slog.Warn("inbound message truncated", "session", msg.SessionKey, "max", maxChars)
	}

	if msg.SessionKey == "" {
		msg.SessionKey = sessions.BuildChannelKey(msg.Channel, msg.To)
	}

	agentID, match := g.router.Resolve(routing.Input{
		Channel:   msg.Channel,
		AccountID: msg.AccountID,
		PeerKind:  msg.PeerKind,
		PeerID:    msg.To,
		GuildID:   msg.GuildID,
		TeamID:    msg.TeamID,
	}, g.cfg.DefaultAgentID())
	slog.Debug("message routed", "session", msg.SessionKey, "agent", agentID, "match", match)

	entry, err := g.sessions.GetOrCreate(msg.SessionKey, agentID, msg.Channel)
	if err != nil {
		return fmt.Errorf("resolve session %s: %w", msg.SessionKey, err)
	}

	runner, err := g.runnerFor(msg.SessionKey, entry, agentID, msg.Channel, msg.To)
	if err != nil {
		return err
	}

	// A busy runner means the user is steering a turn already in flight.
	if runner.IsActive() && msg.From != announceSenderIdentity {
		g.followups.Enqueue(msg.SessionKey, msg.Text)
		return nil
	}

	return g.runTurn(ctx, runner, msg, agent.RunOptions{Source: sourceOf(msg)})
}

// runTurn executes one turn and delivers the final reply.
func (g *Gateway) runTurn(ctx context.Context, runner *agent.Runner, msg bus.IncomingMessage, opts agent.RunOptions) error {
	ctx, span := telemetry.Tracer("gateway").Start(ctx, "gateway.run_turn")
	span.SetAttributes(
		attribute.String("session.key", msg.SessionKey),
		attribute.String("channel", msg.Channel),
		attribute.String("source", string(opts.Source)),
	)
	defer span.End()

	g.channels.SendTyping(ctx, msg.Channel, msg.To)
	opts.Callbacks = g.streamCallbacks(msg.Channel, msg.To)

	final, err := runner.Run(ctx, msg.Text, opts)
	if err != nil {
		return fmt.Errorf("run turn for %s: %w", msg.SessionKey, err)
	}

	g.bus.Broadcast(bus.Event{Name: "run.complete", Payload: map[string]string{
		"session": msg.SessionKey,
		"final":   final,
	}})

	if !agent.ShouldDeliver(final) {
		slog.Debug("final reply suppressed", "session", msg.SessionKey, "final", final)
		return nil
	}
	if msg.Channel == "" || channels.IsInternalChannel(msg.Channel) {
		return nil
	}
	return g.channels.Send(ctx, bus.OutgoingMessage{
		Channel: msg.Channel,
		To:      msg.To,
		Text:    final,
	})
}

// streamCallbacks wires runner events to the channel's streaming surface
// when it has one.
func (g *Gateway) streamCallbacks(channel, to string) agent.Callbacks {
	streamer, ok := g.channels.Streamer(channel)
	if !ok {
		return agent.Callbacks{}
	}
	return agent.Callbacks{
		OnChunk: func(text string) { streamer.SendChunk(to, text) },
		OnToolCall: func(name string, _ map[string]interface{}) {
			streamer.SendToolCall(to, name)
		},
		OnToolResult: func(name, result string) { streamer.SendToolResult(to, name, result) },
	}
}

// runnerFor returns the cached runner for a session key, rebinding it when
// the session was recreated, or builds a new one.
func (g *Gateway) runnerFor(key string, entry sessions.Entry, agentID, channel, to string) (*agent.Runner, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.runners[key]; ok {
		if r.SessionID() != entry.ID {
			r.BindSession(entry.ID)
		}
		return r, nil
	}

	spec, _ := g.cfg.Agent(agentID)
	provider, err := g.providers.ForModel(spec.Model)
	if err != nil {
		return nil, fmt.Errorf("no provider for agent %s: %w", agentID, err)
	}

	r := agent.NewRunner(agent.RunnerConfig{
		SessionKey:   key,
		SessionID:    entry.ID,
		AgentID:      agentID,
		SystemPrompt: spec.SystemPrompt,
		Model:        spec.Model,
		Provider:     provider,
		Sessions:     g.sessions,
		Tools:        g.tools,
		Gateway:      g,
		ToolContext: tools.ToolContext{
			SessionKey: key,
			Channel:    channel,
			To:         to,
			AgentID:    agentID,
		},
		IsSubagent:    sessions.IsSubagentKey(key),
		MaxIterations: g.cfg.Gateway.MaxIterations,
	})
	g.runners[key] = r
	return r, nil
}

// cachedRunner returns the runner for a key without creating one.
func (g *Gateway) cachedRunner(key string) (*agent.Runner, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runners[key]
	return r, ok
}

// evictRunner drops the cached runner for a key. Called when the session
// behind it is deleted.
func (g *Gateway) evictRunner(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runners, key)
}

// steerMessage is the followup queue's delivery callback: inject into the
// live runner, or process as freshly arrived when the run ended meanwhile.
func (g *Gateway) steerMessage(sessionKey, text string) {
	if r, ok := g.cachedRunner(sessionKey); ok && r.Inject(text) {
		return
	}

	entry, ok := g.sessions.FindByKey(sessionKey)
	if !ok {
		slog.Warn("followup for unknown session", "session", sessionKey)
		return
	}
	go func() {
		err := g.ProcessMessage(context.Background(), bus.IncomingMessage{
			Channel:    entry.Channel,
			To:         peerOf(sessionKey),
			Text:       text,
			SessionKey: sessionKey,
		})
		if err != nil {
			slog.Error("followup processing failed", "session", sessionKey, "error", err)
		}
	}()
}

func sourceOf(msg bus.IncomingMessage) agent.Source {
	if msg.From == announceSenderIdentity {
		return agent.SourceAnnounce
	}
	return agent.SourceUser
}

// peerOf extracts the peer component of a channel session key.
func peerOf(key string) string {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return ""
}
