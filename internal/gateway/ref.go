package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/ironclaw/internal/agent"
	"github.com/nextlevelbuilder/ironclaw/internal/bus"
	"github.com/nextlevelbuilder/ironclaw/internal/channels"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
	"github.com/nextlevelbuilder/ironclaw/internal/store"
	"github.com/nextlevelbuilder/ironclaw/internal/subagent"
	"github.com/nextlevelbuilder/ironclaw/internal/tools"
)

// The gateway is the tools.GatewayRef implementation handed to runners.
var _ tools.GatewayRef = (*Gateway)(nil)

// SendToSession appends an assistant entry to the target session's
// transcript and pushes the text out through its channel. Internal sessions
// (cron, subagent) get the transcript write only.
func (g *Gateway) SendToSession(sessionKey, channel, text string) error {
	entry, ok := g.sessions.FindByKey(sessionKey)
	if !ok {
		// Channel sessions are created on demand so a cron job can deliver
		// to a chat the bot has not seen yet. Internal keys must exist.
		if sessions.IsSubagentKey(sessionKey) || sessions.IsCronKey(sessionKey) {
			return fmt.Errorf("unknown session: %s", sessionKey)
		}
		var err error
		entry, err = g.sessions.GetOrCreate(sessionKey, g.cfg.DefaultAgentID(), sessions.ChannelOf(sessionKey))
		if err != nil {
			return fmt.Errorf("create session %s: %w", sessionKey, err)
		}
	}

	if err := g.sessions.Append(entry.ID, store.TranscriptEntry{Role: "assistant", Content: text}); err != nil {
		return fmt.Errorf("append to session %s: %w", sessionKey, err)
	}

	if channel == "" {
		channel = entry.Channel
	}
	if channel == "" {
		channel = sessions.ChannelOf(sessionKey)
	}
	if channel == "" || channels.IsInternalChannel(channel) {
		return nil
	}

	return g.channels.Send(context.Background(), bus.OutgoingMessage{
		Channel: channel,
		To:      peerOf(sessionKey),
		Text:    text,
	})
}

// TriggerAgent delivers a message to a session's agent: injected into the
// live runner when one is active, otherwise as a fresh announce-sourced run.
func (g *Gateway) TriggerAgent(sessionKey, channel, message string) tools.TriggerOutcome {
	if r, ok := g.cachedRunner(sessionKey); ok && r.Inject(message) {
		return tools.TriggerSteered
	}

	entry, ok := g.sessions.FindByKey(sessionKey)
	if !ok {
		slog.Warn("trigger for unknown session", "session", sessionKey)
		return tools.TriggerFailed
	}
	if channel == "" {
		channel = entry.Channel
	}

	err := g.ProcessMessage(context.Background(), bus.IncomingMessage{
		Channel:    channel,
		From:       announceSenderIdentity,
		To:         peerOf(sessionKey),
		Text:       message,
		SessionKey: sessionKey,
	})
	if err != nil {
		slog.Error("trigger run failed", "session", sessionKey, "error", err)
		return tools.TriggerFailed
	}
	return tools.TriggerInvoked
}

// SpawnSubagent registers a background run, creates its child session, and
// starts it on its own goroutine. Returns the run id immediately.
func (g *Gateway) SpawnSubagent(_ context.Context, req tools.SpawnRequest) (string, error) {
	maxConcurrent := g.cfg.Subagents.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	if active := len(g.subagents.ListActive()); active >= maxConcurrent {
		return "", fmt.Errorf("too many active background tasks (%d), try again later", active)
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = g.cfg.DefaultAgentID()
	}

	run, err := g.subagents.Register(subagent.RegisterParams{
		Task:                req.Task,
		Label:               req.Label,
		AgentID:             agentID,
		Cleanup:             req.Cleanup,
		RequesterSessionKey: req.RequesterSessionKey,
		RequesterChannel:    req.RequesterChannel,
		RequesterTo:         req.RequesterTo,
	})
	if err != nil {
		return "", fmt.Errorf("register background task: %w", err)
	}

	entry, err := g.sessions.Create(run.SessionKey, agentID, "subagent")
	if err != nil {
		g.subagents.Delete(run.RunID)
		return "", fmt.Errorf("create subagent session: %w", err)
	}
	if run.Label != "" {
		if err := g.sessions.SetDisplayName(entry.ID, run.Label); err != nil {
			slog.Warn("subagent title not set", "run", run.RunID, "error", err)
		}
	}

	go g.runSubagent(run, entry)
	return run.RunID, nil
}

// runSubagent drives one background run to completion and hands the result
// to the announce pipeline.
func (g *Gateway) runSubagent(run subagent.Run, entry sessions.Entry) {
	if err := g.subagents.MarkStarted(run.RunID); err != nil {
		slog.Warn("subagent start not recorded", "run", run.RunID, "error", err)
	}

	runner, err := g.runnerFor(run.SessionKey, entry, run.AgentID, "subagent", "")
	if err != nil {
		g.completeSubagent(run.RunID, subagent.OutcomeError, err.Error(), "")
		return
	}

	final, err := runner.Run(context.Background(), run.Task, agent.RunOptions{Source: agent.SourceUser})
	g.evictRunner(run.SessionKey)

	switch {
	case err != nil:
		g.completeSubagent(run.RunID, subagent.OutcomeError, err.Error(), "")
	case final == agent.SentinelAborted:
		g.completeSubagent(run.RunID, subagent.OutcomeInterrupted, "run aborted", "")
	default:
		findings := final
		if !agent.ShouldDeliver(final) {
			findings = ""
		}
		g.completeSubagent(run.RunID, subagent.OutcomeSuccess, "", findings)
	}
}

func (g *Gateway) completeSubagent(runID string, outcome subagent.Outcome, errMsg, findings string) {
	if err := g.subagents.MarkCompleted(runID, outcome, errMsg); err != nil {
		slog.Error("subagent completion not recorded", "run", runID, "error", err)
		return
	}
	run, ok := g.subagents.Get(runID)
	if !ok {
		return
	}
	g.announcer.Announce(run, findings)
}
