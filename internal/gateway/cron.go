package gateway

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/ironclaw/internal/agent"
	"github.com/nextlevelbuilder/ironclaw/internal/cron"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
)

// fireCron runs one headless turn for a due job. Each fire starts from a
// fresh session under the job's stable key, so runs never see each other's
// history. The result reaches the user only through the send tool named in
// the delivery contract.
func (g *Gateway) fireCron(job cron.Job) {
	key := sessions.BuildCronKey(job.ID)

	if err := g.sessions.DeleteByKey(key); err != nil {
		slog.Warn("cron: stale session not deleted", "job", job.ID, "error", err)
	}
	g.evictRunner(key)

	agentID := job.AgentID
	if agentID == "" {
		agentID = g.cfg.DefaultAgentID()
	}

	entry, err := g.sessions.Create(key, agentID, "cron")
	if err != nil {
		slog.Error("cron: session create failed", "job", job.ID, "error", err)
		return
	}
	if err := g.sessions.SetDisplayName(entry.ID, job.Title()); err != nil {
		slog.Warn("cron: title not set", "job", job.ID, "error", err)
	}

	runner, err := g.runnerFor(key, entry, agentID, "cron", job.Delivery.To)
	if err != nil {
		slog.Error("cron: runner build failed", "job", job.ID, "error", err)
		return
	}

	final, err := runner.Run(context.Background(), job.Message, agent.RunOptions{
		Source:            agent.SourceCron,
		ExtraSystemPrompt: cron.ExtraPrompt(job.Delivery),
	})
	if err != nil {
		slog.Error("cron: run failed", "job", job.ID, "error", err)
		return
	}
	slog.Info("cron: job fired", "job", job.ID, "name", job.Name, "final_len", len(final))
}
