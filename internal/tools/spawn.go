package tools

import (
	"context"
	"fmt"
)

// SpawnTool starts a background subagent run. Registered primary-only:
// subagents never see it in their schemas.
type SpawnTool struct{}

func NewSpawnTool() *SpawnTool { return &SpawnTool{} }

func (t *SpawnTool) Name() string { return "sessions_spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a background agent to work on a task in parallel. The result is announced back to this conversation when the task finishes."
}

func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Full task description for the background agent",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable label for the task",
			},
			"agent_id": map[string]interface{}{
				"type":        "string",
				"description": "Agent to run the task with (defaults to the current agent)",
			},
			"cleanup": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"delete", "keep"},
				"description": "What to do with the child session after announcing: delete it, or keep it for later archival",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	gw := GatewayRefFrom(ctx)
	if gw == nil {
		return ErrorResult("gateway not available")
	}

	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	label, _ := args["label"].(string)
	if label == "" {
		label = truncateLabel(task, 40)
	}
	agentID, _ := args["agent_id"].(string)
	cleanup, _ := args["cleanup"].(string)
	switch cleanup {
	case "", "delete", "keep":
	default:
		return ErrorResult(fmt.Sprintf("invalid cleanup mode: %s", cleanup))
	}

	tc := ToolContextFrom(ctx)
	if agentID == "" {
		agentID = tc.AgentID
	}

	runID, err := gw.SpawnSubagent(ctx, SpawnRequest{
		Task:                task,
		Label:               label,
		AgentID:             agentID,
		Cleanup:             cleanup,
		RequesterSessionKey: tc.SessionKey,
		RequesterChannel:    tc.Channel,
		RequesterTo:         tc.To,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to spawn subagent: %v", err)).WithError(err)
	}

	return SilentResult(fmt.Sprintf(`{"status":"started","run_id":"%s","label":"%s"}`, runID, label))
}

func truncateLabel(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
