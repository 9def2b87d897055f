package agent

import "strings"

const defaultSystemPrompt = `You are a helpful assistant reachable over chat channels. Be concise and direct. Use the available tools when a task calls for them. If you deliver your answer through a send tool, reply with NO_REPLY so the user does not receive it twice.`

// ComposeSystemPrompt builds the system prompt for a run: an optional
// caller-provided extra prompt first, then the agent's configured prompt
// (or the built-in default), then the skills catalogue. Composed exactly
// once per run; it becomes the session's first transcript entry.
func ComposeSystemPrompt(agentPrompt, extraPrompt, skillsCatalogue string) string {
	base := agentPrompt
	if strings.TrimSpace(base) == "" {
		base = defaultSystemPrompt
	}

	var parts []string
	if strings.TrimSpace(extraPrompt) != "" {
		parts = append(parts, strings.TrimSpace(extraPrompt))
	}
	parts = append(parts, base)
	if strings.TrimSpace(skillsCatalogue) != "" {
		parts = append(parts, skillsCatalogue)
	}
	return strings.Join(parts, "\n\n")
}
