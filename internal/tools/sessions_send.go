package tools

import (
	"context"
	"fmt"
)

// SessionsSendTool delivers a message into another session's transcript and
// channel without triggering an agent turn there.
type SessionsSendTool struct{}

func NewSessionsSendTool() *SessionsSendTool { return &SessionsSendTool{} }

func (t *SessionsSendTool) Name() string { return "sessions_send" }

func (t *SessionsSendTool) Description() string {
	return "Send a message to another session. The message is appended to that session's transcript and pushed to its channel."
}

func (t *SessionsSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_key": map[string]interface{}{
				"type":        "string",
				"description": "Target session key, e.g. telegram:12345",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message to send",
			},
		},
		"required": []string{"session_key", "message"},
	}
}

func (t *SessionsSendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	gw := GatewayRefFrom(ctx)
	if gw == nil {
		return ErrorResult("gateway not available")
	}

	sessionKey, _ := args["session_key"].(string)
	message, _ := args["message"].(string)
	if sessionKey == "" {
		return ErrorResult("session_key is required")
	}
	if message == "" {
		return ErrorResult("message is required")
	}

	if err := gw.SendToSession(sessionKey, "", message); err != nil {
		return ErrorResult(fmt.Sprintf("failed to send: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf(`{"status":"sent","session_key":"%s"}`, sessionKey))
}
