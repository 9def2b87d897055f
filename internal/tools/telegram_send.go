package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
)

// TelegramSendTool delivers a message to a telegram chat. Cron jobs use it
// to satisfy their delivery contract; the session transcript records the
// delivery so the model sees what it sent.
type TelegramSendTool struct{}

func NewTelegramSendTool() *TelegramSendTool { return &TelegramSendTool{} }

func (t *TelegramSendTool) Name() string { return "telegram_send" }

func (t *TelegramSendTool) Description() string {
	return "Send a message to a telegram chat by chat ID."
}

func (t *TelegramSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Telegram chat ID to deliver to",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message text",
			},
		},
		"required": []string{"to", "message"},
	}
}

func (t *TelegramSendTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	gw := GatewayRefFrom(ctx)
	if gw == nil {
		return ErrorResult("gateway not available")
	}

	to, _ := args["to"].(string)
	message, _ := args["message"].(string)
	if to == "" {
		return ErrorResult("to is required")
	}
	if message == "" {
		return ErrorResult("message is required")
	}

	key := sessions.BuildChannelKey("telegram", to)
	if err := gw.SendToSession(key, "telegram", message); err != nil {
		return ErrorResult(fmt.Sprintf("failed to send: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf(`{"status":"sent","to":"%s"}`, to))
}
