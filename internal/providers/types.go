// Package providers implements the model client: one Chat/ChatStream surface
// over two wire dialects (Anthropic messages and OpenAI chat completions).
package providers

import "context"

// Provider is the interface all model providers implement.
type Provider interface {
	// Chat sends messages to the model and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response deltas via callbacks.
	// Returns the final aggregated response after the stream ends.
	ChatStream(ctx context.Context, req ChatRequest, cb StreamCallbacks) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier.
	Name() string
}

// StreamCallbacks receives streaming deltas. Both fields are optional.
// OnChunk fires for every appended text fragment. OnToolCall fires once per
// tool call after its argument JSON has been fully reassembled.
type StreamCallbacks struct {
	OnChunk    func(text string)
	OnToolCall func(name string, args map[string]interface{})
}

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Model     string           `json:"model,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

// ChatResponse is the aggregated result from a model call.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        *Usage     `json:"usage,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool"
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
