package tools

import "context"

// Tool execution context keys. Per-call state travels on the context instead
// of mutable fields on tool instances, so tools stay safe for concurrent use.

type toolContextKey string

const (
	ctxToolContext toolContextKey = "tool_context"
	ctxGatewayRef  toolContextKey = "tool_gateway_ref"
)

// ToolContext carries the identity of the run invoking a tool.
type ToolContext struct {
	SessionKey string
	Channel    string
	To         string
	AgentID    string
}

func WithToolContext(ctx context.Context, tc ToolContext) context.Context {
	return context.WithValue(ctx, ctxToolContext, tc)
}

func ToolContextFrom(ctx context.Context) ToolContext {
	v, _ := ctx.Value(ctxToolContext).(ToolContext)
	return v
}

// TriggerOutcome reports how TriggerAgent delivered a message.
type TriggerOutcome string

const (
	TriggerSteered TriggerOutcome = "steered" // injected into a live runner
	TriggerInvoked TriggerOutcome = "invoked" // a fresh run was kicked off
	TriggerFailed  TriggerOutcome = "failed"
)

// SpawnRequest asks the gateway to start a background subagent run.
type SpawnRequest struct {
	Task    string
	Label   string
	AgentID string
	Cleanup string // "delete" or "keep"

	RequesterSessionKey string
	RequesterChannel    string
	RequesterTo         string
}

// GatewayRef is the narrow re-entry surface the gateway hands to tools.
// It breaks the gateway↔tools cycle: tools only see these three calls.
type GatewayRef interface {
	// SendToSession appends an assistant entry to the target session's
	// transcript and pushes the text via its channel.
	SendToSession(sessionKey, channel, text string) error

	// TriggerAgent injects into a live runner or starts a fresh run.
	TriggerAgent(sessionKey, channel, message string) TriggerOutcome

	// SpawnSubagent starts a background run and returns its run ID.
	SpawnSubagent(ctx context.Context, req SpawnRequest) (string, error)
}

func WithGatewayRef(ctx context.Context, gw GatewayRef) context.Context {
	return context.WithValue(ctx, ctxGatewayRef, gw)
}

func GatewayRefFrom(ctx context.Context) GatewayRef {
	v, _ := ctx.Value(ctxGatewayRef).(GatewayRef)
	return v
}
