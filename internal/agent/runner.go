// Package agent implements the tool-calling loop: one runner per session,
// bounded iterations, mid-flight injection, and source-specific framing.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ironclaw/internal/providers"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
	"github.com/nextlevelbuilder/ironclaw/internal/store"
	"github.com/nextlevelbuilder/ironclaw/internal/tools"
)

// Source tags where a run's input came from. Non-user sources are framed
// so the model can tell spontaneous firings from user turns.
type Source string

const (
	SourceUser     Source = "user"
	SourceCron     Source = "cron"
	SourceAnnounce Source = "subagent-announce"
)

const (
	injectPrefix   = "[INTERRUPT] New message from user: "
	cronPrefix     = "[SCHEDULED TASK] Execute the following scheduled task and send the result to the user: "
	announcePrefix = "[SUBAGENT RESULT] "

	defaultMaxIterations = 10
	maxEmptyRetries      = 2
)

// Callbacks receive streaming events during a run. All fields are optional.
type Callbacks struct {
	OnChunk      func(text string)
	OnToolCall   func(name string, args map[string]interface{})
	OnToolResult func(name, result string)
	OnComplete   func(final string)
}

// RunOptions configure one run.
type RunOptions struct {
	Source            Source
	ExtraSystemPrompt string
	Callbacks         Callbacks
}

// RunnerConfig wires a new runner to its session and dependencies.
type RunnerConfig struct {
	SessionKey    string
	SessionID     string
	AgentID       string
	SystemPrompt  string // agent's configured prompt; empty uses the default
	Model         string
	Provider      providers.Provider
	Sessions      *sessions.Manager
	Tools         *tools.Registry
	Gateway       tools.GatewayRef
	ToolContext   tools.ToolContext
	IsSubagent    bool
	MaxIterations int
}

// Runner executes the bounded loop for exactly one session. Not reentrant:
// a second Run while active returns an error, callers go through Inject.
type Runner struct {
	cfg RunnerConfig

	mu       sync.Mutex
	running  bool
	injected []string
	cancel   context.CancelFunc

	// conv mirrors the transcript; seen counts entries already mirrored so
	// tool-mediated side writes become visible on the next iteration.
	conv []providers.Message
	seen int
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Runner{cfg: cfg}
}

// BindSession repoints the runner at a different session id. Used when the
// gateway recreates a session under the same key.
func (r *Runner) BindSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.SessionID = sessionID
	r.conv = nil
	r.seen = 0
}

// SessionID returns the bound session id.
func (r *Runner) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.SessionID
}

// IsActive reports whether a run is in flight.
func (r *Runner) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Inject queues a message into the running loop. The next model call sees
// it as a trailing user entry. Returns false when no run is active.
func (r *Runner) Inject(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	r.injected = append(r.injected, text)
	slog.Info("runner: injected message", "session", r.cfg.SessionKey, "queued", len(r.injected))
	return true
}

// Abort cancels the in-flight model call and stops the loop.
func (r *Runner) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes one turn. The returned string is the final reply, which may
// be a sentinel. Callbacks fire during execution; OnComplete fires last
// with the same value Run returns.
func (r *Runner) Run(ctx context.Context, input string, opts RunOptions) (string, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", fmt.Errorf("runner for %s is already active", r.cfg.SessionKey)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
	}()

	final, err := r.run(ctx, input, opts)
	if opts.Callbacks.OnComplete != nil {
		opts.Callbacks.OnComplete(final)
	}
	return final, err
}

func (r *Runner) run(ctx context.Context, input string, opts RunOptions) (string, error) {
	start := time.Now()
	r.syncTranscript()

	if r.seen == 0 {
		prompt := ComposeSystemPrompt(r.cfg.SystemPrompt, opts.ExtraSystemPrompt, r.cfg.Tools.SkillsCatalogue(r.cfg.IsSubagent))
		r.append(store.TranscriptEntry{Role: "system", Content: prompt})
	}
	r.append(store.TranscriptEntry{Role: "user", Content: frameInput(input, opts.Source)})

	toolCtx := tools.WithToolContext(ctx, r.cfg.ToolContext)
	if r.cfg.Gateway != nil {
		toolCtx = tools.WithGatewayRef(toolCtx, r.cfg.Gateway)
	}
	defs := r.cfg.Tools.Definitions(r.cfg.IsSubagent)

	final := ""
	emptyRetries := 0
	iterations := 0

	for iterations < r.cfg.MaxIterations {
		iterations++
		r.syncTranscript()
		r.drainOneInjected()

		resp, err := r.cfg.Provider.ChatStream(ctx, providers.ChatRequest{
			Messages: r.conv,
			Tools:    defs,
			Model:    r.cfg.Model,
		}, providers.StreamCallbacks{
			OnChunk:    opts.Callbacks.OnChunk,
			OnToolCall: opts.Callbacks.OnToolCall,
		})
		if ctx.Err() != nil {
			slog.Info("runner: aborted", "session", r.cfg.SessionKey, "iteration", iterations)
			return SentinelAborted, nil
		}
		if err != nil {
			slog.Error("runner: model call failed", "session", r.cfg.SessionKey, "error", err)
			errText := fmt.Sprintf("Error: %v", err)
			r.append(store.TranscriptEntry{Role: "assistant", Content: errText})
			return errText, nil
		}

		if len(resp.ToolCalls) > 0 {
			r.appendAssistantWithCalls(resp)
			r.executeToolCalls(toolCtx, resp.ToolCalls, opts.Callbacks)
			emptyRetries = 0
			continue
		}

		if resp.Content != "" {
			r.append(store.TranscriptEntry{Role: "assistant", Content: resp.Content})
			final = resp.Content
			if r.hasInjected() {
				continue
			}
			break
		}

		// Empty response: retry a couple of times unless there is queued
		// input that may unblock the model.
		if r.hasInjected() {
			continue
		}
		emptyRetries++
		if emptyRetries > maxEmptyRetries {
			break
		}
	}

	// Drain phase: leftover injected messages get their own turns, bounded
	// by the same iteration budget.
	for r.hasInjected() && iterations < r.cfg.MaxIterations {
		iterations++
		r.syncTranscript()
		r.drainOneInjected()

		resp, err := r.cfg.Provider.ChatStream(ctx, providers.ChatRequest{
			Messages: r.conv,
			Tools:    defs,
			Model:    r.cfg.Model,
		}, providers.StreamCallbacks{
			OnChunk:    opts.Callbacks.OnChunk,
			OnToolCall: opts.Callbacks.OnToolCall,
		})
		if ctx.Err() != nil {
			return SentinelAborted, nil
		}
		if err != nil {
			slog.Error("runner: model call failed in drain", "session", r.cfg.SessionKey, "error", err)
			break
		}

		if len(resp.ToolCalls) > 0 {
			r.appendAssistantWithCalls(resp)
			r.executeToolCalls(toolCtx, resp.ToolCalls, opts.Callbacks)
			continue
		}
		if resp.Content != "" {
			r.append(store.TranscriptEntry{Role: "assistant", Content: resp.Content})
			final = resp.Content
		}
	}

	if final == "" {
		final = SentinelDone
	}
	slog.Info("runner: turn complete",
		"session", r.cfg.SessionKey, "source", opts.Source,
		"iterations", iterations, "duration", time.Since(start).Round(time.Millisecond))
	return final, nil
}

// syncTranscript mirrors transcript entries appended since the last look,
// so tool-mediated side writes are visible to the next model call.
func (r *Runner) syncTranscript() {
	entries, err := r.cfg.Sessions.LoadTranscript(r.cfg.SessionID)
	if err != nil {
		slog.Warn("runner: transcript sync failed", "session", r.cfg.SessionKey, "error", err)
		return
	}
	if len(entries) <= r.seen {
		return
	}
	for _, e := range entries[r.seen:] {
		r.conv = append(r.conv, entryToMessage(e))
	}
	r.seen = len(entries)
}

// append writes an entry to the transcript and mirrors it in memory. When
// the session was deleted externally mid-run, the disk write fails; the run
// continues against its in-memory view.
func (r *Runner) append(entry store.TranscriptEntry) {
	if err := r.cfg.Sessions.Append(r.cfg.SessionID, entry); err != nil {
		slog.Warn("runner: transcript append failed", "session", r.cfg.SessionKey, "error", err)
	} else {
		r.seen++
	}
	r.conv = append(r.conv, entryToMessage(entry))
}

func (r *Runner) appendAssistantWithCalls(resp *providers.ChatResponse) {
	calls := make([]store.TranscriptToolCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		calls[i] = store.TranscriptToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	r.append(store.TranscriptEntry{Role: "assistant", Content: resp.Content, ToolCalls: calls})
}

// executeToolCalls runs each call in declaration order and appends its
// result. Unknown tools produce an error result the model can react to.
func (r *Runner) executeToolCalls(ctx context.Context, calls []providers.ToolCall, cb Callbacks) {
	for _, call := range calls {
		var resultText string

		tool, ok := r.cfg.Tools.Get(call.Name, r.cfg.IsSubagent)
		if !ok {
			resultText = fmt.Sprintf("Error: Unknown tool %s", call.Name)
			slog.Warn("runner: unknown tool", "session", r.cfg.SessionKey, "tool", call.Name)
		} else {
			result := tool.Execute(ctx, call.Arguments)
			resultText = result.ForLLM
			if result.IsError {
				slog.Warn("runner: tool failed", "session", r.cfg.SessionKey, "tool", call.Name, "error", result.Err)
			}
		}

		r.append(store.TranscriptEntry{Role: "tool", Content: resultText, ToolCallID: call.ID})
		if cb.OnToolResult != nil {
			cb.OnToolResult(call.Name, resultText)
		}
	}
}

func (r *Runner) hasInjected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.injected) > 0
}

// drainOneInjected appends at most one queued message as a prefixed user
// entry.
func (r *Runner) drainOneInjected() {
	r.mu.Lock()
	if len(r.injected) == 0 {
		r.mu.Unlock()
		return
	}
	text := r.injected[0]
	r.injected = r.injected[1:]
	r.mu.Unlock()

	r.append(store.TranscriptEntry{Role: "user", Content: injectPrefix + text})
}

// frameInput wraps the input according to its source so the model can tell
// spontaneous firings from user turns.
func frameInput(input string, source Source) string {
	switch source {
	case SourceCron:
		return cronPrefix + input
	case SourceAnnounce:
		return announcePrefix + input
	default:
		return input
	}
}

func entryToMessage(e store.TranscriptEntry) providers.Message {
	msg := providers.Message{Role: e.Role, Content: e.Content, ToolCallID: e.ToolCallID}
	for _, tc := range e.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return msg
}
