package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/ironclaw/internal/providers"
	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
	"github.com/nextlevelbuilder/ironclaw/internal/tools"
)

// scriptedProvider returns canned responses in order, repeating the last
// one, and records the messages of every call.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
	calls     [][]providers.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return p.ChatStream(ctx, req, providers.StreamCallbacks{})
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, cb providers.StreamCallbacks) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]providers.Message, len(req.Messages))
	copy(msgs, req.Messages)
	p.calls = append(p.calls, msgs)

	idx := len(p.calls) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	if cb.OnChunk != nil && resp.Content != "" {
		cb.OnChunk(resp.Content)
	}
	if cb.OnToolCall != nil {
		for _, tc := range resp.ToolCalls {
			cb.OnToolCall(tc.Name, tc.Arguments)
		}
	}
	return resp, nil
}

func (p *scriptedProvider) DefaultModel() string { return "fake-model" }
func (p *scriptedProvider) Name() string         { return "fake" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *scriptedProvider) call(i int) []providers.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[i]
}

// funcTool adapts a function to the Tool interface.
type funcTool struct {
	name string
	fn   func(ctx context.Context, args map[string]interface{}) *tools.Result
}

func (f *funcTool) Name() string        { return f.name }
func (f *funcTool) Description() string { return "test tool " + f.name }
func (f *funcTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (f *funcTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return f.fn(ctx, args)
}

type runnerFixture struct {
	runner   *Runner
	provider *scriptedProvider
	mgr      *sessions.Manager
	entry    sessions.Entry
}

func newFixture(t *testing.T, provider *scriptedProvider, reg *tools.Registry, isSubagent bool) *runnerFixture {
	t.Helper()
	mgr, err := sessions.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	entry, err := mgr.Create("telegram:42", "default", "telegram")
	if err != nil {
		t.Fatal(err)
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	r := NewRunner(RunnerConfig{
		SessionKey: "telegram:42",
		SessionID:  entry.ID,
		AgentID:    "default",
		Model:      "fake-model",
		Provider:   provider,
		Sessions:   mgr,
		Tools:      reg,
		ToolContext: tools.ToolContext{
			SessionKey: "telegram:42", Channel: "telegram", To: "42", AgentID: "default",
		},
		IsSubagent: isSubagent,
	})
	return &runnerFixture{runner: r, provider: provider, mgr: mgr, entry: entry}
}

func (f *runnerFixture) roles(t *testing.T) []string {
	t.Helper()
	entries, err := f.mgr.LoadTranscript(f.entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	roles := make([]string, len(entries))
	for i, e := range entries {
		roles[i] = e.Role
	}
	return roles
}

func TestRunEcho(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "pong", FinishReason: "stop"},
	}}
	f := newFixture(t, p, nil, false)

	var completed string
	final, err := f.runner.Run(context.Background(), "ping", RunOptions{
		Source:    SourceUser,
		Callbacks: Callbacks{OnComplete: func(s string) { completed = s }},
	})
	if err != nil {
		t.Fatal(err)
	}
	if final != "pong" || completed != "pong" {
		t.Fatalf("final=%q completed=%q", final, completed)
	}

	roles := f.roles(t)
	want := []string{"system", "user", "assistant"}
	if len(roles) != len(want) {
		t.Fatalf("transcript roles: %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("transcript roles: %v, want %v", roles, want)
		}
	}

	entries, _ := f.mgr.LoadTranscript(f.entry.ID)
	if entries[1].Content != "ping" {
		t.Fatalf("user entry framed unexpectedly: %q", entries[1].Content)
	}
	if entries[2].Content != "pong" {
		t.Fatalf("assistant entry: %q", entries[2].Content)
	}
}

func TestRunToolThenText(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&funcTool{name: "bash", fn: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		return tools.NewResult("a.txt\nb.txt\n")
	}})

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "bash", Arguments: map[string]interface{}{"command": "ls"}}}, FinishReason: "tool_calls"},
		{Content: "There are two files: a.txt and b.txt.", FinishReason: "stop"},
	}}
	f := newFixture(t, p, reg, false)

	var toolResults []string
	final, err := f.runner.Run(context.Background(), "list files", RunOptions{
		Source: SourceUser,
		Callbacks: Callbacks{OnToolResult: func(name, result string) {
			toolResults = append(toolResults, name+"="+result)
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if final != "There are two files: a.txt and b.txt." {
		t.Fatalf("final: %q", final)
	}

	roles := f.roles(t)
	want := []string{"system", "user", "assistant", "tool", "assistant"}
	if len(roles) != 5 {
		t.Fatalf("transcript roles: %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("transcript roles: %v, want %v", roles, want)
		}
	}

	entries, _ := f.mgr.LoadTranscript(f.entry.ID)
	if len(entries[2].ToolCalls) != 1 || entries[2].ToolCalls[0].Name != "bash" {
		t.Fatalf("assistant entry missing tool calls: %+v", entries[2])
	}
	if entries[3].ToolCallID != "c1" {
		t.Fatalf("tool entry not linked: %+v", entries[3])
	}
	if len(toolResults) != 1 || !strings.Contains(toolResults[0], "a.txt") {
		t.Fatalf("tool results: %v", toolResults)
	}
}

func TestInjectDuringToolIsSeenNextCall(t *testing.T) {
	reg := tools.NewRegistry()
	var fixture *runnerFixture
	reg.Register(&funcTool{name: "slow", fn: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		// Mid-tool steer: the user interrupts while the tool runs.
		if !fixture.runner.Inject("actually, cancel and just summarise") {
			return tools.ErrorResult("inject rejected")
		}
		return tools.NewResult("partial work done")
	}})

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "slow", Arguments: map[string]interface{}{}}}, FinishReason: "tool_calls"},
		{Content: "Summary: partial work was done.", FinishReason: "stop"},
	}}
	fixture = newFixture(t, p, reg, false)

	final, err := fixture.runner.Run(context.Background(), "do a long task", RunOptions{Source: SourceUser})
	if err != nil {
		t.Fatal(err)
	}
	if final != "Summary: partial work was done." {
		t.Fatalf("final: %q", final)
	}

	// The second model call must end with the interrupt entry.
	if p.callCount() != 2 {
		t.Fatalf("expected 2 model calls, got %d", p.callCount())
	}
	second := p.call(1)
	last := second[len(second)-1]
	if last.Role != "user" || last.Content != injectPrefix+"actually, cancel and just summarise" {
		t.Fatalf("last entry of second call: %s %q", last.Role, last.Content)
	}
}

func TestLoopBound(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&funcTool{name: "loop", fn: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		return tools.NewResult("again")
	}})

	// A model that only ever asks for tools must still terminate.
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c", Name: "loop", Arguments: map[string]interface{}{}}}, FinishReason: "tool_calls"},
	}}
	f := newFixture(t, p, reg, false)

	final, err := f.runner.Run(context.Background(), "go", RunOptions{Source: SourceUser})
	if err != nil {
		t.Fatal(err)
	}
	if final != SentinelDone {
		t.Fatalf("final: %q", final)
	}
	if p.callCount() > defaultMaxIterations {
		t.Fatalf("loop ran %d iterations", p.callCount())
	}
}

func TestEmptyResponseRetries(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "", FinishReason: "stop"},
	}}
	f := newFixture(t, p, nil, false)

	final, err := f.runner.Run(context.Background(), "hello", RunOptions{Source: SourceUser})
	if err != nil {
		t.Fatal(err)
	}
	if final != SentinelDone {
		t.Fatalf("final: %q", final)
	}
	// Initial call plus two retries.
	if p.callCount() != 1+maxEmptyRetries {
		t.Fatalf("expected %d calls, got %d", 1+maxEmptyRetries, p.callCount())
	}
}

func TestUnknownToolReported(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "nonexistent", Arguments: map[string]interface{}{}}}, FinishReason: "tool_calls"},
		{Content: "I could not run that.", FinishReason: "stop"},
	}}
	f := newFixture(t, p, nil, false)

	if _, err := f.runner.Run(context.Background(), "try it", RunOptions{Source: SourceUser}); err != nil {
		t.Fatal(err)
	}

	entries, _ := f.mgr.LoadTranscript(f.entry.ID)
	found := false
	for _, e := range entries {
		if e.Role == "tool" && e.Content == "Error: Unknown tool nonexistent" {
			found = true
		}
	}
	if !found {
		t.Fatal("unknown tool error not recorded")
	}
}

func TestSubagentCannotSpawn(t *testing.T) {
	reg := tools.NewRegistry()
	reg.RegisterPrimaryOnly(tools.NewSpawnTool())

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "sessions_spawn", Arguments: map[string]interface{}{"task": "nest"}}}, FinishReason: "tool_calls"},
		{Content: "done", FinishReason: "stop"},
	}}
	f := newFixture(t, p, reg, true)

	if _, err := f.runner.Run(context.Background(), "spawn something", RunOptions{Source: SourceUser}); err != nil {
		t.Fatal(err)
	}

	entries, _ := f.mgr.LoadTranscript(f.entry.ID)
	found := false
	for _, e := range entries {
		if e.Role == "tool" && e.Content == "Error: Unknown tool sessions_spawn" {
			found = true
		}
	}
	if !found {
		t.Fatal("subagent spawn attempt was not rejected as unknown tool")
	}

	// And the schema offered to the model must not contain the spawn tool.
	for _, d := range reg.Definitions(true) {
		if d.Name == "sessions_spawn" {
			t.Fatal("spawn tool leaked into subagent schema")
		}
	}
}

func TestSourceFraming(t *testing.T) {
	cases := []struct {
		source Source
		prefix string
	}{
		{SourceUser, ""},
		{SourceCron, cronPrefix},
		{SourceAnnounce, announcePrefix},
	}
	for _, tc := range cases {
		p := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "ok"}}}
		f := newFixture(t, p, nil, false)
		if _, err := f.runner.Run(context.Background(), "the message", RunOptions{Source: tc.source}); err != nil {
			t.Fatal(err)
		}
		entries, _ := f.mgr.LoadTranscript(f.entry.ID)
		want := tc.prefix + "the message"
		if entries[1].Content != want {
			t.Fatalf("source %s: user entry %q, want %q", tc.source, entries[1].Content, want)
		}
	}
}

func TestAbortReturnsSentinel(t *testing.T) {
	reg := tools.NewRegistry()
	var fixture *runnerFixture
	reg.Register(&funcTool{name: "slow", fn: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		fixture.runner.Abort()
		return tools.NewResult("done anyway")
	}})

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "slow", Arguments: map[string]interface{}{}}}, FinishReason: "tool_calls"},
		{Content: "never delivered"},
	}}
	fixture = newFixture(t, p, reg, false)

	final, err := fixture.runner.Run(context.Background(), "work", RunOptions{Source: SourceUser})
	if err != nil {
		t.Fatal(err)
	}
	if final != SentinelAborted {
		t.Fatalf("final: %q", final)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	reg := tools.NewRegistry()
	reg.Register(&funcTool{name: "block", fn: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		close(started)
		<-release
		return tools.NewResult("ok")
	}})

	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c", Name: "block", Arguments: map[string]interface{}{}}}},
		{Content: "done"},
	}}
	f := newFixture(t, p, reg, false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.runner.Run(context.Background(), "first", RunOptions{Source: SourceUser})
	}()

	<-started
	if !f.runner.IsActive() {
		t.Fatal("runner not active during tool execution")
	}
	if _, err := f.runner.Run(context.Background(), "second", RunOptions{Source: SourceUser}); err == nil {
		t.Fatal("second Run did not fail while first is active")
	}
	close(release)
	<-done
}

func TestSystemPromptComposedOnce(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "one"}, {Content: "two"}}}
	f := newFixture(t, p, nil, false)

	if _, err := f.runner.Run(context.Background(), "first", RunOptions{Source: SourceUser}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.runner.Run(context.Background(), "second", RunOptions{Source: SourceUser}); err != nil {
		t.Fatal(err)
	}

	entries, _ := f.mgr.LoadTranscript(f.entry.ID)
	systemCount := 0
	for _, e := range entries {
		if e.Role == "system" {
			systemCount++
		}
	}
	if systemCount != 1 {
		t.Fatalf("expected 1 system entry across runs, got %d", systemCount)
	}
}
