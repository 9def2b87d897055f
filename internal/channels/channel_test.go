package channels

import (
	"context"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/ironclaw/internal/bus"
)

type fakeChannel struct {
	*BaseChannel
	mu     sync.Mutex
	sent   []bus.OutgoingMessage
	typing []string
}

func newFakeChannel(name string, allowList []string) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, allowList)}
}

func (f *fakeChannel) Start(_ context.Context) error { f.SetRunning(true); return nil }
func (f *fakeChannel) Stop(_ context.Context) error  { f.SetRunning(false); return nil }

func (f *fakeChannel) Send(_ context.Context, msg bus.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) SendTyping(_ context.Context, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, to)
	return nil
}

func TestHandleEnforcesAllowList(t *testing.T) {
	ch := newFakeChannel("test", []string{"alice", "@bob"})

	var received []string
	ch.OnMessage(func(msg bus.IncomingMessage) error {
		received = append(received, msg.From)
		return nil
	})

	for _, from := range []string{"alice", "bob", "mallory"} {
		if err := ch.Handle(bus.IncomingMessage{Channel: "test", From: from, Text: "hi"}); err != nil {
			t.Fatalf("Handle(%s): %v", from, err)
		}
	}

	if len(received) != 2 {
		t.Fatalf("expected 2 delivered messages, got %d: %v", len(received), received)
	}
	if received[0] != "alice" || received[1] != "bob" {
		t.Errorf("unexpected senders: %v", received)
	}
}

func TestEmptyAllowListAllowsEveryone(t *testing.T) {
	ch := newFakeChannel("test", nil)
	if !ch.IsAllowed("anyone") {
		t.Error("empty allowlist should admit all senders")
	}
}

func TestHandleWithoutHandlerIsNoop(t *testing.T) {
	ch := newFakeChannel("test", nil)
	if err := ch.Handle(bus.IncomingMessage{From: "alice", Text: "hi"}); err != nil {
		t.Fatalf("Handle without handler: %v", err)
	}
}

func TestRegistrySendRoutesToChannel(t *testing.T) {
	reg := NewRegistry()
	a := newFakeChannel("a", nil)
	b := newFakeChannel("b", nil)
	reg.Register(a, 0)
	reg.Register(b, 0)

	err := reg.Send(context.Background(), bus.OutgoingMessage{Channel: "b", To: "x", Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.sent) != 0 || len(b.sent) != 1 {
		t.Fatalf("expected message on b only, got a=%d b=%d", len(a.sent), len(b.sent))
	}
	if b.sent[0].Text != "hello" {
		t.Errorf("Text = %q", b.sent[0].Text)
	}
}

func TestRegistrySendUnknownChannel(t *testing.T) {
	reg := NewRegistry()
	err := reg.Send(context.Background(), bus.OutgoingMessage{Channel: "nope", To: "x"})
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestRegistryRateLimiterHonoursContext(t *testing.T) {
	reg := NewRegistry()
	ch := newFakeChannel("slow", nil)
	reg.Register(ch, 1) // one send per minute

	ctx := context.Background()
	if err := reg.Send(ctx, bus.OutgoingMessage{Channel: "slow", To: "x", Text: "first"}); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// The second send must wait for the limiter; a cancelled context
	// surfaces the wait error instead of blocking.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := reg.Send(cancelled, bus.OutgoingMessage{Channel: "slow", To: "x", Text: "second"})
	if err == nil {
		t.Fatal("expected rate limit wait error on cancelled context")
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(ch.sent))
	}
}

func TestRegistrySendTyping(t *testing.T) {
	reg := NewRegistry()
	ch := newFakeChannel("t", nil)
	reg.Register(ch, 0)

	reg.SendTyping(context.Background(), "t", "peer1")
	reg.SendTyping(context.Background(), "missing", "peer1")

	if len(ch.typing) != 1 || ch.typing[0] != "peer1" {
		t.Errorf("typing = %v", ch.typing)
	}
}

func TestStartAllRegistersHandler(t *testing.T) {
	reg := NewRegistry()
	ch := newFakeChannel("h", nil)
	reg.Register(ch, 0)

	var got []bus.IncomingMessage
	err := reg.StartAll(context.Background(), func(msg bus.IncomingMessage) error {
		got = append(got, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !ch.IsRunning() {
		t.Error("channel should be running after StartAll")
	}

	if err := ch.Handle(bus.IncomingMessage{From: "u", Text: "hi"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("handler received %d messages", len(got))
	}

	reg.StopAll(context.Background())
	if ch.IsRunning() {
		t.Error("channel should be stopped after StopAll")
	}
}

func TestIsInternalChannel(t *testing.T) {
	for _, name := range []string{"cron", "system", "subagent"} {
		if !IsInternalChannel(name) {
			t.Errorf("%s should be internal", name)
		}
	}
	if IsInternalChannel("telegram") {
		t.Error("telegram should not be internal")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	if got := Truncate("abcdefghij", 5); got != "abcde..." {
		t.Errorf("Truncate = %q", got)
	}
}
