package subagent

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/ironclaw/internal/tools"
)

type triggerRecorder struct {
	mu    sync.Mutex
	calls []triggerCall
}

type triggerCall struct {
	sessionKey string
	channel    string
	message    string
}

func (tr *triggerRecorder) trigger(sessionKey, channel, message string) tools.TriggerOutcome {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, triggerCall{sessionKey, channel, message})
	return tools.TriggerInvoked
}

func (tr *triggerRecorder) count() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.calls)
}

func (tr *triggerRecorder) call(i int) triggerCall {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.calls[i]
}

func testRun(label string, outcome Outcome, errMsg string) Run {
	started := time.Now().Add(-3 * time.Second)
	ended := time.Now()
	return Run{
		RunID:               label + "-id",
		Label:               label,
		Outcome:             outcome,
		Error:               errMsg,
		StartedAt:           &started,
		EndedAt:             &ended,
		RequesterSessionKey: "telegram:42",
		RequesterChannel:    "telegram",
	}
}

func TestAnnounceSingleTrigger(t *testing.T) {
	tr := &triggerRecorder{}
	var announced []string
	a := NewAnnouncer(tr.trigger, func(runID string, did bool) {
		announced = append(announced, runID)
	})
	a.SetDebounce(30 * time.Millisecond)

	a.Announce(testRun("research", OutcomeSuccess, ""), "all good")

	time.Sleep(150 * time.Millisecond)
	if tr.count() != 1 {
		t.Fatalf("trigger calls: %d", tr.count())
	}
	call := tr.call(0)
	if call.sessionKey != "telegram:42" || call.channel != "telegram" {
		t.Fatalf("call target: %+v", call)
	}
	for _, want := range []string{`"research" completed successfully`, "Findings:\nall good", "NO_REPLY"} {
		if !strings.Contains(call.message, want) {
			t.Fatalf("message missing %q:\n%s", want, call.message)
		}
	}
	if strings.Contains(call.message, "background tasks completed") {
		t.Fatal("single completion used the collected form")
	}
	if len(announced) != 1 || announced[0] != "research-id" {
		t.Fatalf("onAnnounced: %v", announced)
	}
}

func TestAnnounceDebounceCollects(t *testing.T) {
	tr := &triggerRecorder{}
	a := NewAnnouncer(tr.trigger, nil)
	a.SetDebounce(80 * time.Millisecond)

	// Completions land in A, B, C order inside one debounce window,
	// regardless of spawn order.
	a.Announce(testRun("A", OutcomeSuccess, ""), "a-done")
	time.Sleep(20 * time.Millisecond)
	a.Announce(testRun("B", OutcomeSuccess, ""), "b-done")
	time.Sleep(20 * time.Millisecond)
	a.Announce(testRun("C", OutcomeError, "boom"), "c-done")

	time.Sleep(300 * time.Millisecond)
	if tr.count() != 1 {
		t.Fatalf("trigger calls: %d", tr.count())
	}

	msg := tr.call(0).message
	if !strings.Contains(msg, "[3 background tasks completed]") {
		t.Fatalf("missing header:\n%s", msg)
	}
	iA := strings.Index(msg, `--- Task 1: "A" (completed successfully) ---`)
	iB := strings.Index(msg, `--- Task 2: "B" (completed successfully) ---`)
	iC := strings.Index(msg, `--- Task 3: "C" (failed: boom) ---`)
	if iA < 0 || iB < 0 || iC < 0 || !(iA < iB && iB < iC) {
		t.Fatalf("blocks missing or out of completion order:\n%s", msg)
	}
	for _, findings := range []string{"a-done", "b-done", "c-done"} {
		if !strings.Contains(msg, findings) {
			t.Fatalf("findings %q missing:\n%s", findings, msg)
		}
	}
}

func TestAnnounceSeparatedCompletionsTriggerTwice(t *testing.T) {
	tr := &triggerRecorder{}
	a := NewAnnouncer(tr.trigger, nil)
	a.SetDebounce(40 * time.Millisecond)

	a.Announce(testRun("first", OutcomeSuccess, ""), "one")
	time.Sleep(150 * time.Millisecond)
	a.Announce(testRun("second", OutcomeSuccess, ""), "two")
	time.Sleep(150 * time.Millisecond)

	if tr.count() != 2 {
		t.Fatalf("trigger calls: %d", tr.count())
	}
	for i, label := range []string{"first", "second"} {
		if !strings.Contains(tr.call(i).message, `"`+label+`"`) {
			t.Fatalf("call %d wrong task:\n%s", i, tr.call(i).message)
		}
	}
}

func TestAnnounceQueuesAreIsolatedPerRequester(t *testing.T) {
	tr := &triggerRecorder{}
	a := NewAnnouncer(tr.trigger, nil)
	a.SetDebounce(30 * time.Millisecond)

	runA := testRun("A", OutcomeSuccess, "")
	runB := testRun("B", OutcomeSuccess, "")
	runB.RequesterSessionKey = "discord:7"
	runB.RequesterChannel = "discord"

	a.Announce(runA, "a")
	a.Announce(runB, "b")

	time.Sleep(150 * time.Millisecond)
	if tr.count() != 2 {
		t.Fatalf("trigger calls: %d", tr.count())
	}
	keys := map[string]bool{}
	for i := 0; i < 2; i++ {
		keys[tr.call(i).sessionKey] = true
	}
	if !keys["telegram:42"] || !keys["discord:7"] {
		t.Fatalf("wrong targets: %v", keys)
	}
}

func TestStatusPhrases(t *testing.T) {
	if got := statusPhrase(Run{Outcome: OutcomeSuccess}); got != "completed successfully" {
		t.Fatalf("success: %q", got)
	}
	if got := statusPhrase(Run{Outcome: OutcomeError, Error: "x"}); got != "failed: x" {
		t.Fatalf("error: %q", got)
	}
	if got := statusPhrase(Run{}); got != "finished with unknown status" {
		t.Fatalf("unknown: %q", got)
	}
}
