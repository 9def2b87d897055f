package subagent

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ironclaw/internal/tools"
)

const (
	// Debounce window: parallel spawns launched in one model turn land
	// together, a lone completion is still reported promptly.
	announceDebounce = 2000 * time.Millisecond

	singleInstruction    = "Summarize this naturally for the user. Keep it brief (1-2 sentences). You can respond with NO_REPLY if no announcement is needed."
	collectedInstruction = "Summarize these task results together naturally for the user. Keep it brief. You can respond with NO_REPLY if no announcement is needed."
)

// TriggerFunc re-enters the gateway: inject into a live runner or start a
// fresh run for the requester session.
type TriggerFunc func(sessionKey, channel, message string) tools.TriggerOutcome

// announceItem is one finished run waiting in a requester's queue.
type announceItem struct {
	run      Run
	findings string
}

type announceQueue struct {
	items    []announceItem
	timer    *time.Timer
	draining bool
}

// Announcer debounces subagent completions per requester session and
// collapses bursts into one collected trigger.
type Announcer struct {
	trigger  TriggerFunc
	debounce time.Duration

	// onAnnounced lets the registry finalize cleanup once the requester
	// has been triggered.
	onAnnounced func(runID string, didAnnounce bool)

	mu     sync.Mutex
	queues map[string]*announceQueue
}

func NewAnnouncer(trigger TriggerFunc, onAnnounced func(runID string, didAnnounce bool)) *Announcer {
	return &Announcer{
		trigger:     trigger,
		debounce:    announceDebounce,
		onAnnounced: onAnnounced,
		queues:      make(map[string]*announceQueue),
	}
}

// SetDebounce overrides the window, used by tests.
func (a *Announcer) SetDebounce(d time.Duration) { a.debounce = d }

// Announce enqueues a finished run for its requester and resets the
// debounce timer. findings is the run's last assistant text, may be empty.
func (a *Announcer) Announce(run Run, findings string) {
	key := run.RequesterSessionKey
	if key == "" {
		slog.Warn("announce: run has no requester", "run", run.RunID)
		if a.onAnnounced != nil {
			a.onAnnounced(run.RunID, false)
		}
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.queues[key]
	if !ok {
		q = &announceQueue{}
		a.queues[key] = q
	}
	q.items = append(q.items, announceItem{run: run, findings: findings})

	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(a.debounce, func() { a.drain(key) })
	slog.Info("announce: queued", "run", run.RunID, "requester", key, "queued", len(q.items))
}

// drain composes and fires one trigger for everything queued. Reentrancy
// per key is forbidden; a drain racing an announce reschedules itself.
func (a *Announcer) drain(key string) {
	a.mu.Lock()
	q, ok := a.queues[key]
	if !ok || q.draining || len(q.items) == 0 {
		a.mu.Unlock()
		return
	}
	q.draining = true
	items := q.items
	q.items = nil
	a.mu.Unlock()

	channel := items[0].run.RequesterChannel
	message := composeAnnouncement(items)

	outcome := tools.TriggerFailed
	if a.trigger != nil {
		outcome = a.trigger(key, channel, message)
	}
	slog.Info("announce: drained", "requester", key, "tasks", len(items), "outcome", outcome)

	didAnnounce := outcome != tools.TriggerFailed
	if a.onAnnounced != nil {
		for _, item := range items {
			a.onAnnounced(item.run.RunID, didAnnounce)
		}
	}

	a.mu.Lock()
	q.draining = false
	if len(q.items) == 0 {
		delete(a.queues, key)
	} else {
		q.timer = time.AfterFunc(a.debounce, func() { a.drain(key) })
	}
	a.mu.Unlock()
}

// composeAnnouncement renders the queued completions: a single-trigger
// message for one item, a collected block for several, in completion order.
func composeAnnouncement(items []announceItem) string {
	if len(items) == 1 {
		item := items[0]
		var b strings.Builder
		fmt.Fprintf(&b, "Background task %q %s.\n\n", item.run.Label, statusPhrase(item.run))
		if item.findings != "" {
			fmt.Fprintf(&b, "Findings:\n%s\n\n", item.findings)
		}
		if d := item.run.Duration(); d > 0 {
			fmt.Fprintf(&b, "(took %s)\n\n", d.Round(time.Second))
		}
		b.WriteString(singleInstruction)
		return b.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%d background tasks completed]\n\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "--- Task %d: %q (%s) ---\n", i+1, item.run.Label, statusPhrase(item.run))
		if item.findings != "" {
			b.WriteString(item.findings)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(collectedInstruction)
	return b.String()
}

func statusPhrase(run Run) string {
	switch run.Outcome {
	case OutcomeSuccess:
		return "completed successfully"
	case OutcomeError, OutcomeInterrupted:
		return "failed: " + run.Error
	default:
		return "finished with unknown status"
	}
}
