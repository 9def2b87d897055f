package agent

import (
	"log/slog"
	"sync"
)

// FollowupMode selects how enqueued messages reach a session.
type FollowupMode string

const (
	// ModeSteer delivers immediately: into the live runner if one is
	// active, otherwise through the gateway's fresh-message path.
	ModeSteer FollowupMode = "steer"

	// ModeCollect accumulates messages until the owner drains them.
	// Reserved for deterministic replay; the gateway does not use it.
	ModeCollect FollowupMode = "collect"
)

// SteerFunc routes one message for a session: inject into an active runner
// or process as freshly arrived. The gateway registers this at startup.
type SteerFunc func(sessionKey, text string)

// FollowupQueue is the per-session inbox for messages that arrive while a
// runner may be busy.
type FollowupQueue struct {
	mode  FollowupMode
	steer SteerFunc

	mu      sync.Mutex
	pending map[string][]string
}

func NewFollowupQueue(mode FollowupMode, steer SteerFunc) *FollowupQueue {
	if mode == "" {
		mode = ModeSteer
	}
	return &FollowupQueue{
		mode:    mode,
		steer:   steer,
		pending: make(map[string][]string),
	}
}

// Enqueue routes or stores a message depending on the mode.
func (q *FollowupQueue) Enqueue(sessionKey, text string) {
	if q.mode == ModeSteer {
		if q.steer != nil {
			q.steer(sessionKey, text)
		} else {
			slog.Warn("followup: steer callback not registered", "session", sessionKey)
		}
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[sessionKey] = append(q.pending[sessionKey], text)
}

// Drain returns and clears the collected messages for a session.
func (q *FollowupQueue) Drain(sessionKey string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.pending[sessionKey]
	delete(q.pending, sessionKey)
	return msgs
}

// Pending reports how many messages are collected for a session.
func (q *FollowupQueue) Pending(sessionKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[sessionKey])
}
