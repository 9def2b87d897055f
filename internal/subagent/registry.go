// Package subagent tracks background agent runs: their lifecycle, the
// announce pipeline back into the parent session, and archival.
package subagent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/ironclaw/internal/sessions"
	"github.com/nextlevelbuilder/ironclaw/internal/store"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeError       Outcome = "error"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeUnknown     Outcome = "unknown"
)

// Cleanup modes for the child session after the announce completes.
const (
	CleanupDelete = "delete"
	CleanupKeep   = "keep"
)

const defaultArchiveAfter = 60 * time.Minute

// Run is the persisted record of one background run.
type Run struct {
	RunID      string `json:"runId"`
	Label      string `json:"label"`
	Task       string `json:"task"`
	AgentID    string `json:"agentId"`
	SessionKey string `json:"sessionKey"` // subagent:<runId>

	RequesterSessionKey string `json:"requesterSessionKey"`
	RequesterChannel    string `json:"requesterChannel"`
	RequesterTo         string `json:"requesterTo"`

	Cleanup     string     `json:"cleanup"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	Error       string     `json:"error,omitempty"`
	ArchiveAtMs int64      `json:"archiveAtMs,omitempty"`
}

// Duration returns how long the run took, zero while still active.
func (r Run) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

// RegisterParams describe a new run.
type RegisterParams struct {
	Task                string
	Label               string
	AgentID             string
	Cleanup             string
	RequesterSessionKey string
	RequesterChannel    string
	RequesterTo         string
}

// Registry persists runs and serialises lifecycle transitions per run.
type Registry struct {
	runs         *store.KeyedStore[Run]
	archiveAfter time.Duration

	// deleteSession removes the child session, injected to avoid a
	// dependency on the gateway.
	deleteSession func(sessionKey string) error

	mu            sync.Mutex
	completionCbs map[string][]func(Run)
}

// NewRegistry opens the run store under stateDir. archiveAfter of zero uses
// the one-hour default.
func NewRegistry(stateDir string, archiveAfter time.Duration, deleteSession func(sessionKey string) error) (*Registry, error) {
	runs, err := store.NewKeyedStore[Run](stateDir + "/subagents.json")
	if err != nil {
		return nil, fmt.Errorf("open subagent store: %w", err)
	}
	if archiveAfter <= 0 {
		archiveAfter = defaultArchiveAfter
	}
	return &Registry{
		runs:          runs,
		archiveAfter:  archiveAfter,
		deleteSession: deleteSession,
		completionCbs: make(map[string][]func(Run)),
	}, nil
}

// Register records a new run and returns it.
func (r *Registry) Register(params RegisterParams) (Run, error) {
	cleanup := params.Cleanup
	if cleanup == "" {
		cleanup = CleanupDelete
	}
	run := Run{
		RunID:               uuid.NewString(),
		Label:               params.Label,
		Task:                params.Task,
		AgentID:             params.AgentID,
		Cleanup:             cleanup,
		RequesterSessionKey: params.RequesterSessionKey,
		RequesterChannel:    params.RequesterChannel,
		RequesterTo:         params.RequesterTo,
		CreatedAt:           time.Now(),
	}
	run.SessionKey = sessions.BuildSubagentKey(run.RunID)

	if err := r.runs.Put(run.RunID, run); err != nil {
		return Run{}, err
	}
	slog.Info("subagent registered", "run", run.RunID, "label", run.Label, "requester", run.RequesterSessionKey)
	return run, nil
}

// MarkStarted stamps the run's start time.
func (r *Registry) MarkStarted(runID string) error {
	now := time.Now()
	_, err := r.runs.Update(runID, func(run *Run) { run.StartedAt = &now })
	return err
}

// MarkCompleted stamps the terminal state and fires completion callbacks.
func (r *Registry) MarkCompleted(runID string, outcome Outcome, errMsg string) error {
	now := time.Now()
	ok, err := r.runs.Update(runID, func(run *Run) {
		run.EndedAt = &now
		run.Outcome = outcome
		run.Error = errMsg
	})
	if err != nil || !ok {
		return err
	}

	run, _ := r.runs.Get(runID)

	r.mu.Lock()
	cbs := r.completionCbs[runID]
	delete(r.completionCbs, runID)
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(run)
	}
	slog.Info("subagent completed", "run", runID, "outcome", outcome)
	return nil
}

// OnCompletion registers a callback fired when the run completes. A run
// that is already terminal fires immediately.
func (r *Registry) OnCompletion(runID string, cb func(Run)) {
	if run, ok := r.runs.Get(runID); ok && run.EndedAt != nil {
		cb(run)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completionCbs[runID] = append(r.completionCbs[runID], cb)
}

// FinalizeCleanup applies the run's cleanup mode after the announce is
// through: delete removes the child session and the record, keep schedules
// the record for archival.
func (r *Registry) FinalizeCleanup(runID string, didAnnounce bool) error {
	run, ok := r.runs.Get(runID)
	if !ok {
		return nil
	}

	if run.Cleanup == CleanupDelete {
		if r.deleteSession != nil {
			if err := r.deleteSession(run.SessionKey); err != nil {
				slog.Warn("subagent cleanup: session delete failed", "run", runID, "error", err)
			}
		}
		return r.runs.Delete(runID)
	}

	archiveAt := time.Now().Add(r.archiveAfter).UnixMilli()
	_, err := r.runs.Update(runID, func(run *Run) { run.ArchiveAtMs = archiveAt })
	slog.Info("subagent kept", "run", runID, "archiveAtMs", archiveAt, "announced", didAnnounce)
	return err
}

// Get returns the run by id.
func (r *Registry) Get(runID string) (Run, bool) {
	return r.runs.Get(runID)
}

// ListByRequester returns all runs spawned from a requester session.
func (r *Registry) ListByRequester(requesterSessionKey string) []Run {
	var out []Run
	for _, run := range r.runs.All() {
		if run.RequesterSessionKey == requesterSessionKey {
			out = append(out, run)
		}
	}
	return out
}

// ListActive returns runs that have not reached a terminal state.
func (r *Registry) ListActive() []Run {
	var out []Run
	for _, run := range r.runs.All() {
		if run.EndedAt == nil {
			out = append(out, run)
		}
	}
	return out
}

// Delete removes the record unconditionally.
func (r *Registry) Delete(runID string) error {
	return r.runs.Delete(runID)
}

// SweepArchived removes records whose archive deadline has passed. The
// minute ticker in Start calls this; exposed for tests.
func (r *Registry) SweepArchived(now time.Time) int {
	removed := 0
	for id, run := range r.runs.All() {
		if run.ArchiveAtMs > 0 && run.ArchiveAtMs <= now.UnixMilli() {
			if err := r.runs.Delete(id); err != nil {
				slog.Warn("subagent sweep: delete failed", "run", id, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("subagent sweep", "removed", removed)
	}
	return removed
}

// MarkInterrupted flags runs that were live when the process died. Called
// once at startup; the announce pipeline reports them to their requesters.
func (r *Registry) MarkInterrupted() []Run {
	var interrupted []Run
	for id, run := range r.runs.All() {
		if run.EndedAt != nil {
			continue
		}
		now := time.Now()
		r.runs.Update(id, func(run *Run) {
			run.EndedAt = &now
			run.Outcome = OutcomeInterrupted
			run.Error = "run interrupted by gateway restart"
		})
		updated, _ := r.runs.Get(id)
		interrupted = append(interrupted, updated)
	}
	return interrupted
}
