package sessions

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/ironclaw/internal/store"
)

// Entry is the persisted metadata for one session. The transcript lives in
// its own JSONL file keyed by ID.
type Entry struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	AgentID      string    `json:"agentId"`
	Channel      string    `json:"channel,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// ListFilter narrows List results. Zero value matches everything.
type ListFilter struct {
	AgentID string
	Channel string
	Limit   int
}

// Manager owns the session index and transcript store.
type Manager struct {
	meta        *store.KeyedStore[Entry]
	transcripts *store.TranscriptStore
	creating    singleflight.Group
}

// NewManager opens the session index and transcript directory under stateDir.
func NewManager(stateDir string) (*Manager, error) {
	meta, err := store.NewKeyedStore[Entry](filepath.Join(stateDir, "sessions.json"))
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}
	transcripts, err := store.NewTranscriptStore(filepath.Join(stateDir, "transcripts"))
	if err != nil {
		return nil, err
	}
	return &Manager{meta: meta, transcripts: transcripts}, nil
}

// FindByKey returns the unique session for a key, if any.
func (m *Manager) FindByKey(key string) (Entry, bool) {
	for _, e := range m.meta.All() {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (Entry, bool) {
	return m.meta.Get(id)
}

// GetOrCreate returns the session for key, creating it when absent.
// Concurrent callers for the same key are collapsed so exactly one session
// is ever created per key.
func (m *Manager) GetOrCreate(key, agentID, channel string) (Entry, error) {
	if e, ok := m.FindByKey(key); ok {
		return e, nil
	}

	v, err, _ := m.creating.Do(key, func() (interface{}, error) {
		if e, ok := m.FindByKey(key); ok {
			return e, nil
		}
		return m.Create(key, agentID, channel)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Create makes a new session for key unconditionally.
func (m *Manager) Create(key, agentID, channel string) (Entry, error) {
	now := time.Now()
	e := Entry{
		ID:        uuid.NewString(),
		Key:       key,
		AgentID:   agentID,
		Channel:   channel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.meta.Put(e.ID, e); err != nil {
		return Entry{}, fmt.Errorf("persist session %s: %w", key, err)
	}
	slog.Info("session created", "session", key, "id", e.ID, "agent", agentID)
	return e, nil
}

// Append writes a transcript entry and bumps the session's counters.
func (m *Manager) Append(sessionID string, entry store.TranscriptEntry) error {
	if err := m.transcripts.Append(sessionID, entry); err != nil {
		return err
	}
	_, err := m.meta.Update(sessionID, func(e *Entry) {
		e.MessageCount++
		e.UpdatedAt = time.Now()
	})
	return err
}

// LoadTranscript returns the full transcript in append order.
func (m *Manager) LoadTranscript(sessionID string) ([]store.TranscriptEntry, error) {
	return m.transcripts.Load(sessionID)
}

// SetDisplayName stores an explicit title for the session.
func (m *Manager) SetDisplayName(sessionID, name string) error {
	_, err := m.meta.Update(sessionID, func(e *Entry) { e.DisplayName = name })
	return err
}

// SetSubject stores a derived subject line for the session.
func (m *Manager) SetSubject(sessionID, subject string) error {
	_, err := m.meta.Update(sessionID, func(e *Entry) { e.Subject = subject })
	return err
}

// Delete removes a session's metadata and its transcript file.
func (m *Manager) Delete(sessionID string) error {
	e, ok := m.meta.Get(sessionID)
	if !ok {
		return nil
	}
	if err := m.transcripts.Delete(sessionID); err != nil {
		return err
	}
	if err := m.meta.Delete(sessionID); err != nil {
		return err
	}
	slog.Info("session deleted", "session", e.Key, "id", sessionID)
	return nil
}

// DeleteByKey removes the session bound to key, if any.
func (m *Manager) DeleteByKey(key string) error {
	e, ok := m.FindByKey(key)
	if !ok {
		return nil
	}
	return m.Delete(e.ID)
}

// List returns sessions matching the filter, newest-updated first.
func (m *Manager) List(filter ListFilter) []Entry {
	var out []Entry
	for _, e := range m.meta.All() {
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.Channel != "" && e.Channel != filter.Channel {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Title resolves the display title for a session: explicit display name,
// then subject, then the first user message truncated on a word boundary,
// then a short id plus creation date.
func (m *Manager) Title(e Entry) string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	if e.Subject != "" {
		return e.Subject
	}
	entries, err := m.transcripts.Load(e.ID)
	if err == nil {
		for _, te := range entries {
			if te.Role == "user" && te.Content != "" {
				return truncateTitle(te.Content, 60)
			}
		}
	}
	id := e.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s · %s", id, e.CreatedAt.Format("2006-01-02"))
}
