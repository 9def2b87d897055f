package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptEntry is one line of a session transcript. Tool entries follow
// the assistant entry whose ToolCalls declared their ID; the first entry of
// a session is its system prompt.
type TranscriptEntry struct {
	Role       string               `json:"role"` // "system", "user", "assistant", "tool"
	Content    string               `json:"content"`
	Timestamp  time.Time            `json:"timestamp"`
	ToolCallID string               `json:"toolCallId,omitempty"`
	ToolCalls  []TranscriptToolCall `json:"toolCalls,omitempty"`
}

// TranscriptToolCall records a tool invocation declared by an assistant entry.
type TranscriptToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// TranscriptStore keeps one append-only JSONL file per session under dir.
// Appends to the same session are serialised; corrupt lines are skipped on
// load so one bad write never poisons a whole conversation.
type TranscriptStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTranscriptStore(dir string) (*TranscriptStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &TranscriptStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (t *TranscriptStore) lockFor(sessionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[sessionID] = l
	}
	return l
}

func (t *TranscriptStore) path(sessionID string) string {
	return filepath.Join(t.dir, sessionID+".jsonl")
}

// Append writes one entry to the session's transcript.
func (t *TranscriptStore) Append(sessionID string, entry TranscriptEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	l := t.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(t.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", sessionID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript %s: %w", sessionID, err)
	}
	return nil
}

// Load returns all entries of a session in append order. A missing file is
// an empty transcript. Lines that fail to parse are skipped.
func (t *TranscriptStore) Load(sessionID string) ([]TranscriptEntry, error) {
	l := t.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	f, err := os.Open(t.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript %s: %w", sessionID, err)
	}
	defer f.Close()

	var entries []TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry TranscriptEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			slog.Warn("skipping corrupt transcript line", "session", sessionID, "line", lineNo)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("read transcript %s: %w", sessionID, err)
	}
	return entries, nil
}

// Count returns the number of parseable entries without keeping them.
func (t *TranscriptStore) Count(sessionID string) (int, error) {
	entries, err := t.Load(sessionID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Delete removes the session's transcript file.
func (t *TranscriptStore) Delete(sessionID string) error {
	l := t.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(t.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete transcript %s: %w", sessionID, err)
	}

	t.mu.Lock()
	delete(t.locks, sessionID)
	t.mu.Unlock()
	return nil
}
