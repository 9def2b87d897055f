package sessions

import (
	"sync"
	"testing"

	"github.com/nextlevelbuilder/ironclaw/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	a, err := m.GetOrCreate("telegram:42", "default", "telegram")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.GetOrCreate("telegram:42", "default", "telegram")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("same key produced two sessions: %s vs %s", a.ID, b.ID)
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	m := newTestManager(t)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := m.GetOrCreate("discord:99", "default", "discord")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = e.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent GetOrCreate created multiple sessions: %s vs %s", ids[i], ids[0])
		}
	}
	if got := len(m.List(ListFilter{})); got != 1 {
		t.Fatalf("expected 1 session, got %d", got)
	}
}

func TestAppendBumpsCounters(t *testing.T) {
	m := newTestManager(t)
	e, err := m.Create("telegram:1", "default", "telegram")
	if err != nil {
		t.Fatal(err)
	}

	for _, role := range []string{"system", "user", "assistant"} {
		if err := m.Append(e.ID, store.TranscriptEntry{Role: role, Content: role}); err != nil {
			t.Fatal(err)
		}
	}

	got, ok := m.Get(e.ID)
	if !ok {
		t.Fatal("session missing")
	}
	if got.MessageCount != 3 {
		t.Fatalf("expected messageCount 3, got %d", got.MessageCount)
	}
	if !got.UpdatedAt.After(e.UpdatedAt) && !got.UpdatedAt.Equal(e.UpdatedAt) {
		t.Fatal("updatedAt not bumped")
	}

	entries, err := m.LoadTranscript(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 transcript entries, got %d", len(entries))
	}
}

func TestDeleteRemovesTranscript(t *testing.T) {
	m := newTestManager(t)
	e, err := m.Create("telegram:1", "default", "telegram")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Append(e.ID, store.TranscriptEntry{Role: "user", Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(e.ID); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.FindByKey("telegram:1"); ok {
		t.Fatal("session still findable after delete")
	}
	entries, err := m.LoadTranscript(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("transcript survived delete: %d entries", len(entries))
	}
}

func TestListOrdersByUpdatedAtDesc(t *testing.T) {
	m := newTestManager(t)

	a, _ := m.Create("telegram:1", "default", "telegram")
	b, _ := m.Create("telegram:2", "default", "telegram")
	_, _ = m.Create("discord:3", "other", "discord")

	// Touch a after b so a sorts first.
	if err := m.Append(b.ID, store.TranscriptEntry{Role: "user", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Append(a.ID, store.TranscriptEntry{Role: "user", Content: "y"}); err != nil {
		t.Fatal(err)
	}

	got := m.List(ListFilter{AgentID: "default"})
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions for agent, got %d", len(got))
	}
	if got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("wrong order: %s, %s", got[0].Key, got[1].Key)
	}
}

func TestTitleDerivation(t *testing.T) {
	m := newTestManager(t)

	e, _ := m.Create("telegram:1", "default", "telegram")

	// No transcript yet: falls back to id prefix + date.
	title := m.Title(mustGet(t, m, e.ID))
	if title == "" {
		t.Fatal("empty fallback title")
	}

	// First user message wins over the fallback.
	m.Append(e.ID, store.TranscriptEntry{Role: "system", Content: "sys"})
	m.Append(e.ID, store.TranscriptEntry{Role: "user", Content: "please summarize the quarterly report for the finance team before friday"})
	title = m.Title(mustGet(t, m, e.ID))
	if len(title) > 63 { // 60 chars plus the multi-byte ellipsis
		t.Fatalf("title too long: %q", title)
	}
	if title[len(title)-3:] != "…" {
		t.Fatalf("expected ellipsis, got %q", title)
	}

	// Subject beats the derived title.
	if err := m.SetSubject(e.ID, "Quarterly report"); err != nil {
		t.Fatal(err)
	}
	if got := m.Title(mustGet(t, m, e.ID)); got != "Quarterly report" {
		t.Fatalf("expected subject title, got %q", got)
	}

	// Explicit display name beats everything.
	if err := m.SetDisplayName(e.ID, "Finance"); err != nil {
		t.Fatal(err)
	}
	if got := m.Title(mustGet(t, m, e.ID)); got != "Finance" {
		t.Fatalf("expected display name, got %q", got)
	}
}

func TestTruncateTitleWordBoundary(t *testing.T) {
	got := truncateTitle("alpha beta gamma delta", 12)
	if got != "alpha beta…" {
		t.Fatalf("got %q", got)
	}
	if s := truncateTitle("short", 60); s != "short" {
		t.Fatalf("short string mangled: %q", s)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	e, err := m.Create("cron:daily", "default", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Append(e.ID, store.TranscriptEntry{Role: "user", Content: "run it"}); err != nil {
		t.Fatal(err)
	}

	m2, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m2.FindByKey("cron:daily")
	if !ok {
		t.Fatal("session lost across reopen")
	}
	if got.MessageCount != 1 {
		t.Fatalf("messageCount lost: %d", got.MessageCount)
	}
	entries, err := m2.LoadTranscript(got.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("transcript lost: %d entries, err=%v", len(entries), err)
	}
}

func TestKeyHelpers(t *testing.T) {
	if k := BuildChannelKey("telegram", "42"); k != "telegram:42" {
		t.Fatalf("channel key: %q", k)
	}
	if !IsSubagentKey(BuildSubagentKey("abc")) {
		t.Fatal("subagent key not recognised")
	}
	if !IsCronKey(BuildCronKey("daily")) {
		t.Fatal("cron key not recognised")
	}
	if ch := ChannelOf("telegram:42"); ch != "telegram" {
		t.Fatalf("channel of: %q", ch)
	}
	if ch := ChannelOf(BuildCronKey("daily")); ch != "" {
		t.Fatalf("cron key has no channel, got %q", ch)
	}
}

func mustGet(t *testing.T, m *Manager, id string) Entry {
	t.Helper()
	e, ok := m.Get(id)
	if !ok {
		t.Fatalf("session %s missing", id)
	}
	return e
}
