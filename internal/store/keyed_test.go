package store

import (
	"path/filepath"
	"testing"
)

type fakeRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestKeyedStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")

	s, err := NewKeyedStore[fakeRecord](path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("a", fakeRecord{Name: "alpha", Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("b", fakeRecord{Name: "beta", Count: 2}); err != nil {
		t.Fatal(err)
	}

	// Reopen and verify everything survived.
	s2, err := NewKeyedStore[fakeRecord](path)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", s2.Len())
	}
	got, ok := s2.Get("a")
	if !ok || got.Name != "alpha" {
		t.Fatalf("record a: got %+v ok=%v", got, ok)
	}
}

func TestKeyedStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	s, err := NewKeyedStore[fakeRecord](path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("a", fakeRecord{Name: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("record still present after delete")
	}

	s2, err := NewKeyedStore[fakeRecord](path)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Len() != 0 {
		t.Fatalf("expected empty store after reopen, got %d", s2.Len())
	}
}

func TestKeyedStoreUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	s, err := NewKeyedStore[fakeRecord](path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("a", fakeRecord{Name: "alpha", Count: 1}); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Update("a", func(r *fakeRecord) { r.Count++ })
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	got, _ := s.Get("a")
	if got.Count != 2 {
		t.Fatalf("expected count 2, got %d", got.Count)
	}

	ok, err = s.Update("missing", func(r *fakeRecord) { r.Count++ })
	if err != nil || ok {
		t.Fatalf("update missing: ok=%v err=%v", ok, err)
	}
}

func TestKeyedStoreMissingFile(t *testing.T) {
	s, err := NewKeyedStore[fakeRecord](filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}
