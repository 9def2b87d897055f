package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// KeyedStore is a mutex-guarded string→T mapping backed by a single JSON
// file. Every mutation rewrites the file atomically. Good for small keyed
// state (session index, subagent runs, cron jobs, channel bindings).
type KeyedStore[T any] struct {
	mu    sync.RWMutex
	path  string
	items map[string]T
}

// NewKeyedStore loads the mapping from path. A missing file yields an empty
// store; a corrupt file is an error so the operator can inspect it instead
// of silently losing state.
func NewKeyedStore[T any](path string) (*KeyedStore[T], error) {
	s := &KeyedStore[T]{path: path, items: make(map[string]T)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.items); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *KeyedStore[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *KeyedStore[T]) Put(key string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return s.flushLocked()
}

func (s *KeyedStore[T]) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return nil
	}
	delete(s.items, key)
	return s.flushLocked()
}

// All returns a copy of the mapping.
func (s *KeyedStore[T]) All() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.items))
	for k, v := range s.items {
		out[k] = v
	}
	return out
}

func (s *KeyedStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Update applies fn to the value under key while holding the write lock,
// then persists. Returns false when the key is absent.
func (s *KeyedStore[T]) Update(key string, fn func(*T)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		return false, nil
	}
	fn(&v)
	s.items[key] = v
	return true, s.flushLocked()
}

func (s *KeyedStore[T]) flushLocked() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}
	return atomicWriteFile(s.path, data)
}
