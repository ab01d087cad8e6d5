package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a process-local Store. One instance is created at startup and
// shared by every handler; entries only disappear through Cleanup.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*window
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*window)}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, maxAttempts int, win time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.entries[key]
	if !ok || now.After(w.resetAt) {
		s.entries[key] = &window{count: 1, resetAt: now.Add(win)}
		return Decision{Allowed: true}, nil
	}

	if w.count >= maxAttempts {
		return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true}, nil
}

// Cleanup drops every entry whose window has passed.
func (s *MemoryStore) Cleanup(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.entries {
		if now.After(w.resetAt) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
