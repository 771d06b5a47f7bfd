package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryEntry struct {
	value     Context
	expiresAt time.Time
}

// MemoryStore keeps contexts in process memory. Expired entries are dropped
// when read and by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the stored context
func (s *MemoryStore) Get(_ context.Context, token string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, token)
		return nil, ErrNotFound
	}
	value := entry.value
	return &value, nil
}

// Save stores a copy of sc. A non-positive ttl keeps the entry until deleted.
func (s *MemoryStore) Save(_ context.Context, sc *Context, ttl time.Duration) error {
	if sc == nil || sc.Token == "" {
		return errors.New("session context has no token")
	}

	entry := memoryEntry{value: *sc}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[sc.Token] = entry
	s.mu.Unlock()
	return nil
}

// Refresh replaces a live entry and resets its expiry
func (s *MemoryStore) Refresh(_ context.Context, sc *Context, ttl time.Duration) error {
	if sc == nil || sc.Token == "" {
		return errors.New("session context has no token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[sc.Token]
	if !ok || (!entry.expiresAt.IsZero() && !now.Before(entry.expiresAt)) {
		delete(s.entries, sc.Token)
		return ErrNotFound
	}

	entry = memoryEntry{value: *sc}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.entries[sc.Token] = entry
	return nil
}

// Delete removes the context, deleting an unknown token is not an error
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
	return nil
}

// Sweep drops every expired entry and reports how many were removed
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
