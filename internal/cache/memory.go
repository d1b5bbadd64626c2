package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// maxMemoryEntries caps the in-memory store to prevent unbounded growth.
const maxMemoryEntries = 10000

// MemoryStore is an in-process Store for tests and single-node development.
// Entries expire lazily on read; a size cap evicts expired then oldest
// entries when exceeded.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time

	// Unavailable makes every operation fail with ErrUnavailable.
	// Tests flip this to simulate a store outage.
	Unavailable bool
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
	storedAt  time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryStoreAt creates a store with an injected clock for tests.
func NewMemoryStoreAt(now func() time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.now = now
	return s
}

func (s *MemoryStore) expired(e *memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return "", false, ErrUnavailable
	}

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if s.expired(e, s.now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return ErrUnavailable
	}

	now := s.now()
	e := &memoryEntry{value: value, storedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	s.pruneLocked(now)
	return nil
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return 0, ErrUnavailable
	}

	now := s.now()
	e, ok := s.entries[key]
	if ok && s.expired(e, now) {
		delete(s.entries, key)
		ok = false
	}

	var n int64
	if ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
		n++
		e.value = strconv.FormatInt(n, 10)
		return n, nil
	}

	n = 1
	e = &memoryEntry{value: "1", storedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return n, nil
}

// CompareAndSwap implements Swapper. The store mutex makes the
// read-compare-write a single step.
func (s *MemoryStore) CompareAndSwap(_ context.Context, key, expect, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return false, ErrUnavailable
	}

	now := s.now()
	current := ""
	if e, ok := s.entries[key]; ok && !s.expired(e, now) {
		current = e.value
	}
	if current != expect {
		return false, nil
	}

	e := &memoryEntry{value: value, storedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	s.pruneLocked(now)
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Unavailable {
		return ErrUnavailable
	}
	delete(s.entries, key)
	return nil
}

// Len returns the current number of entries, expired included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// pruneLocked removes expired entries, then oldest entries while over cap.
func (s *MemoryStore) pruneLocked(now time.Time) {
	if len(s.entries) <= maxMemoryEntries {
		return
	}
	for key, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, key)
		}
	}
	for len(s.entries) > maxMemoryEntries {
		var oldestKey string
		var oldestAt time.Time
		for key, e := range s.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = e.storedAt
			}
		}
		delete(s.entries, oldestKey)
	}
}
