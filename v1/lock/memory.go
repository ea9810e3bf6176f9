package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// InMemoryStore implements Store in process memory. It gives single-process
// programs and tests the same semantics as RedisStore, including expiry.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]entry)}
}

// lookup returns the live entry for key, dropping it if it expired.
// The caller must hold s.mu.
func (s *InMemoryStore) lookup(key string, now time.Time) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// SetIfAbsent implements Store.SetIfAbsent. A non-positive ttl stores the
// key without expiry.
func (s *InMemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

// CompareAndDelete implements Store.CompareAndDelete.
func (s *InMemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key, time.Now())
	if !ok || e.value != expected {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// CompareAndExtend implements Store.CompareAndExtend.
func (s *InMemoryStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key, now)
	if !ok || e.value != expected {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	s.entries[key] = e
	return true, nil
}

// TTL implements Store.TTL.
func (s *InMemoryStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key, now)
	if !ok {
		return 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return 0, true, nil
	}
	return e.expiresAt.Sub(now), true, nil
}
