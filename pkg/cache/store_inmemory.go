package cache

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value []byte
	// deadline is zero for entries without a ttl
	deadline time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// InMemoryStore is the default process-local store. Expired entries are
// dropped when read or when a prefix delete sweeps past them.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	clock   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: map[string]memEntry{}, clock: time.Now}
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if e.expired(s.clock()) {
		delete(s.entries, key)
		return nil, ErrCacheMiss
	}
	return clone(e.value), nil
}

func (s *InMemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: clone(value)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		e.deadline = s.clock().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	maps.DeleteFunc(s.entries, func(k string, e memEntry) bool {
		return strings.HasPrefix(k, prefix) || e.expired(now)
	})
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func clone(b []byte) []byte {
	return append(make([]byte, 0, len(b)), b...)
}
