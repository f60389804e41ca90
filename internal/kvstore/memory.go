package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMemoryCapacity = 4096

	// maxListEntries bounds each list. The queue list is push-only (the
	// worker pool consumes task IDs from its own channel), so without a
	// cap it would grow for the life of the process.
	maxListEntries = 4096
)

// MemoryStore is an in-process Store for single-node deployments and tests.
// Keyed values live in an expirable LRU so the TTL contract matches the
// Redis backend; lists are plain in-memory slices (the queue list carries
// no expiry in either backend).
type MemoryStore struct {
	values *expirable.LRU[string, string]

	mu    sync.Mutex
	lists map[string][]string
}

// NewMemory creates a MemoryStore whose keyed values expire after ttl.
// The per-call TTL on SetEx is accepted for interface compatibility but the
// cache-wide ttl governs; all task writes use one fixed window anyway.
func NewMemory(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		values: expirable.NewLRU[string, string](defaultMemoryCapacity, nil, ttl),
		lists:  make(map[string][]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	val, ok := s.values.Get(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return val, nil
}

func (s *MemoryStore) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	// Add replaces an existing entry and restarts its expiry window.
	s.values.Add(key, value)
	return nil
}

func (s *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.lists[key] = append([]string{v}, s.lists[key]...)
	}
	// Trim oldest entries (tail, since pushes prepend) past the cap.
	if list := s.lists[key]; len(list) > maxListEntries {
		s.lists[key] = list[:maxListEntries]
	}
	return nil
}

// ListLen reports the length of a list. Used by health reporting and tests.
func (s *MemoryStore) ListLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[key])
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
