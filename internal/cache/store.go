package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Store holds opaque byte payloads shared across requests.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Counter reads a counter key; missing counters read as zero.
	Counter(ctx context.Context, key string) (int64, error)
}

type memoryStore struct {
	mu    sync.Mutex
	items Cache[string, []byte]
}

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{items: NewTTLCache[string, []byte]()}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := s.items.Get(key)
	return value, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

func (s *memoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Counter(ctx, key)
	if err != nil {
		return 0, err
	}
	current++
	s.items.Set(key, []byte(strconv.FormatInt(current, 10)), 0)
	return current, nil
}

func (s *memoryStore) Counter(_ context.Context, key string) (int64, error) {
	raw, ok := s.items.Get(key)
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(string(raw), 10, 64)
}
