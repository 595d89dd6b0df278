package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/stepline/stepline/common/logger"
)

// Store is the three-operation contract the coordinator needs from a
// cache backend: read, write with TTL, and atomic increment-or-initialize
// of a version counter.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Increment(ctx context.Context, key string) (int64, error)
	Close() error
}

// MemoryStore is an in-memory Store implementation used in tests and as a
// standalone fallback when Redis is disabled
type MemoryStore struct {
	data     map[string]*memoryEntry
	counters map[string]int64
	mu       sync.RWMutex
	log      *logger.Logger
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]*memoryEntry),
		counters: make(map[string]int64),
		log:      log,
	}
}

// Get retrieves a value, reporting whether the key exists and is fresh
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if counter, ok := s.counters[key]; ok {
		return []byte(strconv.FormatInt(counter, 10)), true, nil
	}

	entry, exists := s.data[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores a value with TTL
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Increment atomically bumps a counter, initializing a missing key so the
// first call yields 1
func (s *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key]++
	return s.counters[key], nil
}

// Close releases the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	s.counters = nil
	if s.log != nil {
		s.log.Info("memory cache store closed")
	}
	return nil
}
