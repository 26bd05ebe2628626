package cache

import (
	"context"
	"sync"
	"time"

	"livmore-rook-sync/internal/metrics"
)

const backendMemory = "memory"

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local cache bounded by entry count
type Memory struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

// NewMemory creates an in-memory cache holding at most maxEntries values.
// A maxEntries of zero or less disables caching.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a live value. Expired entries are dropped on read.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues(backendMemory, metrics.CacheMiss).Inc()
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues(backendMemory, metrics.CacheHit).Inc()
	return e.value, true
}

// Set stores a value. When full, expired entries are purged first and then
// the entry closest to expiry is evicted.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if m.maxEntries <= 0 || ttl <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evict(now)
	}
	m.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
}

// Delete removes a key
func (m *Memory) Delete(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len returns the number of stored entries, including expired ones not yet
// purged
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evict must be called with mu held
func (m *Memory) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(m.entries) >= m.maxEntries && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}
