package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"movie-agent/internal/domain"
	"movie-agent/internal/metrics"
)

const memoryBackend = "memory"

// Memory is a process-local TTL cache safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type MemoryOption func(*Memory)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func WithLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) {
		m.logger = logger
	}
}

// NewMemory creates an empty cache. A non-positive ttl selects DefaultTTL.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached movies for key. An expired entry is reported as a
// miss and left for Prune to remove.
func (m *Memory) Get(_ context.Context, key string) ([]domain.Movie, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.Expired(m.now()) {
		metrics.CacheMisses.WithLabelValues(memoryBackend).Inc()
		m.logger.Debug("cache miss", "key", key)
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(memoryBackend).Inc()
	m.logger.Debug("cache hit", "key", key)
	return cloneMovies(entry.Value), true
}

// Set replaces any existing entry for key with a fresh one.
func (m *Memory) Set(_ context.Context, key string, movies []domain.Movie) {
	entry := Entry{
		Key:       key,
		Value:     cloneMovies(movies),
		ExpiresAt: m.now().Add(m.ttl),
	}

	m.mu.Lock()
	m.entries[key] = entry
	size := len(m.entries)
	m.mu.Unlock()

	metrics.CacheSets.WithLabelValues(memoryBackend).Inc()
	metrics.CacheEntries.Set(float64(size))
	m.logger.Debug("cache set", "key", key, "movies", len(movies))
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Prune deletes expired entries and returns how many were removed.
func (m *Memory) Prune() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for key, entry := range m.entries {
		if entry.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	size := len(m.entries)
	m.mu.Unlock()

	metrics.CacheEntries.Set(float64(size))
	return removed
}

// RunJanitor prunes on every tick until ctx is done.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(); n > 0 {
				m.logger.Debug("cache pruned", "removed", n)
			}
		}
	}
}

func cloneMovies(movies []domain.Movie) []domain.Movie {
	if movies == nil {
		return nil
	}
	out := make([]domain.Movie, len(movies))
	copy(out, movies)
	return out
}
