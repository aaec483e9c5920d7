package repository

import (
	"context"
	"sync"

	"movie-agent/internal/domain"
)

// MemoryStore keeps thread histories for the lifetime of the process.
type MemoryStore struct {
	mu          sync.RWMutex
	threads     map[string][]domain.Message
	maxMessages int
}

// NewMemoryStore creates a store that keeps at most maxMessages per thread.
// maxMessages <= 0 selects DefaultMaxMessages.
func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MemoryStore{
		threads:     make(map[string][]domain.Message),
		maxMessages: maxMessages,
	}
}

func (s *MemoryStore) Load(_ context.Context, threadID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	out := make([]domain.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, threadID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.threads[threadID]
	next := make([]domain.Message, 0, len(prev)+len(msgs))
	next = append(next, prev...)
	next = append(next, msgs...)
	s.threads[threadID] = retain(next, s.maxMessages)
	return nil
}

// Threads returns the number of stored threads.
func (s *MemoryStore) Threads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
