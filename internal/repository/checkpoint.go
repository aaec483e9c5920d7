// Package repository persists conversation history per thread.
package repository

import (
	"context"

	"movie-agent/internal/domain"
)

// DefaultMaxMessages bounds the history kept for one thread.
const DefaultMaxMessages = 50

// Checkpointer loads and extends the history of a thread. Append adds msgs
// after everything previously stored for threadID, in order.
type Checkpointer interface {
	Load(ctx context.Context, threadID string) ([]domain.Message, error)
	Append(ctx context.Context, threadID string, msgs []domain.Message) error
}

// retain returns the newest part of history holding at most limit messages.
// The window is moved forward to a human message so that no tool reply or
// tool call is kept without the turn that started it. When the newest limit
// messages hold no human message, the window grows back to the last one so
// the newest turn is kept whole.
func retain(history []domain.Message, limit int) []domain.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return cutAtTurn(history, len(history)-limit)
}

// cutAtTurn drops history[:cut] and then moves the start to a turn boundary:
// forward to the first human message at or after cut, or, failing that, back
// to the last human message before it.
func cutAtTurn(history []domain.Message, cut int) []domain.Message {
	for i := cut; i < len(history); i++ {
		if history[i].Role == domain.RoleHuman {
			return history[i:]
		}
	}
	for i := cut - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleHuman {
			return history[i:]
		}
	}
	return history[cut:]
}

func hasHuman(msgs []domain.Message) bool {
	for _, m := range msgs {
		if m.Role == domain.RoleHuman {
			return true
		}
	}
	return false
}
