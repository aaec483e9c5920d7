package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"movie-agent/internal/domain"
)

func TestMemoryStore_EmptyThread(t *testing.T) {
	s := NewMemoryStore(10)
	msgs, err := s.Load(context.Background(), "nope")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMemoryStore_AppendIsConcatenation(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "t1", turn("q1", "a1")))
	first, err := s.Load(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, "t1", turn("q2", "a2")))
	second, err := s.Load(ctx, "t1")
	require.NoError(t, err)

	require.Len(t, second, 4)
	require.Equal(t, first, second[:len(first)])
	require.Equal(t, "q2", second[2].Content)
}

func TestMemoryStore_ThreadsAreIndependent(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "t1", turn("q1", "a1")))
	require.NoError(t, s.Append(ctx, "t2", turn("q2", "a2")))

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, turn("q1", "a1"), got)
	require.Equal(t, 2, s.Threads())
}

func TestMemoryStore_LoadReturnsACopy(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "t1", turn("q1", "a1")))

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	got[0].Content = "mutated"

	again, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "q1", again[0].Content)
}

func TestMemoryStore_RetentionKeepsWholeTurns(t *testing.T) {
	s := NewMemoryStore(5)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "t1", turn("q1", "a1")))
	require.NoError(t, s.Append(ctx, "t1", []domain.Message{
		domain.NewHumanMessage("q2"),
		{Role: domain.RoleAssistant, ToolInvocations: []domain.ToolInvocation{{ID: "x", Name: "recommend_movies"}}},
		{Role: domain.RoleTool, ToolCallID: "x", Content: "- A (Released: 2020)"},
		domain.NewAssistantMessage("a2"),
	}))

	got, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, "q2", got[0].Content)
}

func TestRetain(t *testing.T) {
	history := append(turn("q1", "a1"), turn("q2", "a2")...)
	require.Equal(t, history, retain(history, 0))
	require.Equal(t, history, retain(history, 4))
	require.Equal(t, history[2:], retain(history, 3))
	require.Equal(t, history[2:], retain(history, 2))
	// The newest message alone is not a whole turn.
	require.Equal(t, history[2:], retain(history, 1))
}

func TestRetain_KeepsNewestTurnWhenLongerThanLimit(t *testing.T) {
	history := append(turn("q1", "a1"),
		domain.NewHumanMessage("q2"),
		domain.Message{Role: domain.RoleAssistant, ToolInvocations: []domain.ToolInvocation{{ID: "x", Name: "recommend_movies"}}},
		domain.Message{Role: domain.RoleTool, ToolCallID: "x", Content: "- A (Released: 2020)"},
		domain.NewAssistantMessage("a2"),
	)
	got := retain(history, 3)
	require.Len(t, got, 4)
	require.Equal(t, "q2", got[0].Content)

	require.Equal(t, history[4:], retain(history[3:], 2), "no human message to extend to")
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewMemoryStore(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.Append(ctx, "shared", turn(fmt.Sprintf("q%d", i), "a")))
			_, err := s.Load(ctx, "shared")
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Load(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, got, 40)
	for i := 0; i < len(got); i += 2 {
		require.Equal(t, domain.RoleHuman, got[i].Role, "appends must not interleave")
	}
}
