package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"movie-agent/internal/domain"
)

func toolCallMessage() domain.Message {
	return domain.Message{
		Role:            domain.RoleAssistant,
		ToolInvocations: []domain.ToolInvocation{{ID: "call_1", Name: "recommend_movies", Arguments: `{"genre":"comedy"}`}},
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "agent", StateAgent.String())
	require.Equal(t, "tools", StateTools.String())
	require.Equal(t, "fallback", StateFallback.String())
	require.Equal(t, "end", StateEnd.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestNext_FromAgentIsToolsOrEnd(t *testing.T) {
	human := domain.NewHumanMessage("Can you recommend some comedy movies?")
	cases := []struct {
		name string
		last domain.Message
		want State
	}{
		{"tool call", toolCallMessage(), StateTools},
		{"tool call with text", domain.Message{Role: domain.RoleAssistant, Content: "Let me check.", ToolInvocations: toolCallMessage().ToolInvocations}, StateTools},
		{"plain answer", domain.NewAssistantMessage("Here are some comedies."), StateEnd},
		{"blank answer", domain.NewAssistantMessage(""), StateEnd},
		{"fallback tagged", domain.Message{Role: domain.RoleAssistant, Content: "Sorry.", Tag: domain.TagFallback}, StateEnd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Next(StateAgent, []domain.Message{human, tc.last})
			require.Contains(t, []State{StateTools, StateEnd}, got)
			require.Equal(t, tc.want, got)
		})
	}
	require.Equal(t, StateEnd, Next(StateAgent, nil))
}

func TestNext_FromTools(t *testing.T) {
	base := []domain.Message{domain.NewHumanMessage("comedy please"), toolCallMessage()}
	tool := func(content string, result *domain.ToolResult) []domain.Message {
		return append(append([]domain.Message{}, base...), domain.Message{
			Role:       domain.RoleTool,
			ToolCallID: "call_1",
			Content:    content,
			ToolResult: result,
		})
	}

	cases := []struct {
		name    string
		history []domain.Message
		want    State
	}{
		{"sentinel text", tool(`No movies found for genre "X".`, nil), StateFallback},
		{"sentinel with result", tool(`No movies found for genre "X".`, &domain.ToolResult{Found: false}), StateFallback},
		{"empty", tool("", nil), StateFallback},
		{"blank", tool("  \n\t", nil), StateFallback},
		{"movie line", tool("- Barbie (Released: 2023-07-19)", nil), StateAgent},
		{"movie line with result", tool("- Barbie (Released: 2023-07-19)", &domain.ToolResult{Found: true, Movies: []domain.Movie{{Title: "Barbie"}}}), StateAgent},
		{"argument error", tool("Error: genre is required.", nil), StateAgent},
		{"no tool output", base, StateFallback},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Next(StateTools, tc.history))
		})
	}
}

func TestNext_FromToolsUsesOnlyTheLatestStep(t *testing.T) {
	history := []domain.Message{
		domain.NewHumanMessage("comedy"),
		toolCallMessage(),
		{Role: domain.RoleTool, ToolCallID: "call_1", Content: "- Barbie (Released: 2023-07-19)", ToolResult: &domain.ToolResult{Found: true}},
		domain.NewAssistantMessage("Try Barbie."),
		domain.NewHumanMessage("horror by nobody"),
		toolCallMessage(),
		{Role: domain.RoleTool, ToolCallID: "call_1", Content: `No movies found for genre "horror".`, ToolResult: &domain.ToolResult{}},
	}
	require.Equal(t, StateFallback, Next(StateTools, history))
}

func TestNext_FromToolsWithSeveralOutputs(t *testing.T) {
	history := []domain.Message{
		domain.NewHumanMessage("comedy and zzz"),
		toolCallMessage(),
		{Role: domain.RoleTool, ToolCallID: "a", Content: `No movies found for genre "zzz".`},
		{Role: domain.RoleTool, ToolCallID: "b", Content: "- Barbie (Released: 2023-07-19)"},
	}
	require.Equal(t, StateAgent, Next(StateTools, history))

	history[3].Content = `No movies found for genre "comedy".`
	require.Equal(t, StateFallback, Next(StateTools, history))
}

func TestNext_FallbackAndEndAreTerminal(t *testing.T) {
	msg := domain.Message{Role: domain.RoleAssistant, Content: "Sorry.", Tag: domain.TagFallback}
	require.Equal(t, StateEnd, Next(StateFallback, []domain.Message{msg}))
	require.Equal(t, StateEnd, Next(StateEnd, []domain.Message{msg}))
}
