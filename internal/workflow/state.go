// Package workflow drives one conversational turn through the agent, tools
// and fallback nodes until the conversation reaches its end state.
package workflow

import (
	"strings"

	"movie-agent/internal/domain"
	"movie-agent/internal/recommend"
)

// State is a node of the conversation graph.
type State int

const (
	StateAgent State = iota
	StateTools
	StateFallback
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateAgent:
		return "agent"
	case StateTools:
		return "tools"
	case StateFallback:
		return "fallback"
	case StateEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Next returns the state that follows from after its output has been
// appended to history.
//
//	agent    -> tools     the last assistant message asks for a tool
//	agent    -> end       otherwise
//	tools    -> fallback  no tool output of this step found anything
//	tools    -> agent     otherwise
//	fallback -> end
func Next(from State, history []domain.Message) State {
	switch from {
	case StateAgent:
		last, ok := domain.LastMessage(history)
		if ok && last.HasToolInvocation() {
			return StateTools
		}
		return StateEnd
	case StateTools:
		if needsFallback(trailingToolMessages(history)) {
			return StateFallback
		}
		return StateAgent
	default:
		return StateEnd
	}
}

// trailingToolMessages returns the run of tool messages at the end of history.
func trailingToolMessages(history []domain.Message) []domain.Message {
	i := len(history)
	for i > 0 && history[i-1].Role == domain.RoleTool {
		i--
	}
	return history[i:]
}

func needsFallback(outputs []domain.Message) bool {
	if len(outputs) == 0 {
		return true
	}
	for _, m := range outputs {
		if !emptyToolOutput(m) {
			return false
		}
	}
	return true
}

// emptyToolOutput prefers the structured result and falls back to the text
// for outputs that carry none.
func emptyToolOutput(m domain.Message) bool {
	if m.ToolResult != nil {
		return !m.ToolResult.Found
	}
	return m.IsBlank() || strings.Contains(m.Content, recommend.NoResultsMarker)
}
