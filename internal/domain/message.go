package domain

import "strings"

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tag labels a message for routing decisions.
type Tag string

const (
	TagNone     Tag = ""
	TagFallback Tag = "fallback"
)

// ToolInvocation is an assistant's request to run a named tool.
// Arguments holds the raw JSON object produced by the model.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the structured outcome attached to a tool message. The router
// reads it instead of parsing the message text.
type ToolResult struct {
	Found  bool    `json:"found"`
	Movies []Movie `json:"movies,omitempty"`
}

// Message is a single conversation turn. Messages are values; a conversation
// grows by appending new ones.
type Message struct {
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
	ToolCallID      string           `json:"toolCallId,omitempty"`
	ToolResult      *ToolResult      `json:"toolResult,omitempty"`
	Tag             Tag              `json:"tag,omitempty"`
}

func NewHumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// HasToolInvocation reports whether the message asks for a tool run.
func (m Message) HasToolInvocation() bool {
	return m.Role == RoleAssistant && len(m.ToolInvocations) > 0
}

// IsBlank reports whether the message carries no visible text.
func (m Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == ""
}

// ToolDefinition describes a tool offered to the completion model.
// Parameters is a JSON schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// LastMessage returns the final message of history and false when history is empty.
func LastMessage(history []Message) (Message, bool) {
	if len(history) == 0 {
		return Message{}, false
	}
	return history[len(history)-1], true
}
