package domain

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the message asks for tool execution.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ChatEntry is a display transcript item shown in the chat UI.
type ChatEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Checkpoint is the persisted state of a conversation thread.
type Checkpoint struct {
	ThreadID   string      `json:"thread_id"`
	Messages   []Message   `json:"messages"`
	Transcript []ChatEntry `json:"transcript"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
