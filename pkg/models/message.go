package models

import (
	"encoding/json"
	"time"
)

// Platform identifies the front end a conversation arrived from.
type Platform string

const (
	PlatformWeb       Platform = "web"
	PlatformMessenger Platform = "messenger"
	PlatformWorker    Platform = "worker"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a thread's conversation history.
// History is append-only within a turn; messages are never edited in place.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ToolCall represents a model's request to execute a tool.
// The ID is the correlation id; it round-trips unchanged into the result.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult represents the output of one tool execution.
// Every call produces exactly one result, success or error.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
