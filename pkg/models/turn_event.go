package models

// TurnEventType distinguishes the events emitted over one turn.
type TurnEventType string

const (
	// TurnEventText carries a streamed fragment of assistant text.
	TurnEventText TurnEventType = "text"

	// TurnEventToolStarted signals a tool call has been dispatched.
	TurnEventToolStarted TurnEventType = "tool_started"

	// TurnEventToolResult carries the result of one tool call.
	TurnEventToolResult TurnEventType = "tool_result"

	// TurnEventSuggestions carries the final follow-up suggestions.
	TurnEventSuggestions TurnEventType = "suggestions"

	// TurnEventError is the single terminal failure event for a turn.
	TurnEventError TurnEventType = "error"
)

// TurnEvent is the transport-agnostic output unit of a turn. Adapters render
// these as chat bubbles, streamed edits, or quick-reply keyboards; the core
// never knows which.
type TurnEvent struct {
	Type TurnEventType `json:"type"`

	Text        string      `json:"text,omitempty"`
	ToolCall    *ToolCall   `json:"tool_call,omitempty"`
	ToolResult  *ToolResult `json:"tool_result,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`

	// Replace marks a text event that restarts the assistant's answer.
	// Renderers discard text streamed earlier in the turn before showing
	// this fragment. Set when a provider fails mid-stream and the retry
	// re-generates from scratch.
	Replace bool `json:"replace,omitempty"`

	// Code is an internal diagnostic code set on error events only.
	Code string `json:"code,omitempty"`
	Err  error  `json:"-"`
}
