package models

// NextAction is the routing signal written by the model step and read by the
// graph router. It is cleared on consumption; only two live values exist.
type NextAction string

const (
	NextActionNone        NextAction = ""
	NextActionTools       NextAction = "tools"
	NextActionSuggestions NextAction = "suggestions"
)

// ProviderSelection is the model backend choice resolved once per turn.
// Forced marks an explicit caller override that bypasses health-based
// selection (but still reports into the health table).
type ProviderSelection struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Streaming   bool    `json:"streaming"`
	Forced      bool    `json:"forced,omitempty"`
}

// PersonaInfo is the resolved persona snapshot carried in conversation state.
// It is set wholesale by hydration and replaced wholesale on persona switch,
// never partially mutated.
type PersonaInfo struct {
	ID           string `json:"id"`
	Version      string `json:"version"`
	Role         string `json:"role"`
	Identity     string `json:"identity"`
	Style        string `json:"style,omitempty"`
	SystemPrompt string `json:"system_prompt"`
}

// ConversationState is the full per-thread state owned by exactly one graph
// run at a time. It is loaded from the checkpointer at turn start and saved
// back at turn end; it is never shared between concurrent turns.
type ConversationState struct {
	ThreadID string   `json:"thread_id"`
	UserID   string   `json:"user_id"`
	Platform Platform `json:"platform"`
	Language string   `json:"language"`

	// Turn is the monotone turn counter; incremented once per completed turn.
	Turn int `json:"turn"`

	Messages []Message `json:"messages"`

	Persona        PersonaInfo       `json:"persona"`
	EnabledTools   []string          `json:"enabled_tools"`
	KnowledgeScope []string          `json:"knowledge_scope"`
	Provider       ProviderSelection `json:"provider"`

	// PendingToolCalls is transient: produced by the model step, consumed
	// and cleared by the tool step. It survives in checkpoints only if a
	// turn failed mid-flight.
	PendingToolCalls []ToolCall `json:"pending_tool_calls,omitempty"`

	Suggestions []string   `json:"suggestions,omitempty"`
	NextAction  NextAction `json:"next_action,omitempty"`
}

// Clone returns a deep copy of the state. Stores hand out clones so a
// running turn never aliases persisted data.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = cloneMessages(s.Messages)
	clone.EnabledTools = append([]string(nil), s.EnabledTools...)
	clone.KnowledgeScope = append([]string(nil), s.KnowledgeScope...)
	clone.PendingToolCalls = cloneToolCalls(s.PendingToolCalls)
	clone.Suggestions = append([]string(nil), s.Suggestions...)
	return &clone
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		out[i].ToolCalls = cloneToolCalls(m.ToolCalls)
		out[i].ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}
	return out
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = tc
		out[i].Args = append([]byte(nil), tc.Args...)
	}
	return out
}
