// Package provider defines the model backend abstraction and the health-aware
// selector that routes turns across an ordered list of backends.
package provider

import (
	"context"
	"encoding/json"

	"github.com/lukahq/dialogcore/pkg/models"
)

// Provider is the interface every model backend implements.
//
// Implementations handle the specifics of one API (OpenAI, Ollama, Anthropic)
// while presenting a unified streaming interface to the execution graph.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different threads.
type Provider interface {
	// Complete sends a request and returns a streaming response.
	// The returned channel is closed when the stream ends; the final
	// chunk before close has Done set, or Error on failure.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name returns the provider name as used in configuration.
	Name() string
}

// Request contains all parameters for a model completion.
type Request struct {
	// Model selects the backend model. Empty means the provider default.
	Model string `json:"model"`

	// System is the rendered persona system prompt. Most APIs carry this
	// separately from the message history.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []Message `json:"messages"`

	// Tools defines the tool surface the model may call into.
	Tools []ToolSpec `json:"tools,omitempty"`

	// Temperature overrides the sampling temperature when > 0.
	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens bounds the response length. 0 means the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Message is one entry of the history sent to a backend.
//
// Role values: "user", "assistant", "tool".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests made by the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains outputs from executed tools.
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// Send delivers one chunk unless ctx is done first. Stream goroutines use it
// for every channel send so a consumer that stops draining after
// cancellation cannot pin the goroutine and its response body.
func Send(ctx context.Context, out chan<- *Chunk, c *Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// ToolSpec describes one callable tool as advertised to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Chunk is a single unit of a streaming response.
//
// A chunk carries partial text, a complete tool call, or the Done signal.
// Error terminates the stream.
type Chunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred; the stream ends after it.
	Error error `json:"-"`

	// InputTokens and OutputTokens report usage. Only populated on the
	// final chunk, and only when the backend reports usage at all.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
