// Package openai implements the provider interface against the OpenAI chat
// completions API. Pointing BaseURL at any OpenAI-compatible endpoint (vLLM,
// LM Studio, a gateway) works the same way.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/pkg/models"
)

// Options configures the OpenAI backend.
type Options struct {
	// APIKey authenticates against the endpoint. Required for api.openai.com,
	// often a placeholder for compatible local servers.
	APIKey string

	// BaseURL overrides the API endpoint. Empty means api.openai.com.
	BaseURL string

	// Name overrides the provider name used in configuration and health
	// reporting. Defaults to "openai".
	Name string
}

// Provider implements provider.Provider for OpenAI-compatible endpoints.
//
// Safe for concurrent use; each Complete call owns an independent stream.
type Provider struct {
	client *openai.Client
	name   string
}

// New creates an OpenAI backend from options.
func New(opts Options) *Provider {
	name := opts.Name
	if name == "" {
		name = "openai"
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(cfg),
		name:   name,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Complete sends a streaming chat completion request.
//
// OpenAI streams tool calls incrementally: the id and function name arrive in
// the first delta for an index, argument JSON accumulates across subsequent
// deltas, and FinishReason "tool_calls" marks the set complete. The stream
// goroutine assembles them and emits whole tool calls only.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	if req.Model == "" {
		return nil, errors.New("openai: model not specified")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}

	chunks := make(chan *provider.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *Provider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *provider.Chunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls under assembly, keyed by the delta index.
	pending := make(map[int]*models.ToolCall)

	flushTools := func() bool {
		for i := 0; i < len(pending); i++ {
			tc := pending[i]
			if tc != nil && tc.ID != "" && tc.Name != "" {
				if !provider.Send(ctx, chunks, &provider.Chunk{ToolCall: tc}) {
					return false
				}
			}
		}
		pending = make(map[int]*models.ToolCall)
		return true
	}

	for {
		select {
		case <-ctx.Done():
			provider.Send(ctx, chunks, &provider.Chunk{Error: ctx.Err(), Done: true})
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if flushTools() {
					provider.Send(ctx, chunks, &provider.Chunk{Done: true})
				}
				return
			}
			provider.Send(ctx, chunks, &provider.Chunk{Error: err, Done: true})
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !provider.Send(ctx, chunks, &provider.Chunk{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[index].Args = append(pending[index].Args, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flushTools() {
				return
			}
		}
	}
}

// convertMessages maps history to the OpenAI wire format. The system prompt
// is injected as the leading message; every tool result becomes its own
// role "tool" message tied back by ToolCallID.
func convertMessages(messages []provider.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case "assistant":
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, m)

		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}

	return out
}

func convertTools(tools []provider.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			// A bad schema disables that tool's parameters, not the request.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}
