// Package anthropic implements the provider interface against the Anthropic
// Messages API using the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/pkg/models"
)

// defaultMaxTokens caps responses when the request does not specify a limit.
// The Messages API requires an explicit value.
const defaultMaxTokens = 4096

// Options configures the Anthropic backend.
type Options struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string
}

// Provider implements provider.Provider for Anthropic models.
//
// Safe for concurrent use; each Complete call owns an independent stream.
type Provider struct {
	client anthropic.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Anthropic backend.
func New(opts Options) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Provider{client: anthropic.NewClient(reqOpts...)}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Complete sends a streaming Messages request.
//
// Tool calls arrive across several SSE events: content_block_start carries the
// id and name, input_json_delta events stream the argument JSON, and
// content_block_stop finalizes the call. The stream goroutine assembles them
// and emits whole tool calls only.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	if req.Model == "" {
		return nil, errors.New("anthropic: model not specified")
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *provider.Chunk)
	go processStream(ctx, stream, chunks)
	return chunks, nil
}

func processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *provider.Chunk) {
	defer close(chunks)

	var currentTool *models.ToolCall
	var toolInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentTool = &models.ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !provider.Send(ctx, chunks, &provider.Chunk{Text: delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				args := toolInput.String()
				if args == "" {
					args = "{}"
				}
				currentTool.Args = json.RawMessage(args)
				if !provider.Send(ctx, chunks, &provider.Chunk{ToolCall: currentTool}) {
					return
				}
				currentTool = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			provider.Send(ctx, chunks, &provider.Chunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return

		case "error":
			provider.Send(ctx, chunks, &provider.Chunk{Error: errors.New("anthropic: stream error"), Done: true})
			return
		}
	}

	if err := stream.Err(); err != nil {
		provider.Send(ctx, chunks, &provider.Chunk{Error: fmt.Errorf("anthropic: %w", err), Done: true})
	}
}

// convertMessages maps history to Messages API params. Tool results become
// tool_result blocks inside user messages; tool calls become tool_use blocks
// inside assistant messages. The system prompt is carried separately.
func convertMessages(messages []provider.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Args, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call args for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}

	return out, nil
}

func convertTools(tools []provider.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam

	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", t.Name, err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		out = append(out, param)
	}

	return out, nil
}
