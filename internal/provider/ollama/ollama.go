// Package ollama implements the provider interface against a local Ollama
// server's /api/chat streaming endpoint.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/pkg/models"
)

// Options configures the Ollama backend.
type Options struct {
	// BaseURL is the server root. Empty means http://localhost:11434.
	BaseURL string

	// Timeout bounds one whole streamed completion. Defaults to 2 minutes.
	Timeout time.Duration
}

// Provider implements provider.Provider for Ollama.
type Provider struct {
	client  *http.Client
	baseURL string
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Ollama backend.
func New(opts Options) *Provider {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Provider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return "ollama" }

// Complete sends a streaming chat request. Responses arrive as
// newline-delimited JSON objects, one per line, with done:true on the last.
func (p *Provider) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, errors.New("ollama: model not specified")
	}

	payload := chatRequest{
		Model:    model,
		Stream:   true,
		Messages: buildMessages(req),
	}
	for _, t := range req.Tools {
		var params map[string]any
		if err := json.Unmarshal(t.Schema, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		payload.Tools = append(payload.Tools, toolDef{
			Type: "function",
			Function: toolFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		payload.Options = map[string]any{}
		if req.MaxTokens > 0 {
			payload.Options["num_predict"] = req.MaxTokens
		}
		if req.Temperature > 0 {
			payload.Options["temperature"] = req.Temperature
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	chunks := make(chan *provider.Chunk)
	go p.streamResponse(ctx, resp.Body, chunks)
	return chunks, nil
}

func (p *Provider) streamResponse(ctx context.Context, body io.ReadCloser, out chan<- *provider.Chunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	// Ollama can repeat a tool call across lines; emit each at most once.
	emitted := map[string]struct{}{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			provider.Send(ctx, out, &provider.Chunk{Error: ctx.Err(), Done: true})
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp chatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			provider.Send(ctx, out, &provider.Chunk{Error: fmt.Errorf("ollama: decode response: %w", err), Done: true})
			return
		}
		if resp.Error != "" {
			provider.Send(ctx, out, &provider.Chunk{Error: fmt.Errorf("ollama: %s", resp.Error), Done: true})
			return
		}

		if resp.Message != nil {
			if resp.Message.Content != "" {
				if !provider.Send(ctx, out, &provider.Chunk{Text: resp.Message.Content}) {
					return
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				key := toolCallKey(tc)
				if key == "" {
					key = uuid.NewString()
				}
				if _, dup := emitted[key]; dup {
					continue
				}
				emitted[key] = struct{}{}

				call := &models.ToolCall{
					ID:   strings.TrimSpace(tc.ID),
					Name: strings.TrimSpace(tc.Function.Name),
					Args: tc.Function.Arguments,
				}
				if call.ID == "" {
					call.ID = uuid.NewString()
				}
				if len(call.Args) == 0 {
					call.Args = json.RawMessage(`{}`)
				}
				if !provider.Send(ctx, out, &provider.Chunk{ToolCall: call}) {
					return
				}
			}
		}

		if resp.Done {
			provider.Send(ctx, out, &provider.Chunk{
				Done:         true,
				InputTokens:  resp.PromptEvalCount,
				OutputTokens: resp.EvalCount,
			})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		provider.Send(ctx, out, &provider.Chunk{Error: fmt.Errorf("ollama: %w", err), Done: true})
	}
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []toolDef      `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type chatResponse struct {
	Message         *chatMessage `json:"message"`
	Done            bool         `json:"done"`
	Error           string       `json:"error"`
	EvalCount       int          `json:"eval_count"`
	PromptEvalCount int          `json:"prompt_eval_count"`
}

type toolDef struct {
	Type     string          `json:"type"`
	Function toolFunctionDef `json:"function"`
}

type toolFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type toolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func buildMessages(req *provider.Request) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Messages)+1)

	// Ollama tool messages carry the tool name rather than a call id, so
	// resolve names from the assistant calls seen earlier in the history.
	toolNames := map[string]string{}
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			m := chatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				m.ToolCalls = append(m.ToolCalls, toolCall{
					ID:   tc.ID,
					Type: "function",
					Function: toolFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, m)

		case "tool":
			if len(msg.ToolResults) == 0 {
				messages = append(messages, chatMessage{Role: "tool", Content: msg.Content})
				continue
			}
			for _, tr := range msg.ToolResults {
				messages = append(messages, chatMessage{
					Role:     "tool",
					Content:  tr.Content,
					ToolName: toolNames[tr.ToolCallID],
				})
			}

		default:
			role := msg.Role
			if role == "" {
				role = "user"
			}
			messages = append(messages, chatMessage{Role: role, Content: msg.Content})
		}
	}

	return messages
}

func toolCallKey(tc toolCall) string {
	if id := strings.TrimSpace(tc.ID); id != "" {
		return id
	}
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}
