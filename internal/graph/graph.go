// Package graph implements the single-turn execution state machine:
// model step, tool step, suggestion step, routed by NextAction.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/internal/tools"
	"github.com/lukahq/dialogcore/pkg/models"
)

// ErrMaxIterations signals a runaway tool loop.
var ErrMaxIterations = errors.New("graph: max iterations reached")

const (
	// historyWindow bounds the messages sent to the model per call.
	historyWindow = 50

	// suggestionWindow and suggestionSnippet bound the context handed to
	// the follow-up suggestion call.
	suggestionWindow  = 5
	suggestionSnippet = 100

	maxSuggestions = 3
)

// fallbackSuggestions is returned whenever suggestion generation fails.
// Suggestions degrade, they never error a turn.
var fallbackSuggestions = []string{
	"Tell me more",
	"What else can you do?",
	"Thanks!",
}

// Config bounds a turn's execution.
type Config struct {
	// MaxIterations limits model/tool round trips per turn. Default 10.
	MaxIterations int

	// ModelTimeout bounds one model call including streaming. Default 2m.
	ModelTimeout time.Duration

	// SuggestionTimeout bounds the follow-up suggestion call. Default 10s.
	SuggestionTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default execution bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     10,
		ModelTimeout:      2 * time.Minute,
		SuggestionTimeout: 10 * time.Second,
	}
}

// Hooks receives execution callbacks. Used by the orchestrator to feed
// metrics; all fields are optional.
type Hooks struct {
	// OnModelCall fires once per model call with the provider used and
	// whether the call was a failover retry.
	OnModelCall func(providerName string, failover bool)

	// OnToolExecuted fires once per tool result.
	OnToolExecuted func(toolName string, isError bool)
}

// Graph runs single turns against a provider selector. One Graph serves all
// threads; per-turn state travels in the arguments.
type Graph struct {
	selector *provider.Selector
	cfg      Config
	hooks    Hooks
	logger   *slog.Logger
}

// New creates an execution graph over the given selector.
func New(selector *provider.Selector, cfg Config, hooks Hooks) *Graph {
	defaults := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaults.ModelTimeout
	}
	if cfg.SuggestionTimeout <= 0 {
		cfg.SuggestionTimeout = defaults.SuggestionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{selector: selector, cfg: cfg, hooks: hooks, logger: logger}
}

// RunTurn executes one full turn: appends the user message, loops model and
// tool steps until the model stops calling tools, then generates suggestions.
// Events are emitted on events as the turn progresses; the caller owns and
// closes the channel. On error the state holds everything appended so far,
// so a checkpoint of a failed turn is still coherent.
func (g *Graph) RunTurn(ctx context.Context, state *models.ConversationState, userMessage string, registry *tools.Registry, events chan<- models.TurnEvent) error {
	state.Messages = append(state.Messages, models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userMessage,
		CreatedAt: time.Now().UTC(),
	})
	state.Suggestions = nil

	forced := ""
	if state.Provider.Forced {
		forced = state.Provider.Provider
	}

	var cand provider.Candidate
	for iteration := 0; iteration < g.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var text string
		var toolCalls []models.ToolCall
		var err error
		cand, text, toolCalls, err = g.modelStep(ctx, state, forced, registry, events)
		if err != nil {
			return err
		}

		state.Messages = append(state.Messages, models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			CreatedAt: time.Now().UTC(),
		})

		if len(toolCalls) == 0 {
			state.NextAction = models.NextActionSuggestions
			break
		}
		state.NextAction = models.NextActionTools

		state.PendingToolCalls = toolCalls
		if err := g.toolStep(ctx, state, registry, events); err != nil {
			return err
		}
		state.NextAction = models.NextActionNone
	}

	if state.NextAction != models.NextActionSuggestions {
		return fmt.Errorf("%w (%d)", ErrMaxIterations, g.cfg.MaxIterations)
	}
	state.NextAction = models.NextActionNone

	state.Suggestions = g.suggestionStep(ctx, cand, state)
	if err := emit(ctx, events, models.TurnEvent{
		Type:        models.TurnEventSuggestions,
		Suggestions: state.Suggestions,
	}); err != nil {
		return err
	}

	state.Turn++
	return nil
}

// modelStep selects a provider, streams one completion, and retries once on
// the next healthy candidate when the first call fails.
func (g *Graph) modelStep(ctx context.Context, state *models.ConversationState, forced string, registry *tools.Registry, events chan<- models.TurnEvent) (provider.Candidate, string, []models.ToolCall, error) {
	cand, err := g.selector.Select(forced)
	if err != nil {
		return provider.Candidate{}, "", nil, err
	}

	req := g.buildRequest(state, cand, registry.Specs())

	if g.hooks.OnModelCall != nil {
		g.hooks.OnModelCall(cand.Name, false)
	}
	text, toolCalls, streamed, err := g.completeOnce(ctx, cand, req, events, false)
	if err == nil {
		g.selector.ReportSuccess(cand.Name)
		return cand, text, toolCalls, nil
	}

	class := g.selector.ReportFailure(cand.Name, err)
	g.logger.Warn("model call failed",
		"provider", cand.Name,
		"class", string(class),
		"error", err)

	if ctx.Err() != nil {
		return cand, "", nil, err
	}
	if forced != "" {
		// A forced provider never fails over.
		return cand, "", nil, fmt.Errorf("provider %s: %w", cand.Name, err)
	}

	next, ok := g.selector.Next(cand.Name)
	if !ok {
		return cand, "", nil, fmt.Errorf("provider %s: %w", cand.Name, err)
	}

	g.logger.Info("failing over", "from", cand.Name, "to", next.Name)
	req = g.buildRequest(state, next, registry.Specs())

	if g.hooks.OnModelCall != nil {
		g.hooks.OnModelCall(next.Name, true)
	}
	// If the failed call already streamed partial text, the retry's first
	// fragment tells renderers to restart the answer.
	text, toolCalls, _, err = g.completeOnce(ctx, next, req, events, streamed)
	if err != nil {
		g.selector.ReportFailure(next.Name, err)
		return next, "", nil, fmt.Errorf("provider %s: %w", next.Name, err)
	}
	g.selector.ReportSuccess(next.Name)
	return next, text, toolCalls, nil
}

// completeOnce streams one completion, forwarding text deltas as events and
// collecting tool calls. The returned bool reports whether any text was
// emitted, including before a mid-stream error. When replace is set, the
// first text event carries the replace marker.
func (g *Graph) completeOnce(ctx context.Context, cand provider.Candidate, req *provider.Request, events chan<- models.TurnEvent, replace bool) (string, []models.ToolCall, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.ModelTimeout)
	defer cancel()

	chunks, err := cand.Provider.Complete(callCtx, req)
	if err != nil {
		return "", nil, false, err
	}

	var textBuilder strings.Builder
	var toolCalls []models.ToolCall
	streamed := false

	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, streamed, chunk.Error
		}
		if chunk.Text != "" {
			textBuilder.WriteString(chunk.Text)
			if err := emit(ctx, events, models.TurnEvent{
				Type:    models.TurnEventText,
				Text:    chunk.Text,
				Replace: replace && !streamed,
			}); err != nil {
				return "", nil, streamed, err
			}
			streamed = true
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}

	return textBuilder.String(), toolCalls, streamed, nil
}

// toolStep dispatches all pending calls concurrently and appends their
// results as one tool message, in call order.
func (g *Graph) toolStep(ctx context.Context, state *models.ConversationState, registry *tools.Registry, events chan<- models.TurnEvent) error {
	calls := state.PendingToolCalls

	for i := range calls {
		if err := emit(ctx, events, models.TurnEvent{
			Type:     models.TurnEventToolStarted,
			ToolCall: &calls[i],
		}); err != nil {
			return err
		}
	}

	results := registry.DispatchAll(ctx, calls)

	for i := range results {
		if g.hooks.OnToolExecuted != nil {
			g.hooks.OnToolExecuted(calls[i].Name, results[i].IsError)
		}
		if err := emit(ctx, events, models.TurnEvent{
			Type:       models.TurnEventToolResult,
			ToolResult: &results[i],
		}); err != nil {
			return err
		}
	}

	state.Messages = append(state.Messages, models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now().UTC(),
	})
	state.PendingToolCalls = nil
	return nil
}

// buildRequest assembles the provider request from persona, windowed
// history, and the turn's tool surface.
func (g *Graph) buildRequest(state *models.ConversationState, cand provider.Candidate, specs []provider.ToolSpec) *provider.Request {
	history := state.Messages
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	msgs := make([]provider.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, provider.Message{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}

	model := cand.Model
	temperature := cand.Temperature
	maxTokens := cand.MaxTokens
	if state.Provider.Provider == cand.Name {
		if state.Provider.Model != "" {
			model = state.Provider.Model
		}
		if state.Provider.Temperature > 0 {
			temperature = state.Provider.Temperature
		}
		if state.Provider.MaxTokens > 0 {
			maxTokens = state.Provider.MaxTokens
		}
	}

	return &provider.Request{
		Model:       model,
		System:      state.Persona.SystemPrompt,
		Messages:    msgs,
		Tools:       specs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

func emit(ctx context.Context, events chan<- models.TurnEvent, ev models.TurnEvent) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
