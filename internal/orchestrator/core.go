// Package orchestrator owns the per-turn lifecycle: thread locking, state
// hydration, graph execution, and checkpointing. It is the only package that
// wires the other internal packages together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lukahq/dialogcore/internal/checkpoint"
	"github.com/lukahq/dialogcore/internal/graph"
	"github.com/lukahq/dialogcore/internal/persona"
	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/internal/tools"
	"github.com/lukahq/dialogcore/pkg/models"
)

// Internal diagnostic codes carried on error events. The event text stays
// generic; codes are for logs and operators, not end users.
const (
	codeLock       = "lock"
	codeToolBind   = "tool_binding"
	codeTurn       = "turn"
	codeCheckpoint = "checkpoint"
)

// fallbackPersona serves turns whose persona failed to resolve. The turn
// still completes; diagnostics go to the log.
var fallbackPersona = &persona.Persona{
	Info: models.PersonaInfo{
		ID:           "fallback",
		Version:      "0",
		Role:         "assistant",
		Identity:     "a general-purpose assistant",
		SystemPrompt: "You are a helpful assistant. Answer clearly and briefly.",
	},
	SystemPrompt: "You are a helpful assistant. Answer clearly and briefly.",
}

// Inbound is one user message plus its routing context.
type Inbound struct {
	Message  string
	UserID   string
	ThreadID string
	Language string
	Platform models.Platform

	// PersonaID selects the persona for new threads or switches it for
	// existing ones. Empty keeps the thread's current persona.
	PersonaID string

	// KnowledgeScope narrows knowledge search beyond the persona's scope.
	// Empty inherits the persona scope.
	KnowledgeScope []string

	// ProviderOverride forces a specific provider for this thread,
	// bypassing health-based selection.
	ProviderOverride string
}

// Options configures a Core. Resolver, Selector, Binder, and Store are
// required.
type Options struct {
	Resolver *persona.Resolver
	Selector *provider.Selector
	Binder   *tools.Binder
	Store    checkpoint.Store
	Locker   *checkpoint.Locker

	Graph graph.Config
	Retry checkpoint.RetryPolicy

	// Registerer receives the orchestrator metrics. Nil means metrics
	// stay on a private registry (effectively discarded).
	Registerer prometheus.Registerer

	Logger *slog.Logger

	// DefaultPersonaID is used for new threads when Inbound names none.
	DefaultPersonaID string
}

// Core executes turns. Construct one at startup and share it; all methods
// are safe for concurrent use.
type Core struct {
	resolver *persona.Resolver
	selector *provider.Selector
	binder   *tools.Binder
	store    checkpoint.Store
	locker   *checkpoint.Locker
	graph    *graph.Graph
	retry    checkpoint.RetryPolicy
	metrics  *Metrics
	logger   *slog.Logger

	defaultPersonaID string

	mu       sync.Mutex
	personas map[string]personaEntry
}

// personaEntry is a cached resolution pinned to the resolver generation it
// was made at. A bumped generation makes the entry stale.
type personaEntry struct {
	p   *persona.Persona
	gen uint64
}

// New wires a Core from its parts.
func New(opts Options) (*Core, error) {
	if opts.Resolver == nil {
		return nil, errors.New("orchestrator: resolver is required")
	}
	if opts.Selector == nil {
		return nil, errors.New("orchestrator: selector is required")
	}
	if opts.Binder == nil {
		return nil, errors.New("orchestrator: binder is required")
	}
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if opts.Locker == nil {
		opts.Locker = checkpoint.NewLocker(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = checkpoint.DefaultRetryPolicy()
	}
	if opts.DefaultPersonaID == "" {
		opts.DefaultPersonaID = "default"
	}

	c := &Core{
		resolver:         opts.Resolver,
		selector:         opts.Selector,
		binder:           opts.Binder,
		store:            opts.Store,
		locker:           opts.Locker,
		retry:            opts.Retry,
		metrics:          NewMetrics(opts.Registerer),
		logger:           opts.Logger,
		defaultPersonaID: opts.DefaultPersonaID,
		personas:         make(map[string]personaEntry),
	}

	opts.Graph.Logger = opts.Logger
	c.graph = graph.New(opts.Selector, opts.Graph, graph.Hooks{
		OnModelCall:    c.metrics.recordModelCall,
		OnToolExecuted: c.metrics.recordToolExecution,
	})
	return c, nil
}

// Turn executes one conversational turn and streams its events. The
// returned channel is closed when the turn completes; a failed turn ends
// with a single error event. Synchronous errors are reserved for malformed
// input.
func (c *Core) Turn(ctx context.Context, in Inbound) (<-chan models.TurnEvent, error) {
	if in.ThreadID == "" {
		return nil, errors.New("orchestrator: thread id is required")
	}
	if in.Message == "" {
		return nil, errors.New("orchestrator: message is required")
	}

	events := make(chan models.TurnEvent, 64)
	go func() {
		defer close(events)
		c.runTurn(ctx, in, events)
	}()
	return events, nil
}

func (c *Core) runTurn(ctx context.Context, in Inbound, events chan<- models.TurnEvent) {
	logger := c.logger.With("thread_id", in.ThreadID, "user_id", in.UserID)

	if err := c.locker.Lock(ctx, in.ThreadID); err != nil {
		c.fail(ctx, events, logger, codeLock, err)
		return
	}
	defer c.locker.Unlock(in.ThreadID)

	state, err := c.loadOrInit(ctx, in)
	if err != nil {
		c.fail(ctx, events, logger, codeCheckpoint, err)
		return
	}

	c.hydrate(ctx, in, state, logger)

	registry, err := c.binder.Build(tools.Context{
		UserID:         in.UserID,
		ThreadID:       in.ThreadID,
		Language:       state.Language,
		KnowledgeScope: c.scopeFor(in, state),
	}, state.EnabledTools)
	if err != nil {
		c.fail(ctx, events, logger, codeToolBind, err)
		return
	}

	turnErr := c.graph.RunTurn(ctx, state, in.Message, registry, events)

	// The state is saved even for a failed turn so the transcript
	// survives; save errors outrank turn errors only when the turn
	// itself succeeded.
	saveCtx := ctx
	if saveCtx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := checkpoint.SaveWithRetry(saveCtx, c.store, in.ThreadID, state, c.retry, logger); err != nil {
		logger.Error("checkpoint save failed", "error", err)
		if turnErr == nil {
			c.fail(ctx, events, logger, codeCheckpoint, err)
			return
		}
	}

	if turnErr != nil {
		c.fail(ctx, events, logger, codeTurn, turnErr)
		return
	}
	c.metrics.recordTurn("success")
}

// loadOrInit loads the thread's state, creating a fresh one for unknown
// threads.
func (c *Core) loadOrInit(ctx context.Context, in Inbound) (*models.ConversationState, error) {
	state, err := c.store.Load(ctx, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", in.ThreadID, err)
	}
	if state == nil {
		state = &models.ConversationState{
			ThreadID: in.ThreadID,
			UserID:   in.UserID,
			Platform: in.Platform,
			Language: in.Language,
		}
	}
	if in.Language != "" {
		state.Language = in.Language
	}
	return state, nil
}

// hydrate resolves the thread's persona and applies it to the state. The
// persona is resolved every turn so persona edits and invalidations take
// effect on the next message; the per-thread cache makes the common case a
// map lookup. A resolution failure falls back to the built-in persona;
// hydration never fails a turn.
//
// The provider selection is likewise re-derived each turn from the persona
// defaults. A caller override pins the provider for this turn only.
func (c *Core) hydrate(ctx context.Context, in Inbound, state *models.ConversationState, logger *slog.Logger) {
	personaID := in.PersonaID
	if personaID == "" {
		personaID = state.Persona.ID
	}
	if personaID == "" {
		personaID = c.defaultPersonaID
	}

	p := c.resolvePersona(ctx, in.ThreadID, personaID, state.Language, logger)
	c.applyPersona(state, p)

	if in.ProviderOverride != "" {
		state.Provider = models.ProviderSelection{
			Provider: in.ProviderOverride,
			Forced:   true,
		}
	}
}

// resolvePersona consults the per-thread cache before the resolver. A hit
// requires both the persona id and the resolver generation to match, so a
// resolver invalidation forces a disk reload for every thread.
func (c *Core) resolvePersona(ctx context.Context, threadID, personaID, language string, logger *slog.Logger) *persona.Persona {
	gen := c.resolver.Generation()

	c.mu.Lock()
	cached, ok := c.personas[threadID]
	c.mu.Unlock()
	if ok && cached.p.Info.ID == personaID && cached.gen == gen {
		return cached.p
	}

	p, err := c.resolver.Resolve(ctx, personaID, language, nil)
	if err != nil {
		var invalid *persona.InvalidError
		switch {
		case errors.As(err, &invalid):
			logger.Error("persona invalid, using fallback",
				"persona", personaID, "problems", invalid.Problems)
		default:
			logger.Error("persona resolution failed, using fallback",
				"persona", personaID, "error", err)
		}
		c.metrics.PersonaFallbackCounter.Inc()
		return fallbackPersona
	}

	c.mu.Lock()
	c.personas[threadID] = personaEntry{p: p, gen: gen}
	c.mu.Unlock()
	return p
}

// applyPersona replaces the state's persona wholesale.
func (c *Core) applyPersona(state *models.ConversationState, p *persona.Persona) {
	state.Persona = p.Info
	state.EnabledTools = append([]string(nil), p.EnabledTools...)
	state.KnowledgeScope = append([]string(nil), p.KnowledgeScope...)
	state.Provider = models.ProviderSelection{
		Provider:    p.LLM.Provider,
		Model:       p.LLM.Model,
		Temperature: p.LLM.Temperature,
		MaxTokens:   p.LLM.MaxTokens,
		Streaming:   p.LLM.Streaming,
	}
}

func (c *Core) scopeFor(in Inbound, state *models.ConversationState) []string {
	if len(in.KnowledgeScope) > 0 {
		return in.KnowledgeScope
	}
	return state.KnowledgeScope
}

// SwitchPersona replaces a thread's persona wholesale and persists the
// change. Unlike turn hydration, a resolution failure here is an error: an
// explicit switch to a broken persona should not silently fall back.
func (c *Core) SwitchPersona(ctx context.Context, threadID, personaID string) error {
	if err := c.locker.Lock(ctx, threadID); err != nil {
		return err
	}
	defer c.locker.Unlock(threadID)

	state, err := c.store.Load(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if state == nil {
		return fmt.Errorf("thread %s: no conversation yet", threadID)
	}

	p, err := c.resolver.Resolve(ctx, personaID, state.Language, nil)
	if err != nil {
		return fmt.Errorf("switch persona %s: %w", personaID, err)
	}

	c.applyPersona(state, p)

	c.mu.Lock()
	c.personas[threadID] = personaEntry{p: p, gen: c.resolver.Generation()}
	c.mu.Unlock()

	return checkpoint.SaveWithRetry(ctx, c.store, threadID, state, c.retry, c.logger)
}

// InvalidatePersona drops a thread's cached resolution so its next turn goes
// back to the resolver. To force a disk reload as well, also invalidate the
// resolver.
func (c *Core) InvalidatePersona(threadID string) {
	c.mu.Lock()
	delete(c.personas, threadID)
	c.mu.Unlock()
}

// ProviderHealth reports the selector's current view of each candidate.
func (c *Core) ProviderHealth() []provider.Health {
	return c.selector.HealthSnapshot()
}

// fail emits the turn's single terminal error event.
func (c *Core) fail(ctx context.Context, events chan<- models.TurnEvent, logger *slog.Logger, code string, err error) {
	logger.Error("turn failed", "code", code, "error", err)
	c.metrics.recordTurn("error")

	ev := models.TurnEvent{
		Type: models.TurnEventError,
		Text: "Something went wrong handling this message.",
		Code: code,
		Err:  err,
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
