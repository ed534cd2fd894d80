package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lukahq/dialogcore/internal/checkpoint"
	"github.com/lukahq/dialogcore/internal/persona"
	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/internal/tools"
	"github.com/lukahq/dialogcore/pkg/models"
)

const helperPersonaYAML = `metadata:
  id: helper
  name: Helper
  version: "1.0"
persona:
  role: Support assistant
  identity: Friendly helper
enabled_tools:
  - search_knowledge
knowledge_scope:
  - "support/*"
llm:
  provider: primary
  model: test-model
  temperature: 0.5
  max_tokens: 512
  streaming: true
system_prompt:
  base: prompt.md
`

const greeterPersonaYAML = `metadata:
  id: greeter
  name: Greeter
  version: "2.0"
persona:
  role: Greeter
  identity: Welcomes people
llm:
  provider: primary
system_prompt:
  base: prompt.md
`

// fixedProvider returns scripted texts in order, then "ok" forever.
type fixedProvider struct {
	name string

	mu    sync.Mutex
	texts []string
	fail  error
}

func (p *fixedProvider) Name() string { return p.name }

func (p *fixedProvider) Complete(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	text := "ok"
	if len(p.texts) > 0 {
		text = p.texts[0]
		p.texts = p.texts[1:]
	}
	ch := make(chan *provider.Chunk, 2)
	ch <- &provider.Chunk{Text: text}
	ch <- &provider.Chunk{Done: true}
	close(ch)
	return ch, nil
}

type noopTool struct{}

func (noopTool) Name() string            { return "search_knowledge" }
func (noopTool) Description() string     { return "searches" }
func (noopTool) Schema() json.RawMessage { return json.RawMessage(`{"type": "object"}`) }
func (noopTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: "nothing"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestPersona(t *testing.T, root, id, yamlBody string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "persona.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("You are a support assistant."), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testCore(t *testing.T, p provider.Provider) (*Core, *checkpoint.MemoryStore) {
	t.Helper()
	return testCoreIn(t, t.TempDir(), p)
}

func testCoreIn(t *testing.T, root string, p provider.Provider) (*Core, *checkpoint.MemoryStore) {
	t.Helper()

	writeTestPersona(t, root, "helper", helperPersonaYAML)
	writeTestPersona(t, root, "greeter", greeterPersonaYAML)

	resolver, err := persona.NewResolver(persona.ResolverOptions{
		Dir:    root,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	t.Cleanup(func() { resolver.Close() })

	cfg := provider.DefaultSelectorConfig()
	cfg.Logger = discardLogger()
	selector, err := provider.NewSelector([]provider.Candidate{
		{Name: "primary", Provider: p, Model: "test-model"},
	}, cfg)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}

	binder := tools.NewBinder(tools.BinderOptions{Logger: discardLogger()})
	binder.Register("search_knowledge", func(tools.Context) (tools.Tool, error) {
		return noopTool{}, nil
	})

	store := checkpoint.NewMemoryStore()
	core, err := New(Options{
		Resolver:         resolver,
		Selector:         selector,
		Binder:           binder,
		Store:            store,
		Logger:           discardLogger(),
		DefaultPersonaID: "helper",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return core, store
}

func collect(t *testing.T, events <-chan models.TurnEvent) []models.TurnEvent {
	t.Helper()
	var out []models.TurnEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestTurnNewThread(t *testing.T) {
	core, store := testCore(t, &fixedProvider{name: "primary", texts: []string{"Hello!", "Ask more"}})

	events, err := core.Turn(context.Background(), Inbound{
		Message:  "hi",
		UserID:   "u1",
		ThreadID: "t1",
		Platform: models.PlatformWeb,
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	evs := collect(t, events)

	if len(evs) == 0 {
		t.Fatal("no events")
	}
	if evs[len(evs)-1].Type != models.TurnEventSuggestions {
		t.Errorf("last event = %q, want suggestions", evs[len(evs)-1].Type)
	}
	for _, ev := range evs {
		if ev.Type == models.TurnEventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	state, err := store.Load(context.Background(), "t1")
	if err != nil || state == nil {
		t.Fatalf("Load: %v, %v", state, err)
	}
	if state.Turn != 1 || len(state.Messages) != 2 {
		t.Errorf("turn = %d messages = %d", state.Turn, len(state.Messages))
	}
	if state.Persona.ID != "helper" {
		t.Errorf("persona = %q, want helper", state.Persona.ID)
	}
	if state.Persona.SystemPrompt != "You are a support assistant." {
		t.Errorf("system prompt = %q", state.Persona.SystemPrompt)
	}
	if state.Provider.Provider != "primary" || state.Provider.Model != "test-model" {
		t.Errorf("provider selection = %+v", state.Provider)
	}
	if len(state.EnabledTools) != 1 || state.EnabledTools[0] != "search_knowledge" {
		t.Errorf("enabled tools = %v", state.EnabledTools)
	}
}

func TestTurnContinuesThread(t *testing.T) {
	core, store := testCore(t, &fixedProvider{name: "primary"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		events, err := core.Turn(ctx, Inbound{Message: "hi", UserID: "u1", ThreadID: "t1"})
		if err != nil {
			t.Fatal(err)
		}
		collect(t, events)
	}

	state, _ := store.Load(ctx, "t1")
	if state.Turn != 2 || len(state.Messages) != 4 {
		t.Errorf("turn = %d messages = %d, want 2/4", state.Turn, len(state.Messages))
	}
}

func TestTurnUnknownPersonaFallsBack(t *testing.T) {
	core, store := testCore(t, &fixedProvider{name: "primary"})

	events, err := core.Turn(context.Background(), Inbound{
		Message:   "hi",
		UserID:    "u1",
		ThreadID:  "t1",
		PersonaID: "no-such-persona",
	})
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, events)

	for _, ev := range evs {
		if ev.Type == models.TurnEventError {
			t.Fatalf("fallback persona should complete the turn, got error: %v", ev.Err)
		}
	}

	state, _ := store.Load(context.Background(), "t1")
	if state.Persona.ID != "fallback" {
		t.Errorf("persona = %q, want fallback", state.Persona.ID)
	}
}

func TestTurnProviderFailure(t *testing.T) {
	core, store := testCore(t, &fixedProvider{name: "primary", fail: errors.New("connection refused")})

	events, err := core.Turn(context.Background(), Inbound{Message: "hi", UserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	evs := collect(t, events)

	if len(evs) != 1 || evs[0].Type != models.TurnEventError {
		t.Fatalf("events = %+v, want single error event", evs)
	}
	if evs[0].Code != codeTurn {
		t.Errorf("code = %q, want %q", evs[0].Code, codeTurn)
	}

	// The user message is checkpointed even though the turn failed.
	state, _ := store.Load(context.Background(), "t1")
	if state == nil || len(state.Messages) != 1 || state.Messages[0].Role != models.RoleUser {
		t.Errorf("failed turn state = %+v", state)
	}
}

func TestTurnValidatesInput(t *testing.T) {
	core, _ := testCore(t, &fixedProvider{name: "primary"})

	if _, err := core.Turn(context.Background(), Inbound{Message: "hi"}); err == nil {
		t.Error("missing thread id accepted")
	}
	if _, err := core.Turn(context.Background(), Inbound{ThreadID: "t1"}); err == nil {
		t.Error("missing message accepted")
	}
}

func TestSwitchPersona(t *testing.T) {
	core, store := testCore(t, &fixedProvider{name: "primary"})
	ctx := context.Background()

	events, err := core.Turn(ctx, Inbound{Message: "hi", UserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	if err := core.SwitchPersona(ctx, "t1", "greeter"); err != nil {
		t.Fatalf("SwitchPersona: %v", err)
	}

	state, _ := store.Load(ctx, "t1")
	if state.Persona.ID != "greeter" || state.Persona.Version != "2.0" {
		t.Errorf("persona = %+v, want greeter", state.Persona)
	}
	if len(state.EnabledTools) != 0 {
		t.Errorf("enabled tools not replaced: %v", state.EnabledTools)
	}

	if err := core.SwitchPersona(ctx, "t1", "no-such-persona"); err == nil {
		t.Error("switch to unknown persona accepted")
	}
	if err := core.SwitchPersona(ctx, "t-unknown", "greeter"); err == nil {
		t.Error("switch on unknown thread accepted")
	}
}

func TestInvalidatePersona(t *testing.T) {
	core, _ := testCore(t, &fixedProvider{name: "primary"})
	ctx := context.Background()

	events, err := core.Turn(ctx, Inbound{Message: "hi", UserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	core.mu.Lock()
	_, cached := core.personas["t1"]
	core.mu.Unlock()
	if !cached {
		t.Fatal("persona not cached after turn")
	}

	core.InvalidatePersona("t1")

	core.mu.Lock()
	_, cached = core.personas["t1"]
	core.mu.Unlock()
	if cached {
		t.Error("persona still cached after invalidation")
	}
}

func TestTurnSeesEditedPersonaAfterInvalidate(t *testing.T) {
	root := t.TempDir()
	core, store := testCoreIn(t, root, &fixedProvider{name: "primary"})
	ctx := context.Background()

	events, err := core.Turn(ctx, Inbound{Message: "hi", UserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	prompt := filepath.Join(root, "helper", "prompt.md")
	if err := os.WriteFile(prompt, []byte("You are a billing assistant."), 0o644); err != nil {
		t.Fatal(err)
	}
	core.resolver.Invalidate()

	events, err = core.Turn(ctx, Inbound{Message: "again", UserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	state, _ := store.Load(ctx, "t1")
	if state.Persona.SystemPrompt != "You are a billing assistant." {
		t.Errorf("system prompt = %q, want edited prompt", state.Persona.SystemPrompt)
	}
}

func TestProviderOverride(t *testing.T) {
	core, store := testCore(t, &fixedProvider{name: "primary"})

	events, err := core.Turn(context.Background(), Inbound{
		Message:          "hi",
		UserID:           "u1",
		ThreadID:         "t1",
		ProviderOverride: "primary",
	})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	state, _ := store.Load(context.Background(), "t1")
	if !state.Provider.Forced || state.Provider.Provider != "primary" {
		t.Errorf("provider selection = %+v, want forced primary", state.Provider)
	}
}

func TestProviderOverrideLastsOneTurn(t *testing.T) {
	core, store := testCore(t, &fixedProvider{name: "primary"})
	ctx := context.Background()

	events, err := core.Turn(ctx, Inbound{
		Message:          "hi",
		UserID:           "u1",
		ThreadID:         "t1",
		ProviderOverride: "primary",
	})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	events, err = core.Turn(ctx, Inbound{Message: "again", UserID: "u1", ThreadID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	state, _ := store.Load(ctx, "t1")
	if state.Provider.Forced {
		t.Error("override still forced after a turn without one")
	}
	if state.Provider.Provider != "primary" || state.Provider.Model != "test-model" {
		t.Errorf("provider selection = %+v, want persona defaults", state.Provider)
	}
}
