// Package tools defines the tool surface exposed to the model: the Tool
// interface, the Binder that instantiates per-turn tool sets from persona
// configuration, and the Registry that dispatches calls.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is one callable capability advertised to the model.
//
// Execute receives the argument JSON the model produced. Domain failures
// should come back as a Result with IsError set so the model can react;
// returned errors are treated as infrastructure failures.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is the output of one tool execution.
type Result struct {
	Content string
	IsError bool
}

// Context carries the per-turn identity a tool factory binds against.
// Tools built from it never outlive the turn, so concurrent threads never
// share tool state.
type Context struct {
	UserID         string
	ThreadID       string
	Language       string
	KnowledgeScope []string
}

// Factory builds a tool bound to one turn's context.
type Factory func(Context) (Tool, error)

// Binder holds the process-wide catalog of tool factories and builds
// per-turn registries from a persona's enabled tool list.
type Binder struct {
	factories map[string]Factory
	timeout   time.Duration
	logger    *slog.Logger
}

// BinderOptions configures registry construction.
type BinderOptions struct {
	// Timeout bounds each tool execution. Defaults to 30s.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewBinder creates an empty binder.
func NewBinder(opts BinderOptions) *Binder {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Binder{
		factories: make(map[string]Factory),
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
}

// Register adds a named factory. Registering the same name twice replaces
// the earlier factory.
func (b *Binder) Register(name string, f Factory) {
	b.factories[name] = f
}

// Build instantiates the enabled tools for one turn.
//
// Unknown names are skipped with a warning so a persona configured with a
// tool this build does not carry still works. A tool whose schema fails to
// compile is a hard error: advertising a broken schema to the model would
// poison every call against it.
func (b *Binder) Build(tc Context, enabled []string) (*Registry, error) {
	reg := &Registry{
		tools:   make(map[string]Tool, len(enabled)),
		timeout: b.timeout,
		logger:  b.logger,
	}

	for _, name := range enabled {
		factory, ok := b.factories[name]
		if !ok {
			b.logger.Warn("enabled tool not registered, skipping",
				"tool", name, "thread_id", tc.ThreadID)
			continue
		}

		tool, err := factory(tc)
		if err != nil {
			return nil, fmt.Errorf("build tool %q: %w", name, err)
		}

		if err := compileSchema(tool); err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}

		reg.tools[tool.Name()] = tool
		reg.order = append(reg.order, tool.Name())
	}

	return reg, nil
}

func compileSchema(t Tool) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(t.Schema())); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return nil
}
