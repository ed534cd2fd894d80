package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/pkg/models"
)

// Registry is one turn's snapshot of executable tools. It is built by the
// Binder and discarded with the turn.
type Registry struct {
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// Specs returns the tool definitions to advertise to the model, in the
// order the persona enabled them.
func (r *Registry) Specs() []provider.ToolSpec {
	specs := make([]provider.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, provider.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return specs
}

// Names returns the enabled tool names in order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Dispatch executes one tool call and always produces a result carrying the
// call's correlation id. A missing tool, an execution error, a panic, or a
// timeout each become an error result for that call alone; Dispatch never
// fails the turn.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	tool, ok := r.tools[call.Name]
	if !ok {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool not found: %s", call.Name),
			IsError:    true,
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool panicked",
					"tool", call.Name,
					"panic", rec,
					"stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", call.Name, rec)}
			}
		}()
		res, err := tool.Execute(execCtx, call.Args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    out.err.Error(),
				IsError:    true,
			}
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    out.result.Content,
			IsError:    out.result.IsError,
		}
	case <-execCtx.Done():
		reason := "execution timed out"
		if ctx.Err() != nil {
			reason = "turn cancelled"
		}
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool %s: %s", call.Name, reason),
			IsError:    true,
		}
	}
}

// DispatchAll executes every pending call concurrently and returns results
// in call order, matched by correlation id regardless of completion order.
func (r *Registry) DispatchAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]models.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = r.Dispatch(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}
