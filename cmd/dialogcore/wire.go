package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lukahq/dialogcore/internal/checkpoint"
	"github.com/lukahq/dialogcore/internal/config"
	"github.com/lukahq/dialogcore/internal/graph"
	"github.com/lukahq/dialogcore/internal/orchestrator"
	"github.com/lukahq/dialogcore/internal/persona"
	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/internal/provider/anthropic"
	"github.com/lukahq/dialogcore/internal/provider/ollama"
	"github.com/lukahq/dialogcore/internal/provider/openai"
	"github.com/lukahq/dialogcore/internal/tools"
)

// runtime bundles everything a command needs, with a single close path.
type runtime struct {
	core     *orchestrator.Core
	resolver *persona.Resolver
	closers  []func() error
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

// buildRuntime wires the full core from a config file.
func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	rt := &runtime{}

	resolver, err := persona.NewResolver(persona.ResolverOptions{
		Dir:    cfg.PersonaDir,
		Logger: logger,
		Watch:  true,
	})
	if err != nil {
		return nil, err
	}
	rt.resolver = resolver
	rt.closers = append(rt.closers, resolver.Close)

	candidates, err := buildCandidates(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	selector, err := provider.NewSelector(candidates, provider.SelectorConfig{
		Threshold: cfg.Circuit.Threshold,
		Cooldown:  cfg.Circuit.Cooldown,
		Logger:    logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	binder := tools.NewBinder(tools.BinderOptions{
		Timeout: cfg.Tools.Timeout,
		Logger:  logger,
	})
	if cfg.Tools.KnowledgeURL != "" {
		client := tools.NewHTTPSearchClient(cfg.Tools.KnowledgeURL, cfg.Tools.Timeout)
		binder.Register("search_knowledge", tools.NewKnowledgeFactory(client))
	}
	if cfg.Tools.WorkflowURL != "" {
		client := tools.NewHTTPWorkflowClient(cfg.Tools.WorkflowURL, cfg.Tools.Timeout)
		binder.Register("workflow", tools.NewWorkflowFactory(client))
	}

	store, err := buildStore(cfg, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	core, err := orchestrator.New(orchestrator.Options{
		Resolver: resolver,
		Selector: selector,
		Binder:   binder,
		Store:    store,
		Locker:   checkpoint.NewLocker(cfg.Limits.LockTimeout),
		Graph: graph.Config{
			MaxIterations:     cfg.Limits.MaxIterations,
			ModelTimeout:      cfg.Limits.ModelTimeout,
			SuggestionTimeout: cfg.Limits.SuggestionTimeout,
		},
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.core = core
	return rt, nil
}

func buildCandidates(cfg *config.Config) ([]provider.Candidate, error) {
	candidates := make([]provider.Candidate, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		var backend provider.Provider
		switch pc.Kind {
		case "openai":
			backend = openai.New(openai.Options{
				APIKey:  os.Getenv(pc.APIKeyEnv),
				BaseURL: pc.BaseURL,
				Name:    pc.Name,
			})
		case "ollama":
			backend = ollama.New(ollama.Options{
				BaseURL: pc.BaseURL,
				Timeout: pc.Timeout,
			})
		case "anthropic":
			var err error
			backend, err = anthropic.New(anthropic.Options{
				APIKey:  os.Getenv(pc.APIKeyEnv),
				BaseURL: pc.BaseURL,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", pc.Name, pc.Kind)
		}

		candidates = append(candidates, provider.Candidate{
			Name:        pc.Name,
			Provider:    backend,
			Model:       pc.Model,
			Temperature: pc.Temperature,
			MaxTokens:   pc.MaxTokens,
			Streaming:   true,
		})
	}
	return candidates, nil
}

func buildStore(cfg *config.Config, rt *runtime) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "sqlite":
		store, err := checkpoint.NewSQLiteStore(cfg.Checkpoint.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	default:
		return checkpoint.NewMemoryStore(), nil
	}
}
