package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/lukahq/dialogcore/pkg/models"
)

// ErrNotFound means no persona directory exists for the requested id.
var ErrNotFound = errors.New("persona not found")

// Summary is one entry of a persona listing.
type Summary struct {
	ID          string
	Name        string
	Version     string
	Description string
}

// loaded is a parsed definition together with its prompt files, cached as a
// unit so an invalidation drops both.
type loaded struct {
	def      *definition
	base     string
	variants map[string]string
}

// Resolver loads personas from a directory tree of the form
// <root>/<id>/persona.yaml plus prompt markdown files referenced by it.
//
// Parsed definitions are cached; an fsnotify watch on the tree drops the
// cache on any change, so a resolve after an edit always sees fresh content.
type Resolver struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*loaded
	gen   uint64

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Dir is the persona root directory. Required.
	Dir string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Watch enables filesystem invalidation. Disable in tests that manage
	// cache lifetime explicitly.
	Watch bool
}

// NewResolver creates a resolver over the given directory.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Dir == "" {
		return nil, errors.New("persona directory is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("persona directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona directory %q is not a directory", opts.Dir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{
		root:   opts.Dir,
		logger: logger,
		cache:  make(map[string]*loaded),
		done:   make(chan struct{}),
	}

	if opts.Watch {
		if err := r.startWatcher(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Close stops the filesystem watcher.
func (r *Resolver) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Invalidate drops all cached definitions and bumps the generation, so
// callers holding resolved personas can tell theirs are stale.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*loaded)
	r.gen++
}

// Generation changes whenever Invalidate runs. A persona resolved at an
// older generation may no longer match what is on disk.
func (r *Resolver) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Resolver) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("persona watcher: %w", err)
	}
	r.watcher = w

	if err := w.Add(r.root); err != nil {
		w.Close()
		return fmt.Errorf("persona watcher: %w", err)
	}
	entries, err := os.ReadDir(r.root)
	if err != nil {
		w.Close()
		return fmt.Errorf("persona watcher: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(r.root, e.Name())); err != nil {
				r.logger.Warn("failed to watch persona directory",
					"dir", e.Name(), "error", err)
			}
		}
	}

	go func() {
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				// A new persona directory needs its own watch.
				if event.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := w.Add(event.Name); err != nil {
							r.logger.Warn("failed to watch persona directory",
								"dir", event.Name, "error", err)
						}
					}
				}
				r.logger.Debug("persona tree changed, dropping cache", "path", event.Name)
				r.Invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("persona watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Resolve loads persona id, picks the prompt for the requested language, and
// renders it with the merged template variables. Resolution is deterministic:
// the same definition, language, and vars always produce the same prompt.
func (r *Resolver) Resolve(ctx context.Context, id, language string, runtimeVars map[string]any) (*Persona, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l, err := r.load(id)
	if err != nil {
		return nil, err
	}

	prompt := l.base
	if language != "" {
		if variant, ok := l.variants[language]; ok {
			prompt = variant
		} else {
			r.logger.Warn("no prompt variant for language, using base",
				"persona", id, "language", language)
		}
	}

	rendered := render(prompt, templateContext(l.def, runtimeVars))

	info := models.PersonaInfo{
		ID:           l.def.Metadata.ID,
		Version:      l.def.Metadata.Version,
		Role:         l.def.Persona.Role,
		Identity:     l.def.Persona.Identity,
		Style:        l.def.Persona.CommunicationStyle,
		SystemPrompt: rendered,
	}

	return &Persona{
		Info:           info,
		EnabledTools:   append([]string(nil), l.def.EnabledTools...),
		KnowledgeScope: append([]string(nil), l.def.KnowledgeScope...),
		LLM:            l.def.LLM,
		SystemPrompt:   rendered,
	}, nil
}

// List enumerates available personas in id order, skipping invalid
// definitions with a warning.
func (r *Resolver) List() ([]Summary, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		l, err := r.load(e.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			r.logger.Warn("skipping invalid persona", "persona", e.Name(), "error", err)
			continue
		}
		out = append(out, Summary{
			ID:          l.def.Metadata.ID,
			Name:        l.def.Metadata.Name,
			Version:     l.def.Metadata.Version,
			Description: l.def.Metadata.Description,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Resolver) load(id string) (*loaded, error) {
	r.mu.Lock()
	if l, ok := r.cache[id]; ok {
		r.mu.Unlock()
		return l, nil
	}
	r.mu.Unlock()

	dir := filepath.Join(r.root, id)
	data, err := os.ReadFile(filepath.Join(dir, "persona.yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read persona %s: %w", id, err)
	}

	// Decode twice: once generically for schema validation, once into the
	// typed definition. The JSON round trip normalizes YAML scalar types
	// for the validator.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &InvalidError{PersonaID: id, Problems: []string{fmt.Sprintf("yaml: %v", err)}}
	}
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, &InvalidError{PersonaID: id, Problems: []string{fmt.Sprintf("normalize: %v", err)}}
	}
	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, &InvalidError{PersonaID: id, Problems: []string{fmt.Sprintf("normalize: %v", err)}}
	}
	if err := validateDefinition(id, doc); err != nil {
		return nil, err
	}

	var def definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &InvalidError{PersonaID: id, Problems: []string{fmt.Sprintf("yaml: %v", err)}}
	}
	if def.Metadata.ID != id {
		return nil, &InvalidError{PersonaID: id, Problems: []string{
			fmt.Sprintf("metadata.id %q does not match directory %q", def.Metadata.ID, id),
		}}
	}

	base, err := os.ReadFile(filepath.Join(dir, def.SystemPrompt.Base))
	if err != nil {
		return nil, &InvalidError{PersonaID: id, Problems: []string{
			fmt.Sprintf("system_prompt.base: %v", err),
		}}
	}

	variants := make(map[string]string, len(def.SystemPrompt.LanguageVariants))
	for lang, file := range def.SystemPrompt.LanguageVariants {
		content, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return nil, &InvalidError{PersonaID: id, Problems: []string{
				fmt.Sprintf("system_prompt.language_variants.%s: %v", lang, err),
			}}
		}
		variants[lang] = string(content)
	}

	l := &loaded{def: &def, base: string(base), variants: variants}

	r.mu.Lock()
	r.cache[id] = l
	r.mu.Unlock()
	return l, nil
}
