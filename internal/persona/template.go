package persona

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {a}, {a.b}, {a.b.c} style placeholders.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\}`)

// render substitutes dotted-path placeholders from the context map.
// Unresolved placeholders stay verbatim in the output, so rendering never
// fails and a typo surfaces in the prompt where a reviewer will spot it.
func render(template string, context map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := match[1 : len(match)-1]
		value, ok := lookup(context, strings.Split(path, "."))
		if !ok {
			return match
		}
		return stringify(value)
	})
}

func lookup(context map[string]any, path []string) (any, bool) {
	var current any = context
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// templateContext builds the merged lookup map for prompt rendering.
// Later sources win: definition template_vars, then runtime vars.
func templateContext(d *definition, runtimeVars map[string]any) map[string]any {
	ctx := map[string]any{
		"metadata": map[string]any{
			"id":          d.Metadata.ID,
			"name":        d.Metadata.Name,
			"version":     d.Metadata.Version,
			"description": d.Metadata.Description,
		},
		"persona": map[string]any{
			"role":                d.Persona.Role,
			"identity":            d.Persona.Identity,
			"communication_style": d.Persona.CommunicationStyle,
			"principles":          d.Persona.Principles,
		},
	}
	for k, v := range d.SystemPrompt.TemplateVars {
		ctx[k] = v
	}
	for k, v := range runtimeVars {
		ctx[k] = v
	}
	return ctx
}
