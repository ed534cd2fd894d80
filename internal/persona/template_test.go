package persona

import "testing"

func TestRender(t *testing.T) {
	ctx := map[string]any{
		"company": "Acme",
		"persona": map[string]any{
			"role": "assistant",
			"nested": map[string]any{
				"deep": "value",
			},
		},
		"count": 3,
		"tags":  []any{"a", "b"},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple", "at {company}", "at Acme"},
		{"dotted", "a {persona.role}", "a assistant"},
		{"deep", "{persona.nested.deep}", "value"},
		{"number", "{count} items", "3 items"},
		{"list", "tags: {tags}", "tags: a, b"},
		{"unresolved", "hello {missing}", "hello {missing}"},
		{"unresolved dotted", "{persona.missing.path}", "{persona.missing.path}"},
		{"path through scalar", "{company.sub}", "{company.sub}"},
		{"adjacent", "{company}{company}", "AcmeAcme"},
		{"no placeholders", "plain text", "plain text"},
		{"empty braces ignored", "{} stays", "{} stays"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(tt.template, ctx); got != tt.want {
				t.Errorf("render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}
