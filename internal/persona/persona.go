// Package persona loads, validates, and renders persona definitions. A
// persona bundles the system prompt, the enabled tool set, the knowledge
// scope, and provider defaults for a conversational role.
package persona

import (
	"fmt"
	"strings"

	"github.com/lukahq/dialogcore/pkg/models"
)

// ProviderDefaults is the persona's preferred model configuration. The
// selector treats it as a preference, not a mandate.
type ProviderDefaults struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Streaming   bool    `yaml:"streaming"`
}

// Persona is a fully resolved persona: validated definition plus the
// rendered system prompt for one language and variable set.
type Persona struct {
	Info           models.PersonaInfo
	EnabledTools   []string
	KnowledgeScope []string
	LLM            ProviderDefaults
	SystemPrompt   string
}

// definition mirrors the on-disk persona.yaml layout.
type definition struct {
	Metadata struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	} `yaml:"metadata"`

	Persona struct {
		Role               string   `yaml:"role"`
		Identity           string   `yaml:"identity"`
		CommunicationStyle string   `yaml:"communication_style"`
		Principles         []string `yaml:"principles"`
	} `yaml:"persona"`

	EnabledTools   []string         `yaml:"enabled_tools"`
	KnowledgeScope []string         `yaml:"knowledge_scope"`
	LLM            ProviderDefaults `yaml:"llm"`

	SystemPrompt struct {
		Base             string            `yaml:"base"`
		LanguageVariants map[string]string `yaml:"language_variants"`
		TemplateVars     map[string]any    `yaml:"template_vars"`
	} `yaml:"system_prompt"`
}

// InvalidError reports every structural problem found in a persona
// definition in one pass.
type InvalidError struct {
	PersonaID string
	Problems  []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("persona %q invalid: %s", e.PersonaID, strings.Join(e.Problems, "; "))
}
