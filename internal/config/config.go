// Package config loads the process configuration. Values support
// ${ENV_VAR} expansion so secrets stay out of the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	Providers  []ProviderConfig `yaml:"providers"`
	Circuit    CircuitConfig    `yaml:"circuit"`
	PersonaDir string           `yaml:"persona_dir"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Tools      ToolsConfig      `yaml:"tools"`
	Limits     LimitsConfig     `yaml:"limits"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProviderConfig declares one model backend candidate. Order in the file is
// preference order.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// providerKinds are the supported backend implementations.
var providerKinds = map[string]bool{
	"openai":    true,
	"ollama":    true,
	"anthropic": true,
}

type CircuitConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

type CheckpointConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type ToolsConfig struct {
	KnowledgeURL string        `yaml:"knowledge_url"`
	WorkflowURL  string        `yaml:"workflow_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

type LimitsConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	ModelTimeout      time.Duration `yaml:"model_timeout"`
	SuggestionTimeout time.Duration `yaml:"suggestion_timeout"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Circuit.Threshold == 0 {
		cfg.Circuit.Threshold = 3
	}
	if cfg.Circuit.Cooldown == 0 {
		cfg.Circuit.Cooldown = 30 * time.Second
	}
	if cfg.PersonaDir == "" {
		cfg.PersonaDir = "personas"
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "memory"
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Limits.MaxIterations == 0 {
		cfg.Limits.MaxIterations = 10
	}
	if cfg.Limits.ModelTimeout == 0 {
		cfg.Limits.ModelTimeout = 2 * time.Minute
	}
	if cfg.Limits.SuggestionTimeout == 0 {
		cfg.Limits.SuggestionTimeout = 10 * time.Second
	}
	if cfg.Limits.LockTimeout == 0 {
		cfg.Limits.LockTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].Timeout == 0 {
			cfg.Providers[i].Timeout = 2 * time.Minute
		}
	}
}

// Validate reports every configuration problem in one pass.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Providers) == 0 {
		problems = append(problems, "at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		where := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			problems = append(problems, where+": name is required")
		} else if seen[p.Name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate name %q", where, p.Name))
		}
		seen[p.Name] = true
		if !providerKinds[p.Kind] {
			problems = append(problems, fmt.Sprintf("%s: unknown kind %q", where, p.Kind))
		}
		if p.Model == "" {
			problems = append(problems, where+": model is required")
		}
		if p.Kind == "anthropic" || p.Kind == "openai" {
			if p.APIKeyEnv == "" {
				problems = append(problems, where+": api_key_env is required for "+p.Kind)
			}
		}
	}

	switch c.Checkpoint.Backend {
	case "memory":
	case "sqlite":
		if c.Checkpoint.Path == "" {
			problems = append(problems, "checkpoint: path is required for sqlite backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("checkpoint: unknown backend %q", c.Checkpoint.Backend))
	}

	if c.Circuit.Threshold < 0 {
		problems = append(problems, "circuit: threshold must not be negative")
	}
	if c.Circuit.Cooldown < 0 {
		problems = append(problems, "circuit: cooldown must not be negative")
	}
	if c.Limits.MaxIterations < 0 {
		problems = append(problems, "limits: max_iterations must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging: unknown level %q", c.Logging.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
