package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `providers:
  - name: local
    kind: ollama
    base_url: http://localhost:11434
    model: llama3.2
  - name: claude
    kind: anthropic
    api_key_env: ANTHROPIC_API_KEY
    model: claude-sonnet-4-20250514
    timeout: 90s
circuit:
  threshold: 5
  cooldown: 1m
persona_dir: ./personas
checkpoint:
  backend: sqlite
  path: ${DIALOGCORE_DB_PATH}
tools:
  knowledge_url: http://kb:8080
limits:
  max_iterations: 6
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("DIALOGCORE_DB_PATH", "/var/lib/dialogcore/threads.db")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.Providers))
	}
	if cfg.Providers[0].Name != "local" || cfg.Providers[0].Kind != "ollama" {
		t.Errorf("first provider = %+v", cfg.Providers[0])
	}
	if cfg.Providers[1].Timeout != 90*time.Second {
		t.Errorf("timeout = %v", cfg.Providers[1].Timeout)
	}
	// Unset timeout gets the default.
	if cfg.Providers[0].Timeout != 2*time.Minute {
		t.Errorf("default provider timeout = %v", cfg.Providers[0].Timeout)
	}
	if cfg.Circuit.Threshold != 5 || cfg.Circuit.Cooldown != time.Minute {
		t.Errorf("circuit = %+v", cfg.Circuit)
	}
	if cfg.Checkpoint.Path != "/var/lib/dialogcore/threads.db" {
		t.Errorf("env expansion failed: %q", cfg.Checkpoint.Path)
	}
	if cfg.Limits.MaxIterations != 6 {
		t.Errorf("max_iterations = %d", cfg.Limits.MaxIterations)
	}
	if cfg.Limits.ModelTimeout != 2*time.Minute {
		t.Errorf("default model timeout = %v", cfg.Limits.ModelTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Providers: []ProviderConfig{
			{Name: "", Kind: "carrier-pigeon"},
			{Name: "a", Kind: "ollama", Model: "m"},
			{Name: "a", Kind: "anthropic", Model: "m"},
		},
		Checkpoint: CheckpointConfig{Backend: "sqlite"},
		Circuit:    CircuitConfig{Threshold: -1},
		Logging:    LoggingConfig{Level: "loud"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	msg := err.Error()
	for _, want := range []string{
		"name is required",
		"unknown kind",
		"model is required",
		`duplicate name "a"`,
		"api_key_env is required",
		"path is required for sqlite",
		"threshold must not be negative",
		`unknown level "loud"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateRejectsEmptyProviders(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least one provider") {
		t.Fatalf("err = %v", err)
	}
}
