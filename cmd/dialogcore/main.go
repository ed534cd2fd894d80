// Package main provides the CLI entry point for dialogcore, the
// conversational execution core.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	dialogcore chat --config dialogcore.yaml
//
// List available personas:
//
//	dialogcore personas --config dialogcore.yaml
//
// # Environment Variables
//
// API keys are referenced from the config via api_key_env, for example:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dialogcore",
		Short: "dialogcore - conversational execution core",
		Long: `dialogcore runs persona-driven conversations against LLM providers
with tool execution, provider failover, and durable checkpoints.

Supported providers: OpenAI-compatible, Ollama, Anthropic (Claude)
Built-in tools: knowledge search, workflow bridge`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildPersonasCmd(),
		buildHealthCmd(),
	)

	return rootCmd
}
