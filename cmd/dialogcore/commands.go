package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lukahq/dialogcore/internal/orchestrator"
	"github.com/lukahq/dialogcore/pkg/models"
)

// buildChatCmd creates the "chat" command: a stdin REPL driving turns, the
// reference transport for the core.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		personaID  string
		threadID   string
		userID     string
		language   string
		providerID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session on one thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if threadID == "" {
				threadID = uuid.NewString()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Printf("thread %s (persona: %s). Type a message, /switch <persona>, or /quit.\n", threadID, personaID)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					return nil
				}
				if persona, ok := strings.CutPrefix(line, "/switch "); ok {
					if err := rt.core.SwitchPersona(ctx, threadID, strings.TrimSpace(persona)); err != nil {
						fmt.Fprintf(os.Stderr, "switch failed: %v\n", err)
					} else {
						fmt.Printf("persona switched to %s\n", strings.TrimSpace(persona))
					}
					continue
				}

				events, err := rt.core.Turn(ctx, orchestrator.Inbound{
					Message:          line,
					UserID:           userID,
					ThreadID:         threadID,
					Language:         language,
					Platform:         models.PlatformWorker,
					PersonaID:        personaID,
					ProviderOverride: providerID,
				})
				if err != nil {
					return err
				}
				// The persona sticks to the thread after the first turn.
				personaID = ""

				printEvents(events)

				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dialogcore.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&personaID, "persona", "", "Persona for new threads")
	cmd.Flags().StringVar(&threadID, "thread", "", "Thread id (default: a fresh uuid)")
	cmd.Flags().StringVar(&userID, "user", "local", "User id")
	cmd.Flags().StringVar(&language, "language", "", "Preferred language code")
	cmd.Flags().StringVar(&providerID, "provider", "", "Force a specific provider")
	return cmd
}

func printEvents(events <-chan models.TurnEvent) {
	streaming := false
	for ev := range events {
		switch ev.Type {
		case models.TurnEventText:
			if ev.Replace && streaming {
				fmt.Println()
			}
			fmt.Print(ev.Text)
			streaming = true
		case models.TurnEventToolStarted:
			if streaming {
				fmt.Println()
				streaming = false
			}
			fmt.Printf("[tool %s started]\n", ev.ToolCall.Name)
		case models.TurnEventToolResult:
			status := "ok"
			if ev.ToolResult.IsError {
				status = "error"
			}
			fmt.Printf("[tool result: %s]\n", status)
		case models.TurnEventSuggestions:
			if streaming {
				fmt.Println()
				streaming = false
			}
			if len(ev.Suggestions) > 0 {
				fmt.Printf("suggestions: %s\n", strings.Join(ev.Suggestions, " | "))
			}
		case models.TurnEventError:
			if streaming {
				fmt.Println()
				streaming = false
			}
			fmt.Fprintf(os.Stderr, "turn failed (%s): %v\n", ev.Code, ev.Err)
		}
	}
	if streaming {
		fmt.Println()
	}
}

// buildPersonasCmd creates the "personas" command.
func buildPersonasCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List available personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			summaries, err := rt.resolver.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tDESCRIPTION")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Version, s.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dialogcore.yaml", "Path to configuration file")
	return cmd
}

// buildHealthCmd creates the "health" command showing provider circuit state.
func buildHealthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show provider health and circuit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tCIRCUIT\tFAILURES\tLAST FAILURE")
			for _, h := range rt.core.ProviderHealth() {
				circuit := "closed"
				if h.CircuitOpen {
					circuit = "open"
				}
				last := "-"
				if !h.LastFailure.IsZero() {
					last = h.LastFailure.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", h.Name, circuit, h.Failures, last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dialogcore.yaml", "Path to configuration file")
	return cmd
}
