package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/pkg/models"
)

const suggestionSystem = "You generate short follow-up messages a user might send next in a conversation. Reply with at most 3 suggestions, one per line, no numbering, no commentary. Each suggestion is a complete short message under 10 words."

// suggestionStep asks the model for up to 3 follow-up suggestions over the
// tail of the conversation. Every failure degrades to the static fallback;
// this step can never fail a turn.
func (g *Graph) suggestionStep(ctx context.Context, cand provider.Candidate, state *models.ConversationState) []string {
	if cand.Provider == nil {
		return fallbackSuggestions
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.SuggestionTimeout)
	defer cancel()

	req := &provider.Request{
		Model:  cand.Model,
		System: suggestionSystem,
		Messages: []provider.Message{{
			Role:    string(models.RoleUser),
			Content: suggestionPrompt(state.Messages),
		}},
		MaxTokens: 150,
	}

	chunks, err := cand.Provider.Complete(callCtx, req)
	if err != nil {
		g.logger.Debug("suggestion call failed", "provider", cand.Name, "error", err)
		return fallbackSuggestions
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			g.logger.Debug("suggestion stream failed", "provider", cand.Name, "error", chunk.Error)
			return fallbackSuggestions
		}
		sb.WriteString(chunk.Text)
	}

	suggestions := parseSuggestions(sb.String())
	if len(suggestions) == 0 {
		return fallbackSuggestions
	}
	return suggestions
}

// suggestionPrompt renders the last few messages, each truncated, as context
// for the suggestion call.
func suggestionPrompt(messages []models.Message) string {
	tail := messages
	if len(tail) > suggestionWindow {
		tail = tail[len(tail)-suggestionWindow:]
	}

	var sb strings.Builder
	sb.WriteString("Recent conversation:\n")
	for _, m := range tail {
		content := m.Content
		if content == "" {
			continue
		}
		if len(content) > suggestionSnippet {
			content = content[:suggestionSnippet]
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, content)
	}
	sb.WriteString("\nSuggest follow-up messages the user might send next.")
	return sb.String()
}

// parseSuggestions splits model output into clean suggestion lines,
// tolerating numbering and bullet markers.
func parseSuggestions(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		s := stripListMarker(line)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func stripListMarker(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "-*•")
	s = strings.TrimSpace(s)

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		s = strings.TrimSpace(s[i+1:])
	}
	return strings.Trim(s, `"`)
}
