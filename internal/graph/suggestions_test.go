package graph

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lukahq/dialogcore/pkg/models"
)

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"plain lines", "Tell me more\nShow pricing", []string{"Tell me more", "Show pricing"}},
		{"numbered", "1. First\n2) Second", []string{"First", "Second"}},
		{"bullets", "- First\n* Second\n• Third", []string{"First", "Second", "Third"}},
		{"quoted", `"Tell me more"`, []string{"Tell me more"}},
		{"caps at three", "a\nb\nc\nd\ne", []string{"a", "b", "c"}},
		{"blank lines skipped", "\n\nFirst\n\nSecond\n", []string{"First", "Second"}},
		{"empty output", "   \n  ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSuggestions(tt.raw)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("parseSuggestions(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSuggestionPromptTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: long},
	}

	prompt := suggestionPrompt(msgs)
	if strings.Contains(prompt, long) {
		t.Error("long message not truncated")
	}
	if !strings.Contains(prompt, long[:suggestionSnippet]) {
		t.Error("truncated snippet missing")
	}
	if !strings.Contains(prompt, "user: first") {
		t.Error("role prefix missing")
	}
}

func TestSuggestionPromptWindowsTail(t *testing.T) {
	var msgs []models.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: fmt.Sprintf("msg-%d", i)})
	}

	prompt := suggestionPrompt(msgs)
	if strings.Contains(prompt, "msg-4") {
		t.Error("message outside the window included")
	}
	if !strings.Contains(prompt, "msg-9") || !strings.Contains(prompt, "msg-5") {
		t.Error("window tail missing")
	}
}
