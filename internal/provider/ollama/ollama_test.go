package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lukahq/dialogcore/internal/provider"
	"github.com/lukahq/dialogcore/pkg/models"
)

func collect(t *testing.T, ch <-chan *provider.Chunk) []*provider.Chunk {
	t.Helper()
	var out []*provider.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestCompleteStreamsTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("request should ask for streaming")
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("first message role = %s, want system", req.Messages[0].Role)
		}

		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"done":true,"prompt_eval_count":12,"eval_count":4}`)
	}))
	defer srv.Close()

	p := New(Options{BaseURL: srv.URL})
	ch, err := p.Complete(context.Background(), &provider.Request{
		Model:    "llama3.2",
		System:   "be brief",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	chunks := collect(t, ch)
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Text)
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}

	last := chunks[len(chunks)-1]
	if !last.Done {
		t.Fatal("final chunk should be Done")
	}
	if last.InputTokens != 12 || last.OutputTokens != 4 {
		t.Errorf("usage = %d/%d, want 12/4", last.InputTokens, last.OutputTokens)
	}
}

func TestCompleteEmitsToolCallsOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Same call repeated on two lines; only one chunk should surface.
		fmt.Fprintln(w, `{"message":{"role":"assistant","tool_calls":[{"id":"call-1","function":{"name":"search_knowledge","arguments":{"query":"faq"}}}]},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","tool_calls":[{"id":"call-1","function":{"name":"search_knowledge","arguments":{"query":"faq"}}}]},"done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	p := New(Options{BaseURL: srv.URL})
	ch, err := p.Complete(context.Background(), &provider.Request{
		Model:    "llama3.2",
		Messages: []provider.Message{{Role: "user", Content: "search the faq"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var calls int
	for _, c := range collect(t, ch) {
		if c.ToolCall != nil {
			calls++
			if c.ToolCall.Name != "search_knowledge" {
				t.Errorf("tool name = %s", c.ToolCall.Name)
			}
			if c.ToolCall.ID != "call-1" {
				t.Errorf("tool id = %s", c.ToolCall.ID)
			}
		}
	}
	if calls != 1 {
		t.Errorf("tool call chunks = %d, want 1", calls)
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(Options{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), &provider.Request{
		Model:    "llama3.2",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func TestCompleteInlineErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"context length exceeded"}`)
	}))
	defer srv.Close()

	p := New(Options{BaseURL: srv.URL})
	ch, err := p.Complete(context.Background(), &provider.Request{
		Model:    "llama3.2",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	chunks := collect(t, ch)
	last := chunks[len(chunks)-1]
	if last.Error == nil {
		t.Fatal("expected terminal error chunk")
	}
	if !strings.Contains(last.Error.Error(), "context length exceeded") {
		t.Errorf("error = %v", last.Error)
	}
}

func TestCompleteCancelReleasesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 3; i++ {
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"x"},"done":false}`)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := New(Options{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Complete(ctx, &provider.Request{
		Model:    "llama3.2",
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Read one delta, then cancel and stop draining. The stream goroutine
	// must not stay blocked on a send; it has to wind down and close the
	// channel on its own.
	<-ch
	cancel()
	time.Sleep(100 * time.Millisecond)

	select {
	case c, ok := <-ch:
		if ok && c.Error == nil {
			t.Fatalf("chunk %+v delivered after cancel with no consumer", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not shut down after cancel")
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel still open after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestCompleteRequiresModel(t *testing.T) {
	p := New(Options{})
	if _, err := p.Complete(context.Background(), &provider.Request{}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestBuildMessagesToolResults(t *testing.T) {
	req := &provider.Request{
		Messages: []provider.Message{
			{Role: "user", Content: "look it up"},
			{Role: "assistant", ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "search_knowledge", Args: json.RawMessage(`{"query":"x"}`)},
			}},
			{Role: "tool", ToolResults: []models.ToolResult{
				{ToolCallID: "call-1", Content: "found it"},
			}},
		},
	}

	msgs := buildMessages(req)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	tool := msgs[2]
	if tool.Role != "tool" || tool.Content != "found it" {
		t.Errorf("tool message = %+v", tool)
	}
	if tool.ToolName != "search_knowledge" {
		t.Errorf("tool name resolved to %q, want search_knowledge", tool.ToolName)
	}
}
