package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPSearchClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		var req struct {
			Query string   `json:"query"`
			Scope []string `json:"scope"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Query != "refund policy" {
			t.Errorf("query = %q", req.Query)
		}
		if len(req.Scope) != 1 || req.Scope[0] != "support/*" {
			t.Errorf("scope = %v", req.Scope)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"hits": []SearchHit{{Title: "Refunds", Snippet: "30 days", Source: "faq.md"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPSearchClient(srv.URL, 0)
	hits, err := c.Search(context.Background(), "refund policy", []string{"support/*"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "Refunds" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestKnowledgeToolFormatsHits(t *testing.T) {
	tool := &knowledgeTool{
		client: searchFunc(func(ctx context.Context, query string, scope []string) ([]SearchHit, error) {
			return []SearchHit{
				{Title: "Refunds", Snippet: "30 days", Source: "faq.md"},
				{Snippet: "contact support"},
			}, nil
		}),
		scope: []string{"support/*"},
	}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"refund"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "# Refunds") || !strings.Contains(res.Content, "faq.md") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestKnowledgeToolEmptyQuery(t *testing.T) {
	tool := &knowledgeTool{client: searchFunc(func(context.Context, string, []string) ([]SearchHit, error) {
		t.Fatal("client should not be called")
		return nil, nil
	})}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("empty query should yield error result")
	}
}

func TestKnowledgeToolNoHits(t *testing.T) {
	tool := &knowledgeTool{client: searchFunc(func(context.Context, string, []string) ([]SearchHit, error) {
		return nil, nil
	})}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"anything"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "No relevant knowledge found." {
		t.Errorf("content = %q", res.Content)
	}
}

type searchFunc func(ctx context.Context, query string, scope []string) ([]SearchHit, error)

func (f searchFunc) Search(ctx context.Context, query string, scope []string) ([]SearchHit, error) {
	return f(ctx, query, scope)
}
