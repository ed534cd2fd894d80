package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SearchHit is one document fragment returned from the knowledge backend.
type SearchHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// SearchClient abstracts the knowledge retrieval backend. The core never
// knows how retrieval works, only that a query over a scope yields hits.
type SearchClient interface {
	Search(ctx context.Context, query string, scope []string) ([]SearchHit, error)
}

// HTTPSearchClient talks to a knowledge search service over HTTP.
type HTTPSearchClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSearchClient creates a client for the given service root.
func NewHTTPSearchClient(baseURL string, timeout time.Duration) *HTTPSearchClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSearchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Search implements SearchClient against POST /search.
func (c *HTTPSearchClient) Search(ctx context.Context, query string, scope []string) ([]SearchHit, error) {
	payload, err := json.Marshal(map[string]any{
		"query": query,
		"scope": scope,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge search: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("knowledge search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Hits []SearchHit `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("knowledge search: decode response: %w", err)
	}
	return out.Hits, nil
}

const knowledgeSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "Natural language search query over the knowledge base"
    }
  },
  "required": ["query"]
}`

// knowledgeTool searches the knowledge base within the thread's scope.
type knowledgeTool struct {
	client SearchClient
	scope  []string
}

// NewKnowledgeFactory returns the factory for the search_knowledge tool.
// The scope patterns come from the turn context, so each thread only sees
// the collections its persona grants.
func NewKnowledgeFactory(client SearchClient) Factory {
	return func(tc Context) (Tool, error) {
		if client == nil {
			return nil, errors.New("search client not configured")
		}
		return &knowledgeTool{client: client, scope: tc.KnowledgeScope}, nil
	}
}

func (t *knowledgeTool) Name() string { return "search_knowledge" }

func (t *knowledgeTool) Description() string {
	return "Search the knowledge base for facts, documentation, and FAQs relevant to the user's question."
}

func (t *knowledgeTool) Schema() json.RawMessage {
	return json.RawMessage(knowledgeSchema)
}

func (t *knowledgeTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &Result{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return &Result{Content: "query must not be empty", IsError: true}, nil
	}

	hits, err := t.client.Search(ctx, input.Query, t.scope)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Result{Content: "No relevant knowledge found."}, nil
	}

	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if h.Title != "" {
			fmt.Fprintf(&b, "# %s\n", h.Title)
		}
		b.WriteString(h.Snippet)
		if h.Source != "" {
			fmt.Fprintf(&b, "\n(source: %s)", h.Source)
		}
	}
	return &Result{Content: b.String()}, nil
}
