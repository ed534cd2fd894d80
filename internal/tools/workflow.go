package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WorkflowInstance is one running process as reported by the engine.
type WorkflowInstance struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	State string `json:"state"`
}

// WorkflowClient abstracts the external workflow engine. The core carries no
// process-model knowledge; start, list, and complete are the whole contract.
type WorkflowClient interface {
	Start(ctx context.Context, key string, vars map[string]any) (string, error)
	List(ctx context.Context, userID string) ([]WorkflowInstance, error)
	Complete(ctx context.Context, taskID string, vars map[string]any) error
}

// HTTPWorkflowClient talks to a workflow engine bridge over HTTP.
type HTTPWorkflowClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPWorkflowClient creates a client for the given bridge root.
func NewHTTPWorkflowClient(baseURL string, timeout time.Duration) *HTTPWorkflowClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPWorkflowClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Start implements WorkflowClient against POST /processes/{key}/start.
func (c *HTTPWorkflowClient) Start(ctx context.Context, key string, vars map[string]any) (string, error) {
	var out struct {
		InstanceID string `json:"instance_id"`
	}
	err := c.post(ctx, "/processes/"+url.PathEscape(key)+"/start", map[string]any{"variables": vars}, &out)
	if err != nil {
		return "", err
	}
	return out.InstanceID, nil
}

// List implements WorkflowClient against GET /instances.
func (c *HTTPWorkflowClient) List(ctx context.Context, userID string) ([]WorkflowInstance, error) {
	u := c.baseURL + "/instances?user=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("workflow list: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow list: status %d", resp.StatusCode)
	}

	var out struct {
		Instances []WorkflowInstance `json:"instances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("workflow list: decode response: %w", err)
	}
	return out.Instances, nil
}

// Complete implements WorkflowClient against POST /tasks/{id}/complete.
func (c *HTTPWorkflowClient) Complete(ctx context.Context, taskID string, vars map[string]any) error {
	return c.post(ctx, "/tasks/"+url.PathEscape(taskID)+"/complete", map[string]any{"variables": vars}, nil)
}

func (c *HTTPWorkflowClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workflow: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("workflow: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("workflow: decode response: %w", err)
		}
	}
	return nil
}

const workflowSchema = `{
  "type": "object",
  "properties": {
    "action": {
      "type": "string",
      "enum": ["start", "list", "complete"],
      "description": "Operation to perform against the workflow engine"
    },
    "process_key": {
      "type": "string",
      "description": "Process definition key, required for start"
    },
    "task_id": {
      "type": "string",
      "description": "Task id, required for complete"
    },
    "variables": {
      "type": "object",
      "description": "Variables passed to the process or task"
    }
  },
  "required": ["action"]
}`

// workflowTool drives the workflow engine on the user's behalf.
type workflowTool struct {
	client WorkflowClient
	userID string
}

// NewWorkflowFactory returns the factory for the workflow tool.
func NewWorkflowFactory(client WorkflowClient) Factory {
	return func(tc Context) (Tool, error) {
		if client == nil {
			return nil, errors.New("workflow client not configured")
		}
		return &workflowTool{client: client, userID: tc.UserID}, nil
	}
}

func (t *workflowTool) Name() string { return "workflow" }

func (t *workflowTool) Description() string {
	return "Start, list, or complete workflow processes for the current user."
}

func (t *workflowTool) Schema() json.RawMessage {
	return json.RawMessage(workflowSchema)
}

func (t *workflowTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Action     string         `json:"action"`
		ProcessKey string         `json:"process_key"`
		TaskID     string         `json:"task_id"`
		Variables  map[string]any `json:"variables"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &Result{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}

	switch input.Action {
	case "start":
		if input.ProcessKey == "" {
			return &Result{Content: "process_key is required for start", IsError: true}, nil
		}
		id, err := t.client.Start(ctx, input.ProcessKey, input.Variables)
		if err != nil {
			return nil, err
		}
		return &Result{Content: fmt.Sprintf("Started process %s, instance %s.", input.ProcessKey, id)}, nil

	case "list":
		instances, err := t.client.List(ctx, t.userID)
		if err != nil {
			return nil, err
		}
		if len(instances) == 0 {
			return &Result{Content: "No running workflows."}, nil
		}
		var b strings.Builder
		for _, inst := range instances {
			fmt.Fprintf(&b, "- %s (%s): %s\n", inst.Key, inst.ID, inst.State)
		}
		return &Result{Content: strings.TrimRight(b.String(), "\n")}, nil

	case "complete":
		if input.TaskID == "" {
			return &Result{Content: "task_id is required for complete", IsError: true}, nil
		}
		if err := t.client.Complete(ctx, input.TaskID, input.Variables); err != nil {
			return nil, err
		}
		return &Result{Content: fmt.Sprintf("Completed task %s.", input.TaskID)}, nil

	default:
		return &Result{Content: fmt.Sprintf("unknown action: %s", input.Action), IsError: true}, nil
	}
}
