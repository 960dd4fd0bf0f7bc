package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/floradistro/wilson/pkg/wilson"
)

// TodoItem is a single entry on a session's task list.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending|in_progress|completed|cancelled
}

func isValidTodoStatus(status string) bool {
	switch status {
	case "pending", "in_progress", "completed", "cancelled":
		return true
	}
	return false
}

// TodoTool lets the model maintain a structured, per-session task list
// (group:control, spec.md's ToolGroup taxonomy) instead of tracking
// progress only in free text. State lives in memory for the process's
// lifetime, keyed by session id.
type TodoTool struct {
	mu    sync.Mutex
	lists map[string][]TodoItem
}

// NewTodoTool builds an empty TodoTool.
func NewTodoTool() *TodoTool {
	return &TodoTool{lists: make(map[string][]TodoItem)}
}

func (t *TodoTool) Name() string { return "todo_write" }

func (t *TodoTool) Description() string {
	return "Creates or updates the current session's task list. Use for " +
		"multi-step work (3+ distinct steps) to track progress; skip it for " +
		"single-step requests. Set merge=true to update existing items by id " +
		"rather than replacing the whole list."
}

func (t *TodoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"merge": {"type": "boolean", "description": "If true, update existing items by id instead of replacing the list"},
			"todos": {
				"type": "array",
				"description": "The full task list (or the items to merge in)",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"content": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed", "cancelled"]}
					},
					"required": ["id", "content", "status"]
				}
			}
		},
		"required": ["todos"]
	}`)
}

func (t *TodoTool) Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error) {
	sessionID := SessionIDFromContext(ctx)

	merge, _ := input["merge"].(bool)
	rawTodos, ok := input["todos"].([]interface{})
	if !ok || len(rawTodos) == 0 {
		return &wilson.ToolResult{Success: false, Error: "todos is required and must be a non-empty array"}, nil
	}

	todos := make([]TodoItem, 0, len(rawTodos))
	for i, raw := range rawTodos {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return &wilson.ToolResult{Success: false, Error: fmt.Sprintf("todos[%d] is not an object", i)}, nil
		}
		id, _ := m["id"].(string)
		content, _ := m["content"].(string)
		status, _ := m["status"].(string)
		if id == "" || content == "" || status == "" {
			return &wilson.ToolResult{Success: false, Error: fmt.Sprintf("todos[%d] is missing id, content, or status", i)}, nil
		}
		if !isValidTodoStatus(status) {
			return &wilson.ToolResult{Success: false, Error: fmt.Sprintf("todos[%d] has invalid status %q", i, status)}, nil
		}
		todos = append(todos, TodoItem{ID: id, Content: content, Status: status})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if merge {
		existing := t.lists[sessionID]
		byID := make(map[string]int, len(existing))
		for i, item := range existing {
			byID[item.ID] = i
		}
		for _, item := range todos {
			if i, found := byID[item.ID]; found {
				existing[i] = item
			} else {
				existing = append(existing, item)
			}
		}
		t.lists[sessionID] = existing
	} else {
		t.lists[sessionID] = todos
	}

	return &wilson.ToolResult{Success: true, Content: formatTodoSummary(t.lists[sessionID])}, nil
}

// List returns a copy of sessionID's current todos, for callers that want
// to inject the task list into the system prompt or a status display.
func (t *TodoTool) List(sessionID string) []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := t.lists[sessionID]
	out := make([]TodoItem, len(items))
	copy(out, items)
	return out
}

func formatTodoSummary(todos []TodoItem) string {
	if len(todos) == 0 {
		return "no active todos"
	}
	var counts [4]int
	statuses := [4]string{"pending", "in_progress", "completed", "cancelled"}
	for _, item := range todos {
		for i, s := range statuses {
			if item.Status == s {
				counts[i]++
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d total (%d pending, %d in progress, %d completed, %d cancelled)\n",
		len(todos), counts[0], counts[1], counts[2], counts[3])
	for _, item := range todos {
		fmt.Fprintf(&b, "[%s] %s: %s\n", item.Status, item.ID, item.Content)
	}
	return b.String()
}
