package tools

import (
	"context"
	"testing"
)

func TestTodoToolReplacesListByDefault(t *testing.T) {
	tool := NewTodoTool()
	ctx := contextWithSessionID(context.Background(), "sess-1")

	first := map[string]interface{}{
		"todos": []interface{}{
			map[string]interface{}{"id": "1", "content": "write spec", "status": "pending"},
			map[string]interface{}{"id": "2", "content": "write code", "status": "pending"},
		},
	}
	if res, err := tool.Execute(ctx, first); err != nil || !res.Success {
		t.Fatalf("first write failed: %+v, err=%v", res, err)
	}

	second := map[string]interface{}{
		"todos": []interface{}{
			map[string]interface{}{"id": "3", "content": "ship it", "status": "in_progress"},
		},
	}
	res, err := tool.Execute(ctx, second)
	if err != nil || !res.Success {
		t.Fatalf("second write failed: %+v, err=%v", res, err)
	}

	items := tool.List("sess-1")
	if len(items) != 1 || items[0].ID != "3" {
		t.Fatalf("expected replace semantics to leave only item 3, got %+v", items)
	}
}

func TestTodoToolMergesByID(t *testing.T) {
	tool := NewTodoTool()
	ctx := contextWithSessionID(context.Background(), "sess-2")

	initial := map[string]interface{}{
		"todos": []interface{}{
			map[string]interface{}{"id": "1", "content": "write spec", "status": "pending"},
			map[string]interface{}{"id": "2", "content": "write code", "status": "pending"},
		},
	}
	if res, err := tool.Execute(ctx, initial); err != nil || !res.Success {
		t.Fatalf("initial write failed: %+v, err=%v", res, err)
	}

	merge := map[string]interface{}{
		"merge": true,
		"todos": []interface{}{
			map[string]interface{}{"id": "1", "content": "write spec", "status": "completed"},
			map[string]interface{}{"id": "3", "content": "ship it", "status": "pending"},
		},
	}
	if res, err := tool.Execute(ctx, merge); err != nil || !res.Success {
		t.Fatalf("merge write failed: %+v, err=%v", res, err)
	}

	items := tool.List("sess-2")
	if len(items) != 3 {
		t.Fatalf("expected 3 items after merge, got %d: %+v", len(items), items)
	}
	byID := make(map[string]TodoItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	if byID["1"].Status != "completed" {
		t.Fatalf("expected item 1 updated to completed, got %+v", byID["1"])
	}
	if byID["2"].Status != "pending" {
		t.Fatalf("expected item 2 untouched, got %+v", byID["2"])
	}
	if byID["3"].Content != "ship it" {
		t.Fatalf("expected item 3 appended, got %+v", byID["3"])
	}
}

func TestTodoToolRejectsMissingOrInvalidFields(t *testing.T) {
	tool := NewTodoTool()
	ctx := contextWithSessionID(context.Background(), "sess-3")

	cases := []map[string]interface{}{
		{"todos": []interface{}{}},
		{"todos": []interface{}{map[string]interface{}{"id": "1", "status": "pending"}}},
		{"todos": []interface{}{map[string]interface{}{"id": "1", "content": "x", "status": "bogus"}}},
	}
	for i, input := range cases {
		res, err := tool.Execute(ctx, input)
		if err != nil {
			t.Fatalf("case %d: unexpected Go error: %v", i, err)
		}
		if res.Success {
			t.Fatalf("case %d: expected validation failure, got success", i)
		}
	}
}

func TestTodoToolIsolatesSessions(t *testing.T) {
	tool := NewTodoTool()
	ctxA := contextWithSessionID(context.Background(), "sess-a")

	input := map[string]interface{}{
		"todos": []interface{}{
			map[string]interface{}{"id": "1", "content": "a's task", "status": "pending"},
		},
	}
	if _, err := tool.Execute(ctxA, input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if items := tool.List("sess-b"); len(items) != 0 {
		t.Fatalf("expected sess-b to have no todos, got %+v", items)
	}
	if items := tool.List("sess-a"); len(items) != 1 {
		t.Fatalf("expected sess-a to have 1 todo, got %+v", items)
	}
}
