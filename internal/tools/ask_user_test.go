package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAskUserToolReturnsAskerReply(t *testing.T) {
	var gotSessionID, gotQuestion string
	tool := NewAskUserTool(func(ctx context.Context, sessionID, question string) (string, error) {
		gotSessionID = sessionID
		gotQuestion = question
		return "yes, proceed", nil
	})

	ctx := contextWithSessionID(context.Background(), "sess-1")
	res, err := tool.Execute(ctx, map[string]interface{}{"question": "Overwrite the existing file?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Content != "yes, proceed" {
		t.Fatalf("expected successful reply, got %+v", res)
	}
	if gotSessionID != "sess-1" {
		t.Fatalf("expected session id threaded to Asker, got %q", gotSessionID)
	}
	if gotQuestion != "Overwrite the existing file?" {
		t.Fatalf("expected question threaded to Asker, got %q", gotQuestion)
	}
}

func TestAskUserToolRejectsEmptyQuestion(t *testing.T) {
	called := false
	tool := NewAskUserTool(func(ctx context.Context, sessionID, question string) (string, error) {
		called = true
		return "", nil
	})

	res, err := tool.Execute(context.Background(), map[string]interface{}{"question": "   "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected empty question to fail validation")
	}
	if called {
		t.Fatalf("expected Asker not to be invoked for an invalid call")
	}
}

func TestAskUserToolSurfacesAskerError(t *testing.T) {
	tool := NewAskUserTool(func(ctx context.Context, sessionID, question string) (string, error) {
		return "", errors.New("no reply received")
	})

	res, err := tool.Execute(context.Background(), map[string]interface{}{"question": "Continue?"})
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if res.Success || res.Error != "no reply received" {
		t.Fatalf("expected Asker error surfaced on the result, got %+v", res)
	}
}

func TestAskUserToolDispatchTimeoutOverridesDefault(t *testing.T) {
	tool := NewAskUserTool(nil)
	if tool.DispatchTimeout() != AskUserTimeout {
		t.Fatalf("expected DispatchTimeout to report AskUserTimeout, got %s", tool.DispatchTimeout())
	}
}

func TestStdinAskerReadsSharedReader(t *testing.T) {
	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("sounds good\n"))
	SetInteractiveIO(&out, in)
	t.Cleanup(func() { SetInteractiveIO(nil, nil) })

	tool := NewAskUserTool(nil)
	res, err := tool.Execute(context.Background(), map[string]interface{}{"question": "Deploy now?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Content != "sounds good" {
		t.Fatalf("expected reply read from shared reader, got %+v", res)
	}
	if !strings.Contains(out.String(), "Deploy now?") {
		t.Fatalf("expected question written to shared writer, got %q", out.String())
	}
}

func TestStdinAskerFailsWithoutConfiguredIO(t *testing.T) {
	SetInteractiveIO(nil, nil)

	tool := NewAskUserTool(nil)
	res, err := tool.Execute(context.Background(), map[string]interface{}{"question": "Deploy now?"})
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure when interactive IO is unconfigured")
	}
}
