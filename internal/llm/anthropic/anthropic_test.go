package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/floradistro/wilson/internal/tools"
	"github.com/floradistro/wilson/pkg/wilson"
)

type stubTool struct {
	name   string
	desc   string
	schema json.RawMessage
}

func (s *stubTool) Name() string                 { return s.name }
func (s *stubTool) Description() string          { return s.desc }
func (s *stubTool) Schema() json.RawMessage      { return s.schema }
func (s *stubTool) Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error) {
	return &wilson.ToolResult{Success: true, Content: "ok"}, nil
}

func TestNewBackendRequiresAPIKey(t *testing.T) {
	if _, err := NewBackend(Config{}, nil); err == nil {
		t.Fatalf("expected error for missing API key")
	}
}

func TestNewBackendAppliesDefaults(t *testing.T) {
	b, err := NewBackend(Config{APIKey: "test-key"}, nil)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.maxRetries != 3 {
		t.Errorf("expected default maxRetries=3, got %d", b.maxRetries)
	}
	if b.retryDelay != time.Second {
		t.Errorf("expected default retryDelay=1s, got %v", b.retryDelay)
	}
	if b.model != defaultModel {
		t.Errorf("expected default model %q, got %q", defaultModel, b.model)
	}
	if b.maxTokens != 4096 {
		t.Errorf("expected default maxTokens=4096, got %d", b.maxTokens)
	}
}

func TestConvertMessagesPlainText(t *testing.T) {
	history := []wilson.Message{
		{Role: wilson.RoleUser, Content: "hello"},
	}
	msgs, err := convertMessages(history)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestConvertMessagesWithToolUseAndResult(t *testing.T) {
	history := []wilson.Message{
		{
			Role: wilson.RoleAssistant,
			Blocks: []wilson.ContentBlock{
				{Type: wilson.BlockText, Text: "let me check"},
				{Type: wilson.BlockToolUse, ToolUseID: "call-1", ToolName: "read", ToolInput: json.RawMessage(`{"path":"a.go"}`)},
			},
		},
		{
			Role: wilson.RoleUser,
			Blocks: []wilson.ContentBlock{
				{Type: wilson.BlockToolResult, ToolResultID: "call-1", ToolResultContent: "package main"},
			},
		},
	}
	msgs, err := convertMessages(history)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestConvertMessagesRejectsMalformedToolInput(t *testing.T) {
	history := []wilson.Message{
		{
			Role: wilson.RoleAssistant,
			Blocks: []wilson.ContentBlock{
				{Type: wilson.BlockToolUse, ToolUseID: "call-1", ToolName: "read", ToolInput: json.RawMessage(`not json`)},
			},
		},
	}
	if _, err := convertMessages(history); err == nil {
		t.Fatalf("expected error for malformed tool_use input")
	}
}

func TestConvertToolsEmpty(t *testing.T) {
	params, err := convertTools(nil)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if params != nil {
		t.Fatalf("expected nil params for empty toolset, got %+v", params)
	}
}

func TestConvertToolsBuildsSchema(t *testing.T) {
	toolset := []tools.Tool{&stubTool{
		name:   "read",
		desc:   "reads a file",
		schema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}}
	params, err := convertTools(toolset)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("expected 1 tool param, got %d", len(params))
	}
}

func TestConvertToolsRejectsMalformedSchema(t *testing.T) {
	toolset := []tools.Tool{&stubTool{name: "bad", schema: json.RawMessage(`not json`)}}
	if _, err := convertTools(toolset); err == nil {
		t.Fatalf("expected error for malformed tool schema")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]failoverReason{
		http.StatusTooManyRequests:     reasonRateLimit,
		http.StatusUnauthorized:        reasonAuth,
		http.StatusBadRequest:          reasonInvalid,
		http.StatusInternalServerError: reasonServerError,
		http.StatusOK:                  reasonUnknown,
	}
	for status, want := range cases {
		if got := classifyStatus(status); got != want {
			t.Errorf("classifyStatus(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(nil) {
		t.Fatalf("nil error should not be retryable")
	}
	if !isRetryable(&providerError{Reason: reasonRateLimit}) {
		t.Fatalf("rate limit should be retryable")
	}
	if isRetryable(&providerError{Reason: reasonAuth}) {
		t.Fatalf("auth errors should not be retryable")
	}
	if !isRetryable(errors.New("received 503 service unavailable")) {
		t.Fatalf("raw 503 message should classify as retryable")
	}
}

func TestWrapErrorNilAndPassthrough(t *testing.T) {
	if wrapError(nil) != nil {
		t.Fatalf("expected nil")
	}
	original := &providerError{Reason: reasonTimeout, Message: "timed out"}
	if wrapError(original) != original {
		t.Fatalf("expected wrapError to pass through an already-wrapped error")
	}
}

// TestNewBackendWithBaseURL builds a Backend pointed at a local SSE server
// through Config.BaseURL and checks that a default model is filled in. It
// never calls Stream, so no request reaches the server and the Claude SSE →
// Wilson wire translation is not exercised here.
func TestNewBackendWithBaseURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer server.Close()

	b, err := NewBackend(Config{APIKey: "test-key", BaseURL: server.URL}, nil)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.model == "" {
		t.Fatalf("expected a default model to be set")
	}
}
