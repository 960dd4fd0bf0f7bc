package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/floradistro/wilson/pkg/wilson"
)

// AskUserTimeout bounds how long ask_user blocks waiting on a reply,
// overriding the dispatcher's generic per-call timeout the way
// shell_execute's own timeout does (spec §4.B.3 control-plane tools
// suspend the turn rather than fail it outright, but an unattended process
// still needs a backstop).
const AskUserTimeout = 10 * time.Minute

// Asker prompts a human with question and returns their reply. The default
// implementation (stdinAsker) prints the question to the writer given to
// SetInteractiveIO (stderr in the CLI) and reads the reply from the shared
// stdin reader; tests and
// non-interactive frontends (the swarm worker, which has no terminal)
// supply their own.
type Asker func(ctx context.Context, sessionID, question string) (string, error)

// AskUserTool suspends the turn to ask the user a clarifying question
// (group:control, spec.md's ToolGroup taxonomy) instead of guessing.
type AskUserTool struct {
	ask Asker
}

// NewAskUserTool builds an AskUserTool. A nil ask defaults to stdinAsker,
// which prompts through the writer and reader given to SetInteractiveIO.
func NewAskUserTool(ask Asker) *AskUserTool {
	if ask == nil {
		ask = stdinAsker
	}
	return &AskUserTool{ask: ask}
}

func (t *AskUserTool) Name() string { return "ask_user" }

func (t *AskUserTool) Description() string {
	return "Pauses the turn to ask the user a clarifying question when the " +
		"request is ambiguous or a destructive action needs explicit " +
		"confirmation beyond the usual approval gate. Returns the user's reply " +
		"as plain text."
}

// DispatchTimeout lets the dispatcher stand aside for ask_user the same way
// it does for shell_execute: a human reply can take much longer than the
// dispatcher's generic per-call default.
func (t *AskUserTool) DispatchTimeout() time.Duration { return AskUserTimeout }

func (t *AskUserTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to put to the user"}
		},
		"required": ["question"]
	}`)
}

func (t *AskUserTool) Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error) {
	question, _ := input["question"].(string)
	if strings.TrimSpace(question) == "" {
		return &wilson.ToolResult{Success: false, Error: "question is required"}, nil
	}

	sessionID := SessionIDFromContext(ctx)
	answer, err := t.ask(ctx, sessionID, question)
	if err != nil {
		return &wilson.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return &wilson.ToolResult{Success: true, Content: answer}, nil
}

// questionWriter and questionReader are package-level so stdinAsker shares
// exactly one buffered reader with the interactive run loop's own prompt
// loop (set via SetInteractiveIO), instead of wrapping a second
// bufio.Reader around stdin that could buffer ahead and steal a line the
// outer loop was about to read.
var (
	questionWriter io.Writer
	questionReader *bufio.Reader
)

// SetInteractiveIO wires stdinAsker to the run loop's own stdin reader, so
// the question prompt and the user's reply share one buffered reader
// rather than racing two independent ones against the same file
// descriptor. Call once at startup in an interactive (non-swarm) process.
func SetInteractiveIO(w io.Writer, r *bufio.Reader) {
	questionWriter = w
	questionReader = r
}

// stdinAsker is the interactive-terminal default: it prints the question to
// stderr (so it doesn't interleave with the assistant's stdout text) and
// reads one line of reply from the shared stdin reader.
func stdinAsker(ctx context.Context, sessionID, question string) (string, error) {
	if questionWriter == nil || questionReader == nil {
		return "", fmt.Errorf("ask_user: interactive IO not configured")
	}
	fmt.Fprintf(questionWriter, "\n? %s\n> ", question)
	line, err := questionReader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
