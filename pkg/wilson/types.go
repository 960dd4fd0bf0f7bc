// Package wilson defines the data model shared by the agent loop, the tool
// dispatcher, and the swarm orchestrator: messages, content blocks, tool
// calls, and the signatures used to detect redundant tool invocations.
package wilson

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType tags the variant of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// ContentBlock is a tagged union over text, tool_use, tool_result, and image
// payloads. Only the fields relevant to Type are populated.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text holds the payload for Type == BlockText.
	Text string `json:"text,omitempty"`

	// ToolUseID, ToolName, ToolInput hold the payload for Type == BlockToolUse.
	ToolUseID string          `json:"id,omitempty"`
	ToolName  string          `json:"name,omitempty"`
	ToolInput json.RawMessage `json:"input,omitempty"`

	// ToolResultID, ToolResultContent, IsError hold the payload for
	// Type == BlockToolResult. ToolResultID matches a ToolUseID from the
	// immediately preceding assistant message.
	ToolResultID      string `json:"tool_use_id,omitempty"`
	ToolResultContent string `json:"content,omitempty"`
	IsError           bool   `json:"is_error,omitempty"`

	// CacheControl marks a block as ephemeral/already-processed for the
	// backend, mirroring the "cache hint" mentioned in the loop controller
	// dedup design.
	CacheControl string `json:"cache_control,omitempty"`

	// ImageSource holds the payload for Type == BlockImage (a data URL or
	// opaque source reference; the core never interprets it).
	ImageSource string `json:"image_source,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`

	// IsStreaming is true only while this message's text is still
	// arriving. Every message that reaches conversation history has
	// already been finalized, so it is false there; callers rendering a
	// turn live set it true on their working copy until the turn resolves
	// (spec §8: "the final assistant message has isStreaming=false").
	IsStreaming bool `json:"is_streaming,omitempty"`
}

// ToolCallStatus is the lifecycle state of a ToolCall.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
	ToolCallCancelled ToolCallStatus = "cancelled"
)

// ToolCall is the runtime shadow of a tool_use content block.
type ToolCall struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Input  map[string]interface{} `json:"input"`
	Status ToolCallStatus         `json:"status"`
	Result *ToolResult            `json:"result,omitempty"`

	// Elapsed is populated once the call finishes executing.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// StreamedOutput accumulates interim output for interactive display
	// (e.g. a shell command's stdout as it arrives) before Result is set.
	StreamedOutput string `json:"streamed_output,omitempty"`
}

// ToolResult is the normalized outcome of a tool invocation (spec §4.B.5):
// a boolean success flag and either textual content or an error message.
type ToolResult struct {
	Success   bool                   `json:"success"`
	Content   string                 `json:"content,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Terminal  bool                   `json:"_terminal,omitempty"`
	PID       int                    `json:"pid,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Extra     map[string]interface{} `json:"-"`
}

// BackgroundProcess is a snapshot of a detached child owned by the Tool
// Dispatcher: a shell command started without blocking the turn. It
// terminates when the child exits or is explicitly killed.
type BackgroundProcess struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`

	// Tail is the capped rolling tail of combined stdout/stderr.
	Tail      string `json:"tail"`
	Exited    bool   `json:"exited"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ToolSignature is the pair (lowercased tool name, stable digest of input
// JSON) used only for duplicate-call detection. It is never sent to the LLM.
type ToolSignature string

// NewToolSignature computes a deterministic signature for a tool call. Input
// keys are sorted by json.Marshal of a map (Go sorts map keys on encode),
// so two semantically identical inputs produce the same signature regardless
// of original key order.
func NewToolSignature(name string, input map[string]interface{}) ToolSignature {
	name = strings.ToLower(strings.TrimSpace(name))
	data, err := json.Marshal(input)
	if err != nil {
		data = []byte(name)
	}
	sum := sha256.Sum256(append([]byte(name+"\x00"), data...))
	return ToolSignature(hex.EncodeToString(sum[:]))
}
