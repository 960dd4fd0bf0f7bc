// Package anthropic implements agentloop.Backend against Anthropic's
// Claude API. It carries the same retry-with-backoff, SSE-streaming
// shape the agent framework's provider layer uses for every model
// family, narrowed to the single backend a Wilson conversation drives
// and translated into the stream package's own wire event shape rather
// than Claude's native content-block delta events.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/floradistro/wilson/internal/stream"
	"github.com/floradistro/wilson/internal/tools"
	"github.com/floradistro/wilson/pkg/wilson"
)

const defaultModel = "claude-sonnet-4-20250514"

// Config configures a Backend.
type Config struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff. Default: 1s.
	RetryDelay time.Duration

	// DefaultModel is the model ID to request. Default: claude-sonnet-4.
	DefaultModel string

	// MaxTokens bounds the generated response length. Default: 4096.
	MaxTokens int

	// SystemPrompt is sent as the request's system block on every turn.
	SystemPrompt string
}

// Backend drives one session's turns against Claude, implementing
// agentloop.Backend. Its tool set and system prompt are fixed at
// construction: a Wilson conversation has one model and one policy-scoped
// tool set for its lifetime, so Stream takes only the turn's history.
type Backend struct {
	client     sdk.Client
	maxRetries int
	retryDelay time.Duration
	model      string
	maxTokens  int
	system     string
	tools      []tools.Tool
}

// NewBackend builds a Backend against Claude, advertising toolset as the
// tools available to this session.
func NewBackend(config Config, toolset []tools.Tool) (*Backend, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Backend{
		client:     sdk.NewClient(opts...),
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		model:      config.DefaultModel,
		maxTokens:  config.MaxTokens,
		system:     config.SystemPrompt,
		tools:      toolset,
	}, nil
}

// Stream converts history to Claude's wire format and returns a Decoder
// reading a translated event stream. Conversion failures return
// synchronously; everything past the first network call — retries,
// backoff, the SSE translation itself — happens in a background
// goroutine feeding the decoder's pipe, matching the loop controller's
// expectation of a lazily-pulled Decoder.
func (b *Backend) Stream(ctx context.Context, history []wilson.Message) (*stream.Decoder, error) {
	messages, err := convertMessages(history)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	toolParams, err := convertTools(b.tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
	}

	pr, pw := io.Pipe()
	go b.run(ctx, pw, messages, toolParams)
	return stream.NewDecoder(pr), nil
}

// run drives the retry loop and, once a stream is established, the
// translation loop, always closing pw exactly once on every exit path.
func (b *Backend) run(ctx context.Context, pw *io.PipeWriter, messages []sdk.MessageParam, toolParams []sdk.ToolUnionParam) {
	defer pw.Close()

	var apiStream *ssestream.Stream[sdk.MessageStreamEventUnion]
	var err error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		apiStream, err = b.createStream(ctx, messages, toolParams)
		if err == nil {
			break
		}

		wrapped := wrapError(err)
		if !isRetryable(wrapped) {
			writeErrorEvent(pw, wrapped)
			return
		}

		if attempt < b.maxRetries {
			backoff := b.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				writeErrorEvent(pw, ctx.Err())
				return
			case <-time.After(backoff):
			}
		}
	}

	if err != nil {
		writeErrorEvent(pw, fmt.Errorf("anthropic: max retries exceeded: %w", wrapError(err)))
		return
	}

	translateStream(apiStream, pw)
}

func (b *Backend) createStream(ctx context.Context, messages []sdk.MessageParam, toolParams []sdk.ToolUnionParam) (*ssestream.Stream[sdk.MessageStreamEventUnion], error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(b.model),
		Messages:  messages,
		MaxTokens: int64(b.maxTokens),
	}
	if b.system != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: b.system}}
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	s := b.client.Messages.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// translateStream reads Claude's native content-block events and writes
// them to w as Wilson's own "data: <json>" wire records, accumulating a
// tools_pending payload if the turn ends in tool calls.
func translateStream(apiStream *ssestream.Stream[sdk.MessageStreamEventUnion], w io.Writer) {
	var blocks []stream.ContentBlockRecord
	var pending []stream.PendingTool
	var currentToolInput strings.Builder
	currentBlock := -1
	var inputTokens, outputTokens int

	for apiStream.Next() {
		event := apiStream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "text":
				blocks = append(blocks, stream.ContentBlockRecord{Type: "text"})
				currentBlock = len(blocks) - 1
			case "tool_use":
				toolUse := block.AsToolUse()
				blocks = append(blocks, stream.ContentBlockRecord{Type: "tool_use", ID: toolUse.ID, Name: toolUse.Name})
				currentBlock = len(blocks) - 1
				currentToolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					continue
				}
				if currentBlock >= 0 && currentBlock < len(blocks) {
					blocks[currentBlock].Text += delta.Text
				}
				if !writeEvent(w, &stream.Event{Kind: stream.KindText, Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentBlock >= 0 && currentBlock < len(blocks) && blocks[currentBlock].Type == "tool_use" {
				raw := json.RawMessage(currentToolInput.String())
				blocks[currentBlock].Input = raw
				pending = append(pending, stream.PendingTool{
					ID:    blocks[currentBlock].ID,
					Name:  blocks[currentBlock].Name,
					Input: raw,
				})
			}
			currentBlock = -1

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			if len(pending) > 0 {
				if !writeEvent(w, &stream.Event{Kind: stream.KindToolsPending, ContentBlocks: blocks, PendingTools: pending}) {
					return
				}
			}
			writeEvent(w, &stream.Event{Kind: stream.KindDone, Usage: stream.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}})
			return

		case "error":
			writeErrorEvent(w, errors.New("anthropic stream error"))
			return
		}
	}

	if err := apiStream.Err(); err != nil {
		writeErrorEvent(w, wrapError(err))
	}
	// A clean EOF with no message_stop falls through here with nothing
	// written; the decoder's own unexpected-EOF handling (stream §4.A)
	// surfaces that to the loop controller without a redundant event here.
}

func writeEvent(w io.Writer, ev *stream.Event) bool {
	return stream.Encode(w, []*stream.Event{ev}) == nil
}

func writeErrorEvent(w io.Writer, err error) {
	writeEvent(w, &stream.Event{Kind: stream.KindError, Err: err})
}

// convertMessages converts Wilson's message model into Claude's content
// block params. Assistant and tool-result messages carry Blocks; plain
// user turns carry only Content.
func convertMessages(history []wilson.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(history))

	for _, msg := range history {
		var content []sdk.ContentBlockParamUnion

		if len(msg.Blocks) > 0 {
			for _, blk := range msg.Blocks {
				switch blk.Type {
				case wilson.BlockText:
					if blk.Text != "" {
						content = append(content, sdk.NewTextBlock(blk.Text))
					}
				case wilson.BlockToolUse:
					var input map[string]interface{}
					if err := json.Unmarshal(blk.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("invalid tool_use input for %s: %w", blk.ToolName, err)
					}
					content = append(content, sdk.NewToolUseBlock(blk.ToolUseID, input, blk.ToolName))
				case wilson.BlockToolResult:
					content = append(content, sdk.NewToolResultBlock(blk.ToolResultID, blk.ToolResultContent, blk.IsError))
				case wilson.BlockImage:
					// Vision input is out of scope; image blocks are dropped
					// rather than rejected so a mixed-content history still
					// sends its text and tool blocks.
				}
			}
		} else if msg.Content != "" {
			content = append(content, sdk.NewTextBlock(msg.Content))
		}

		var m sdk.MessageParam
		if msg.Role == wilson.RoleAssistant {
			m = sdk.NewAssistantMessage(content...)
		} else {
			// RoleUser and RoleTool both map to a user message in Claude's
			// two-role wire format.
			m = sdk.NewUserMessage(content...)
		}
		out = append(out, m)
	}

	return out, nil
}

func convertTools(toolset []tools.Tool) ([]sdk.ToolUnionParam, error) {
	if len(toolset) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(toolset))
	for _, t := range toolset {
		var schema sdk.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name(), err)
		}
		param := sdk.ToolUnionParamOfTool(schema, t.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name())
		}
		param.OfTool.Description = sdk.String(t.Description())
		out = append(out, param)
	}
	return out, nil
}
