// Package agentloop implements the Loop Controller (spec §4.C): the
// stream→dedupe→execute→append state machine that drives a single
// conversation turn from a user message to a finalized assistant reply,
// calling out to the stream decoder and the tool dispatcher along the way.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/floradistro/wilson/internal/metrics"
	"github.com/floradistro/wilson/internal/stream"
	"github.com/floradistro/wilson/internal/telemetry"
	"github.com/floradistro/wilson/internal/tools"
	"github.com/floradistro/wilson/internal/tools/policy"
	"github.com/floradistro/wilson/pkg/wilson"
)

// Phase names a state in the loop's state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
	PhaseDeduping  Phase = "deduping"
	PhaseExecuting Phase = "executing"
	PhaseAppended  Phase = "appended"
	PhaseFinalized Phase = "finalized"
	PhaseStopped   Phase = "stopped"
)

// HardCapIterations is the last line of defense against a runaway turn.
// The loop must behave correctly at every depth below this, not just rely
// on the cap to paper over bugs.
const HardCapIterations = 15

const reflectionStride = 5

// blockMessage is injected verbatim at the start of a blocked tool's
// result content. It must read as plain text, not be buried in JSON, so
// the model reliably notices it regardless of backend formatting.
const blockMessage = "[TOOL COMPLETE - DO NOT CALL THIS TOOL AGAIN WITH SAME PARAMETERS]"

// Backend is the streaming connection to the model. Implementations send
// history as the request body and translate their wire protocol into
// stream.Events.
type Backend interface {
	Stream(ctx context.Context, history []wilson.Message) (*stream.Decoder, error)
}

// Compactor prunes history to fit a token budget (§4.D). A nil Compactor
// is valid: the loop then runs without compaction.
type Compactor interface {
	Compact(history []wilson.Message) []wilson.Message
}

// Event is published to the caller as a turn progresses.
type Event struct {
	Phase      Phase
	Text       string
	ToolResult *wilson.ToolResult
	Done       bool
	Err        error

	// Message carries the finalized assistant message on a graceful
	// PhaseFinalized event (spec §8: isStreaming=false, toolCalls.length
	// equal to the non-blocked executions across the whole send). Nil on
	// every other event, including the terminal-tool short circuit, which
	// finalizes on a tool result rather than a new assistant message.
	Message *wilson.Message
}

// Config bounds a single turn.
type Config struct {
	// HardCap overrides HardCapIterations. Zero uses the default.
	HardCap int

	// MaxToolInputBytes truncates large tool_use inputs (e.g. a bulky
	// write body) before they're re-sent as history on the next
	// iteration. Zero uses a 4KB default.
	MaxToolInputBytes int
}

// DefaultConfig returns the loop's standard bounds.
func DefaultConfig() Config {
	return Config{
		HardCap:           HardCapIterations,
		MaxToolInputBytes: 4096,
	}
}

// Loop drives one conversation's turns against a Backend and a tool
// Dispatcher. A Loop is safe for sequential Send calls; at most one turn
// runs at a time, and starting a new one cancels any turn still running.
type Loop struct {
	backend    Backend
	compactor  Compactor
	dispatcher *tools.Dispatcher
	policy     *policy.Policy
	config     Config
	tracer     *telemetry.Tracer
	metrics    *metrics.Metrics

	mu         sync.Mutex
	cancelPrev context.CancelFunc
}

// SetTracer attaches a telemetry.Tracer for per-iteration spans around
// the backend stream, tool dispatch, and compaction. Safe to call before
// the first Send; nil detaches tracing.
func (l *Loop) SetTracer(tracer *telemetry.Tracer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracer = tracer
}

// SetMetrics attaches a metrics.Metrics for per-iteration counters around
// stream usage/errors, tool execution/dedup, and compaction. Safe to call
// before the first Send; nil detaches metrics recording.
func (l *Loop) SetMetrics(m *metrics.Metrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// New builds a Loop. compactor may be nil.
func New(backend Backend, dispatcher *tools.Dispatcher, p *policy.Policy, compactor Compactor, config Config) *Loop {
	if config.HardCap <= 0 {
		config.HardCap = HardCapIterations
	}
	if config.MaxToolInputBytes <= 0 {
		config.MaxToolInputBytes = 4096
	}
	return &Loop{
		backend:    backend,
		dispatcher: dispatcher,
		policy:     p,
		compactor:  compactor,
		config:     config,
	}
}

// Send starts a new turn for sessionID. history is the prior conversation
// (already windowed to the last-K messages by the caller); userMessage is
// appended before the first iteration. Send carries an implicit abort
// token: starting a new turn on the same Loop cancels any turn already in
// flight, propagating cancellation to the streaming backend connection
// and any in-flight foreground tool execution. The returned channel is
// closed once the turn reaches a terminal phase.
func (l *Loop) Send(ctx context.Context, sessionID string, history []wilson.Message, userMessage wilson.Message) <-chan *Event {
	l.mu.Lock()
	if l.cancelPrev != nil {
		l.cancelPrev()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	l.cancelPrev = cancel
	l.mu.Unlock()

	events := make(chan *Event, 16)
	go func() {
		defer close(events)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				events <- &Event{Phase: PhaseStopped, Err: fmt.Errorf("agent loop panicked: %v", r)}
			}
		}()
		l.run(turnCtx, sessionID, history, userMessage, events)
	}()
	return events
}

func (l *Loop) run(ctx context.Context, sessionID string, history []wilson.Message, userMessage wilson.Message, events chan<- *Event) {
	l.mu.Lock()
	tracer := l.tracer
	m := l.metrics
	l.mu.Unlock()

	msgs := make([]wilson.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, userMessage)

	var lastSignature wilson.ToolSignature
	turnSignatures := make(map[wilson.ToolSignature]bool)
	var recentTools []string
	var executedCalls []wilson.ToolCall

	depth := 0
	for {
		if ctx.Err() != nil {
			events <- &Event{Phase: PhaseStopped, Err: ctx.Err()}
			return
		}

		if l.compactor != nil {
			_, compactSpan := tracer.CompactSpan(ctx, len(msgs))
			beforeChars := sumContentChars(msgs)
			msgs = l.compactor.Compact(msgs)
			telemetry.End(compactSpan, nil)
			if m != nil {
				afterChars := sumContentChars(msgs)
				freed := (beforeChars - afterChars) / charsPerTokenEstimate
				if freed < 0 {
					freed = 0
				}
				m.RecordCompaction(afterChars < beforeChars, freed)
			}
		}

		streamCtx, streamSpan := tracer.StreamSpan(ctx, depth)
		decoder, err := l.backend.Stream(streamCtx, msgs)
		if err != nil {
			telemetry.End(streamSpan, err)
			if m != nil {
				m.RecordStreamError("backend_connect")
			}
			events <- &Event{Phase: PhaseStreaming, Err: fmt.Errorf("stream backend: %w", err)}
			return
		}

		text, blocks, pending, usage, err := consumeStream(decoder, events)
		telemetry.End(streamSpan, err)
		if err != nil {
			if m != nil {
				m.RecordStreamError("stream_decode")
			}
			events <- &Event{Phase: PhaseStreaming, Err: err}
			return
		}
		if m != nil {
			m.RecordStreamUsage(usage.InputTokens, usage.OutputTokens)
		}

		if len(pending) == 0 {
			final := wilson.Message{
				Role:        wilson.RoleAssistant,
				Content:     text,
				Timestamp:   time.Now(),
				ToolCalls:   executedCalls,
				IsStreaming: false,
			}
			msgs = append(msgs, final)
			events <- &Event{Phase: PhaseFinalized, Text: text, Done: true, Message: &final}
			return
		}

		if depth >= l.config.HardCap {
			events <- &Event{
				Phase: PhaseStopped,
				Err:   fmt.Errorf("stopped after %d tool iterations without completing the task", l.config.HardCap),
			}
			return
		}

		events <- &Event{Phase: PhaseDeduping}
		toRun, blockedBlocks := dedupeTools(pending, &lastSignature, turnSignatures, m)
		if len(toRun) == 0 {
			final := wilson.Message{
				Role:        wilson.RoleAssistant,
				Content:     text,
				Timestamp:   time.Now(),
				ToolCalls:   executedCalls,
				IsStreaming: false,
			}
			msgs = append(msgs, final)
			events <- &Event{
				Phase:   PhaseFinalized,
				Text:    "every tool call this turn repeated a call already made; stopping here",
				Done:    true,
				Message: &final,
			}
			return
		}

		events <- &Event{Phase: PhaseExecuting}
		calls := make([]wilson.ToolCall, 0, len(toRun))
		for _, pt := range toRun {
			var input map[string]interface{}
			_ = json.Unmarshal(pt.Input, &input)
			calls = append(calls, wilson.ToolCall{ID: pt.ID, Name: pt.Name, Input: input})
			recentTools = appendBounded(recentTools, pt.Name, reflectionStride)
		}

		dispatchCtx, dispatchSpan := tracer.DispatchSpan(ctx, len(calls))
		results := l.dispatcher.DispatchAll(dispatchCtx, sessionID, l.policy, calls)
		telemetry.End(dispatchSpan, nil)

		for i, r := range results {
			status := wilson.ToolCallCompleted
			if r.Result == nil || !r.Result.Success {
				status = wilson.ToolCallError
			}
			executedCalls = append(executedCalls, wilson.ToolCall{
				ID:      r.ToolCallID,
				Name:    r.ToolName,
				Input:   calls[i].Input,
				Status:  status,
				Result:  r.Result,
				Elapsed: r.Duration,
			})
			if m != nil {
				metricStatus := "success"
				if status == wilson.ToolCallError {
					metricStatus = "error"
				}
				m.RecordToolExecution(r.ToolName, metricStatus, r.Duration)
			}
		}

		var terminal *tools.DispatchResult
		for i := range results {
			r := results[i]
			events <- &Event{Phase: PhaseExecuting, ToolResult: r.Result}
			if r.Result != nil && r.Result.Terminal {
				terminal = &results[i]
				break
			}
		}
		if terminal != nil {
			events <- &Event{Phase: PhaseFinalized, Text: terminal.Result.Content, Done: true}
			return
		}

		msgs = append(msgs, assistantMessage(text, blocks, l.config.MaxToolInputBytes))
		msgs = append(msgs, toolResultMessage(blockedBlocks, results))

		depth++
		injectGuidance(&msgs, depth, l.config.HardCap, recentTools)
		events <- &Event{Phase: PhaseAppended}
	}
}

// consumeStream drains decoder, publishing text chunks as they arrive,
// and returns the accumulated text, whatever tools_pending payload (if
// any) terminated the stream, and the last token usage the backend
// reported.
func consumeStream(decoder *stream.Decoder, events chan<- *Event) (text string, blocks []stream.ContentBlockRecord, pending []stream.PendingTool, usage stream.Usage, err error) {
	var sb strings.Builder
	for {
		ev, ok := decoder.Next()
		if !ok {
			return sb.String(), blocks, pending, usage, nil
		}
		switch ev.Kind {
		case stream.KindText:
			sb.WriteString(ev.Text)
			events <- &Event{Phase: PhaseStreaming, Text: ev.Text}
		case stream.KindToolsPending:
			blocks = ev.ContentBlocks
			pending = ev.PendingTools
		case stream.KindUsage:
			usage = ev.Usage
		case stream.KindDone:
			usage = ev.Usage
			return sb.String(), blocks, pending, usage, nil
		case stream.KindError:
			return sb.String(), blocks, pending, usage, ev.Err
		}
	}
}

// charsPerTokenEstimate mirrors the compaction package's own rough
// character-per-token ratio, used only to turn a before/after character
// count into an approximate tokens-freed metric.
const charsPerTokenEstimate = 4

func sumContentChars(msgs []wilson.Message) int {
	total := 0
	for _, msg := range msgs {
		total += len(msg.Content)
		for _, b := range msg.Blocks {
			total += len(b.Text) + len(b.ToolResultContent) + len(b.ToolInput)
		}
	}
	return total
}

// dedupeTools splits pending into calls that should run and blocked
// blocks for calls whose signature is a consecutive- or turn-duplicate.
// lastSignature and turnSignatures are updated in place for the calls
// that are allowed to run.
func dedupeTools(pending []stream.PendingTool, lastSignature *wilson.ToolSignature, turnSignatures map[wilson.ToolSignature]bool, m *metrics.Metrics) (toRun []stream.PendingTool, blocked []wilson.ContentBlock) {
	for _, pt := range pending {
		var input map[string]interface{}
		_ = json.Unmarshal(pt.Input, &input)
		sig := wilson.NewToolSignature(pt.Name, input)

		if sig == *lastSignature || turnSignatures[sig] {
			if m != nil {
				m.RecordToolDeduped(pt.Name)
				m.RecordToolExecution(pt.Name, "blocked", 0)
			}
			blocked = append(blocked, wilson.ContentBlock{
				Type:              wilson.BlockToolResult,
				ToolResultID:      pt.ID,
				ToolResultContent: blockMessage + " tool " + pt.Name + " already ran with these parameters this turn.",
			})
			continue
		}

		toRun = append(toRun, pt)
		*lastSignature = sig
		turnSignatures[sig] = true
	}
	return toRun, blocked
}

// assistantMessage rebuilds the assistant's content blocks for re-append,
// truncating any tool_use input larger than maxInputBytes.
func assistantMessage(text string, blocks []stream.ContentBlockRecord, maxInputBytes int) wilson.Message {
	out := make([]wilson.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		cb := wilson.ContentBlock{
			Type:      wilson.BlockType(b.Type),
			Text:      b.Text,
			ToolUseID: b.ID,
			ToolName:  b.Name,
			ToolInput: b.Input,
		}
		if cb.Type == wilson.BlockToolUse && len(b.Input) > maxInputBytes {
			cb.ToolInput = json.RawMessage(fmt.Sprintf(`{"_truncated":true,"original_size":%d}`, len(b.Input)))
		}
		out = append(out, cb)
	}
	return wilson.Message{Role: wilson.RoleAssistant, Content: text, Blocks: out, Timestamp: time.Now()}
}

// toolResultMessage assembles the tool_result content blocks for blocked
// and executed calls into the user-role message the next iteration sends
// as history. Successful results carry an ephemeral cache hint.
func toolResultMessage(blocked []wilson.ContentBlock, results []tools.DispatchResult) wilson.Message {
	out := make([]wilson.ContentBlock, 0, len(blocked)+len(results))
	out = append(out, blocked...)
	for _, r := range results {
		content := r.Result.Content
		isError := !r.Result.Success
		if isError && content == "" {
			content = r.Result.Error
		}
		cb := wilson.ContentBlock{
			Type:              wilson.BlockToolResult,
			ToolResultID:      r.ToolCallID,
			ToolResultContent: content,
			IsError:           isError,
		}
		if r.Result.Success {
			cb.CacheControl = "ephemeral"
		}
		out = append(out, cb)
	}
	return wilson.Message{Role: wilson.RoleUser, Blocks: out, Timestamp: time.Now()}
}

// injectGuidance appends soft-hint and reflection messages at their
// milestone depths. Both are user-role so the model reads them as
// observations rather than its own prior output.
func injectGuidance(msgs *[]wilson.Message, depth int, hardCap int, recentTools []string) {
	if depth >= hardCap {
		return
	}
	if depth == 5 || depth == 10 {
		*msgs = append(*msgs, wilson.Message{
			Role:      wilson.RoleUser,
			Content:   fmt.Sprintf("%d tool iterations in. Wrap up with a final answer unless another tool call is strictly necessary.", depth),
			Timestamp: time.Now(),
		})
	}
	if depth%reflectionStride == 0 && len(recentTools) > 0 {
		*msgs = append(*msgs, wilson.Message{
			Role:      wilson.RoleUser,
			Content:   fmt.Sprintf("Recent tool calls: %s. Confirm this is still the right approach before continuing.", strings.Join(recentTools, ", ")),
			Timestamp: time.Now(),
		})
	}
}

func appendBounded(s []string, v string, max int) []string {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
