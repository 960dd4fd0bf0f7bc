// Package stream implements the Stream Decoder: a lazy, single-use parser
// that turns a byte stream of "data: <json>\n" SSE-style records into a
// typed sequence of Events.
//
// The line-splitting and "data:"-prefix handling is a plain low-level SSE
// line reader; the Anthropic backend (internal/llm/anthropic) writes its
// translated records in this format. Everything above the raw line
// parser — the event union, the tools_pending contract, malformed-record
// tolerance — is specific to Wilson's backend protocol.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindText         Kind = "text"
	KindTool         Kind = "tool"
	KindToolsPending Kind = "tools_pending"
	KindToolResult   Kind = "tool_result"
	KindUsage        Kind = "usage"
	KindError        Kind = "error"
	KindDone         Kind = "done"
)

// ToolAnnouncement is a partial tool-call progress update (Kind ==
// KindTool). Input may be incomplete JSON as it streams in.
type ToolAnnouncement struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// PendingTool is one fully-formed tool invocation request, as carried by a
// tools_pending event.
type PendingTool struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ContentBlockRecord is the wire shape of a content block inside a raw
// record (text or tool_use); it mirrors wilson.ContentBlock's wire tags.
type ContentBlockRecord struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ServerToolResult is a tool_result event emitted when the backend executed
// a tool on the client's behalf.
type ServerToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Usage carries running token counters.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is one decoded record from the stream.
type Event struct {
	Kind Kind

	Text string

	Tool *ToolAnnouncement

	// ContentBlocks is the complete assistant content (text + tool_use
	// blocks) accompanying a tools_pending event.
	ContentBlocks []ContentBlockRecord
	PendingTools  []PendingTool

	ToolResult *ServerToolResult

	Usage Usage

	Err error
}

// rawRecord is the on-wire envelope: {"type": "<kind>", ...fields}.
type rawRecord struct {
	Type          string               `json:"type"`
	Text          string               `json:"text"`
	Tool          *ToolAnnouncement    `json:"tool"`
	ContentBlocks []ContentBlockRecord `json:"content"`
	Tools         []PendingTool        `json:"tools"`
	ToolResult    *ServerToolResult    `json:"tool_result"`
	Usage         Usage                `json:"usage"`
	Error         string               `json:"error"`
}

// ErrUnexpectedEOF is returned by Decoder.Next when the underlying stream
// closes without a terminal done or error record (spec §8 boundary
// behavior).
var ErrUnexpectedEOF = errors.New("stream: unexpected EOF before done or error")

// Decoder is a lazy, single-use, finite sequence over Events. Call Next
// repeatedly until it returns (nil, io.EOF)-equivalent: the decoder instead
// always surfaces a terminal KindDone or KindError event, then subsequent
// calls return (nil, false).
type Decoder struct {
	scanner    *bufio.Scanner
	done       bool
	sawDataBuf strings.Builder
}

// NewDecoder wraps r, treating it as a sequence of SSE-style "data: <json>"
// lines. Lines not prefixed with "data:" (comments, blank separators, other
// SSE fields) are ignored, matching the upstream client's tolerance.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{scanner: sc}
}

// Next returns the next decoded event. Malformed JSON records are skipped
// silently per spec §4.A, and Next advances to the following line instead
// of surfacing an error. Once a KindDone or KindError event has been
// returned, every subsequent call returns (nil, false). If the underlying
// reader is exhausted without ever producing a done or error record, Next
// synthesizes a single KindError event wrapping ErrUnexpectedEOF.
func (d *Decoder) Next() (*Event, bool) {
	if d.done {
		return nil, false
	}

	for d.scanner.Scan() {
		line := d.scanner.Text()
		payload, ok := cutDataLine(line)
		if !ok {
			continue
		}
		if payload == "" {
			continue
		}

		var rec rawRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// Malformed record: skip silently, keep reading.
			continue
		}

		ev := decodeRecord(&rec)
		if ev.Kind == KindDone || ev.Kind == KindError {
			d.done = true
		}
		return ev, true
	}

	// Reader exhausted. If we never saw a terminal record, the contract
	// says treat it as error("unexpected EOF").
	d.done = true
	if err := d.scanner.Err(); err != nil {
		return &Event{Kind: KindError, Err: err}, true
	}
	return &Event{Kind: KindError, Err: ErrUnexpectedEOF}, true
}

// cutDataLine extracts the payload of a "data: ..." line. Lines like
// "event: ...", "id: ...", "retry: ...", or blank keepalive lines are not
// data lines and are reported as such via ok=false.
func cutDataLine(line string) (payload string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(line, prefix)
	return strings.TrimSpace(rest), true
}

func decodeRecord(rec *rawRecord) *Event {
	switch Kind(rec.Type) {
	case KindText:
		return &Event{Kind: KindText, Text: rec.Text}
	case KindTool:
		return &Event{Kind: KindTool, Tool: rec.Tool}
	case KindToolsPending:
		return &Event{
			Kind:          KindToolsPending,
			ContentBlocks: rec.ContentBlocks,
			PendingTools:  rec.Tools,
		}
	case KindToolResult:
		return &Event{Kind: KindToolResult, ToolResult: rec.ToolResult}
	case KindUsage:
		return &Event{Kind: KindUsage, Usage: rec.Usage}
	case KindError:
		return &Event{Kind: KindError, Err: errors.New(rec.Error)}
	case KindDone:
		return &Event{Kind: KindDone, Usage: rec.Usage}
	default:
		// Unknown discriminator: treat as a safely-ignored no-op text
		// event with no text, matching DESIGN NOTES' "unknown tags" rule.
		return &Event{Kind: KindText, Text: ""}
	}
}

// Encode is the canonical encoder used to round-trip test the decoder
// (spec §8 "decode(encode(events)) == events"). It writes events back out
// in the same "data: <json>\n" framing Next consumes.
func Encode(w io.Writer, events []*Event) error {
	for _, ev := range events {
		rec := encodeEvent(ev)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, "data: "+string(data)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func encodeEvent(ev *Event) rawRecord {
	rec := rawRecord{Type: string(ev.Kind)}
	switch ev.Kind {
	case KindText:
		rec.Text = ev.Text
	case KindTool:
		rec.Tool = ev.Tool
	case KindToolsPending:
		rec.ContentBlocks = ev.ContentBlocks
		rec.Tools = ev.PendingTools
	case KindToolResult:
		rec.ToolResult = ev.ToolResult
	case KindUsage:
		rec.Usage = ev.Usage
	case KindError:
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
	case KindDone:
		rec.Usage = ev.Usage
	}
	return rec
}
