package stream

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecoderPlainAnswer(t *testing.T) {
	body := "data: {\"type\":\"text\",\"text\":\"hi\"}\n" +
		"data: {\"type\":\"done\"}\n"
	d := NewDecoder(strings.NewReader(body))

	ev, ok := d.Next()
	if !ok || ev.Kind != KindText || ev.Text != "hi" {
		t.Fatalf("expected text event, got %+v ok=%v", ev, ok)
	}

	ev, ok = d.Next()
	if !ok || ev.Kind != KindDone {
		t.Fatalf("expected done event, got %+v ok=%v", ev, ok)
	}

	if _, ok := d.Next(); ok {
		t.Fatalf("expected decoder to be exhausted after done")
	}
}

func TestDecoderSkipsMalformedRecords(t *testing.T) {
	body := "data: not json\n" +
		"data: {\"type\":\"text\",\"text\":\"ok\"}\n" +
		"data: {\"type\":\"done\"}\n"
	d := NewDecoder(strings.NewReader(body))

	ev, ok := d.Next()
	if !ok || ev.Kind != KindText || ev.Text != "ok" {
		t.Fatalf("expected malformed record skipped and text event returned, got %+v ok=%v", ev, ok)
	}
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	body := "event: ping\n" +
		"\n" +
		"data: {\"type\":\"text\",\"text\":\"x\"}\n" +
		"data: {\"type\":\"done\"}\n"
	d := NewDecoder(strings.NewReader(body))
	ev, ok := d.Next()
	if !ok || ev.Kind != KindText || ev.Text != "x" {
		t.Fatalf("expected to skip non-data lines, got %+v ok=%v", ev, ok)
	}
}

func TestDecoderUnexpectedEOF(t *testing.T) {
	body := "data: {\"type\":\"text\",\"text\":\"partial\"}\n"
	d := NewDecoder(strings.NewReader(body))

	ev, ok := d.Next()
	if !ok || ev.Kind != KindText {
		t.Fatalf("expected text event first, got %+v", ev)
	}

	ev, ok = d.Next()
	if !ok || ev.Kind != KindError {
		t.Fatalf("expected synthesized error on EOF, got %+v ok=%v", ev, ok)
	}
	if ev.Err != ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", ev.Err)
	}
}

func TestDecoderToolsPending(t *testing.T) {
	body := `data: {"type":"tools_pending","content":[{"type":"text","text":"ok"},{"type":"tool_use","id":"t1","name":"Read","input":{"path":"X"}}],"tools":[{"id":"t1","name":"Read","input":{"path":"X"}}]}
data: {"type":"done"}
`
	d := NewDecoder(strings.NewReader(body))
	ev, ok := d.Next()
	if !ok || ev.Kind != KindToolsPending {
		t.Fatalf("expected tools_pending event, got %+v ok=%v", ev, ok)
	}
	if len(ev.PendingTools) != 1 || ev.PendingTools[0].Name != "Read" {
		t.Fatalf("expected one pending tool named Read, got %+v", ev.PendingTools)
	}
	if len(ev.ContentBlocks) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(ev.ContentBlocks))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []*Event{
		{Kind: KindText, Text: "hello"},
		{Kind: KindToolsPending, PendingTools: []PendingTool{{ID: "1", Name: "Read", Input: json.RawMessage(`{"path":"X"}`)}}},
		{Kind: KindUsage, Usage: Usage{InputTokens: 10, OutputTokens: 5}},
		{Kind: KindDone},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, events); err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := NewDecoder(&buf)
	var got []*Event
	for {
		ev, ok := d.Next()
		if !ok {
			break
		}
		got = append(got, ev)
		if ev.Kind == KindDone || ev.Kind == KindError {
			break
		}
	}

	if len(got) != len(events) {
		t.Fatalf("round trip length mismatch: got %d want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].Kind != events[i].Kind {
			t.Errorf("event %d: kind mismatch got %v want %v", i, got[i].Kind, events[i].Kind)
		}
	}
}
