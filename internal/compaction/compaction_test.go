package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/floradistro/wilson/pkg/wilson"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		msg      *wilson.Message
		expected int
	}{
		{"nil message", nil, 0},
		{"empty message", &wilson.Message{}, 0},
		{"short content", &wilson.Message{Content: "Hello"}, 2},     // 5 chars / 4 -> 2
		{"exact multiple", &wilson.Message{Content: "12345678"}, 2}, // 8 chars / 4 = 2
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.msg); got != tt.expected {
				t.Errorf("EstimateTokens() = %d, want %d", got, tt.expected)
			}
		})
	}

	t.Run("tool_use block adds tokens", func(t *testing.T) {
		bare := &wilson.Message{Content: "Hi"}
		withBlock := &wilson.Message{
			Content: "Hi",
			Blocks:  []wilson.ContentBlock{{Type: wilson.BlockToolUse, ToolName: "read"}},
		}
		if EstimateTokens(withBlock) <= EstimateTokens(bare) {
			t.Error("expected a tool_use block to increase the token estimate")
		}
	})
}

func TestEstimateMessagesTokens(t *testing.T) {
	messages := []wilson.Message{
		{Content: "Hello"},
		{Content: "World"},
		{Content: "12345678"},
	}

	if got := EstimateMessagesTokens(messages); got != 6 {
		t.Errorf("EstimateMessagesTokens() = %d, want 6", got)
	}

	if got := EstimateMessagesTokens(nil); got != 0 {
		t.Errorf("EstimateMessagesTokens(nil) = %d, want 0", got)
	}
}

func TestSplitMessagesByTokenShare(t *testing.T) {
	tests := []struct {
		name          string
		messages      []wilson.Message
		parts         int
		expectedParts int
	}{
		{"empty messages", nil, 2, 0},
		{"single message", []wilson.Message{{Content: "test"}}, 2, 1},
		{"zero parts", []wilson.Message{{Content: "test"}}, 0, 1},
		{"one part", []wilson.Message{{Content: "test"}, {Content: "test2"}}, 1, 1},
		{"fewer messages than parts", []wilson.Message{{Content: "t"}}, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitMessagesByTokenShare(tt.messages, tt.parts); len(got) != tt.expectedParts {
				t.Errorf("SplitMessagesByTokenShare() returned %d parts, want %d", len(got), tt.expectedParts)
			}
		})
	}

	t.Run("balanced split", func(t *testing.T) {
		messages := make([]wilson.Message, 10)
		for i := range messages {
			messages[i] = wilson.Message{Content: strings.Repeat("a", 40)}
		}
		result := SplitMessagesByTokenShare(messages, 2)
		if len(result) != 2 {
			t.Fatalf("expected 2 parts, got %d", len(result))
		}
		diff := len(result[0]) - len(result[1])
		if diff < -2 || diff > 2 {
			t.Errorf("unbalanced split: %d vs %d messages", len(result[0]), len(result[1]))
		}
	})
}

func TestChunkMessagesByMaxTokens(t *testing.T) {
	messages := []wilson.Message{
		{Content: strings.Repeat("a", 40)}, // ~10 tokens
		{Content: strings.Repeat("b", 40)},
		{Content: strings.Repeat("c", 400)}, // oversized, own chunk
		{Content: strings.Repeat("d", 40)},
	}

	chunks := ChunkMessagesByMaxTokens(messages, 25)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total != len(messages) {
		t.Errorf("expected all %d messages preserved across chunks, got %d", len(messages), total)
	}
}

func TestPruneHistoryForContextShareKeepsSuffix(t *testing.T) {
	messages := []wilson.Message{
		{Content: strings.Repeat("a", 400)},
		{Content: strings.Repeat("b", 400)},
		{Content: strings.Repeat("c", 40)},
	}

	result := PruneHistoryForContextShare(messages, 30, 1.0, 0)
	if len(result.Messages) == 0 {
		t.Fatal("expected at least one message to survive pruning")
	}
	if result.Messages[len(result.Messages)-1].Content != messages[len(messages)-1].Content {
		t.Error("expected the most recent message to survive pruning")
	}
	if result.DroppedMessages == 0 {
		t.Error("expected some messages to be reported dropped")
	}
}

func TestPruneHistoryForContextShareUnderBudget(t *testing.T) {
	messages := []wilson.Message{{Content: "hi"}, {Content: "there"}}

	result := PruneHistoryForContextShare(messages, 1<<20, 1.0, 0)
	if len(result.Messages) != len(messages) {
		t.Fatalf("expected nothing pruned when under budget, got %d messages", len(result.Messages))
	}
	if result.DroppedMessages != 0 {
		t.Errorf("expected DroppedMessages == 0, got %d", result.DroppedMessages)
	}
}

type stubSummarizer struct {
	calls int
}

func (s *stubSummarizer) GenerateSummary(_ context.Context, messages []wilson.Message, _ *SummarizationConfig) (string, error) {
	s.calls++
	return FormatMessagesForSummary(messages), nil
}

func TestSummarizeWithFallbackOmitsOversized(t *testing.T) {
	summarizer := &stubSummarizer{}
	messages := []wilson.Message{
		{Role: wilson.RoleUser, Content: "normal message"},
		{Role: wilson.RoleAssistant, Content: strings.Repeat("x", 1000)},
	}
	config := &SummarizationConfig{ContextWindow: 100}

	summary, err := SummarizeWithFallback(context.Background(), messages, summarizer, config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(summary, "Oversized") {
		t.Errorf("expected oversized note in summary, got %q", summary)
	}
	if summarizer.calls == 0 {
		t.Error("expected the summarizer to be invoked for the non-oversized message")
	}
}

func TestSummarizeChunksSingleChunk(t *testing.T) {
	summarizer := &stubSummarizer{}
	messages := []wilson.Message{{Role: wilson.RoleUser, Content: "hello"}}

	summary, err := SummarizeChunks(context.Background(), messages, summarizer, DefaultSummarizationConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summarizer.calls != 1 {
		t.Errorf("expected exactly one summarizer call for a single chunk, got %d", summarizer.calls)
	}
	if summary == "" {
		t.Error("expected a non-empty summary")
	}
}

func TestSummarizeChunksNilSummarizer(t *testing.T) {
	messages := []wilson.Message{{Content: "hello"}}
	if _, err := SummarizeChunks(context.Background(), messages, nil, nil); err == nil {
		t.Error("expected an error for a nil summarizer")
	}
}
