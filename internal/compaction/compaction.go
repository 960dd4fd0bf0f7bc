// Package compaction prunes and summarizes wilson.Message history so the
// token estimate sent to the backend stays under the agent loop's budget
// (spec §4.D): token estimation, token-balanced splitting for parallel
// summarization, chunked/staged summarization with an oversized-message
// fallback, and context-share pruning that never breaks a tool_use/
// tool_result pairing.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/floradistro/wilson/pkg/wilson"
)

const (
	// BaseChunkRatio is the default ratio of context window for chunk sizing.
	BaseChunkRatio = 0.4

	// MinChunkRatio is the minimum ratio to prevent overly small chunks.
	MinChunkRatio = 0.15

	// SafetyMargin provides a 20% buffer for token estimation inaccuracy.
	SafetyMargin = 1.2

	// DefaultSummaryFallback is returned when there's no prior history to summarize.
	DefaultSummaryFallback = "No prior history."

	// DefaultParts is the default number of parts for multi-stage summarization.
	DefaultParts = 2

	// OversizedThreshold is the fraction of context window above which a single
	// message is considered too large to summarize (50%).
	OversizedThreshold = 0.5

	// CharsPerToken is the approximate character-to-token ratio for estimation.
	CharsPerToken = 4

	// DefaultContextWindow is the fallback context window size in tokens.
	DefaultContextWindow = 100000

	// DefaultMinMessagesForSplit is the minimum messages needed before splitting.
	DefaultMinMessagesForSplit = 4
)

// EstimateTokens estimates a message's token count with a ~4-characters-
// per-token heuristic over its text content plus its serialized tool_use
// and tool_result blocks.
func EstimateTokens(msg *wilson.Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content)
	for _, b := range msg.Blocks {
		if b.Type != wilson.BlockToolUse && b.Type != wilson.BlockToolResult {
			continue
		}
		if data, err := json.Marshal(b); err == nil {
			chars += len(data)
		}
	}
	return (chars + CharsPerToken - 1) / CharsPerToken // Ceiling division
}

// EstimateMessagesTokens estimates total tokens across all messages.
func EstimateMessagesTokens(messages []wilson.Message) int {
	total := 0
	for i := range messages {
		total += EstimateTokens(&messages[i])
	}
	return total
}

// SplitMessagesByTokenShare splits messages into N parts with roughly equal
// token counts, for balanced parallel summarization. The input order is
// preserved: each part is a contiguous slice of messages.
func SplitMessagesByTokenShare(messages []wilson.Message, parts int) [][]wilson.Message {
	if len(messages) == 0 {
		return nil
	}
	if parts <= 0 {
		parts = DefaultParts
	}
	if parts == 1 || len(messages) < parts {
		return [][]wilson.Message{messages}
	}

	totalTokens := EstimateMessagesTokens(messages)
	targetPerPart := totalTokens / parts

	result := make([][]wilson.Message, 0, parts)
	start := 0
	currentTokens := 0

	for i := range messages {
		currentTokens += EstimateTokens(&messages[i])

		remainingParts := parts - len(result) - 1
		isLastMessage := i == len(messages)-1

		if !isLastMessage && remainingParts > 0 && currentTokens >= targetPerPart {
			result = append(result, messages[start:i+1])
			start = i + 1
			currentTokens = 0
		}
	}

	if start < len(messages) {
		result = append(result, messages[start:])
	}

	return result
}

// ChunkMessagesByMaxTokens splits messages into chunks where each chunk does
// not exceed maxTokens, preserving input order.
func ChunkMessagesByMaxTokens(messages []wilson.Message, maxTokens int) [][]wilson.Message {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]wilson.Message{messages}
	}

	result := make([][]wilson.Message, 0)
	start := 0
	currentTokens := 0

	for i := range messages {
		msgTokens := EstimateTokens(&messages[i])

		// If a single message exceeds maxTokens, it gets its own chunk.
		if msgTokens > maxTokens {
			if i > start {
				result = append(result, messages[start:i])
			}
			result = append(result, messages[i:i+1])
			start = i + 1
			currentTokens = 0
			continue
		}

		if currentTokens+msgTokens > maxTokens && i > start {
			result = append(result, messages[start:i])
			start = i
			currentTokens = 0
		}

		currentTokens += msgTokens
	}

	if start < len(messages) {
		result = append(result, messages[start:])
	}

	return result
}

// ComputeAdaptiveChunkRatio computes chunk ratio based on average message
// size. When messages are large, smaller chunks avoid exceeding model limits.
func ComputeAdaptiveChunkRatio(messages []wilson.Message, contextWindow int) float64 {
	if len(messages) == 0 || contextWindow <= 0 {
		return BaseChunkRatio
	}

	totalTokens := EstimateMessagesTokens(messages)
	avgTokensPerMsg := float64(totalTokens) / float64(len(messages))
	windowRatio := avgTokensPerMsg / float64(contextWindow)

	// Scale down ratio for larger messages: as messages get larger relative
	// to context, use smaller chunks.
	ratio := BaseChunkRatio * (1 - windowRatio*SafetyMargin)
	if ratio < MinChunkRatio {
		ratio = MinChunkRatio
	}
	if ratio > BaseChunkRatio {
		ratio = BaseChunkRatio
	}

	return ratio
}

// IsOversizedForSummary returns true if a single message is too large to
// summarize: it exceeds 50% of the context window.
func IsOversizedForSummary(msg *wilson.Message, contextWindow int) bool {
	if msg == nil || contextWindow <= 0 {
		return false
	}
	msgTokens := EstimateTokens(msg)
	threshold := float64(contextWindow) * OversizedThreshold
	return float64(msgTokens) > threshold
}

// SummarizationConfig configures a summarization pass.
type SummarizationConfig struct {
	// Model is the LLM model identifier to use for summarization.
	Model string

	// APIKey is the API key for the LLM provider.
	APIKey string

	// ReserveTokens is the number of tokens to reserve for the response.
	ReserveTokens int

	// MaxChunkTokens is the maximum tokens per chunk for summarization.
	MaxChunkTokens int

	// ContextWindow is the total context window size in tokens.
	ContextWindow int

	// CustomInstructions are additional instructions for the summarizer.
	CustomInstructions string

	// PreviousSummary is the previous summary to build upon.
	PreviousSummary string

	// Parts is the number of parts for multi-stage summarization.
	Parts int

	// MinMessagesForSplit is the minimum messages required before splitting.
	MinMessagesForSplit int
}

// DefaultSummarizationConfig returns a config with sensible defaults.
func DefaultSummarizationConfig() *SummarizationConfig {
	return &SummarizationConfig{
		ReserveTokens:       2000,
		MaxChunkTokens:      20000,
		ContextWindow:       DefaultContextWindow,
		Parts:               DefaultParts,
		MinMessagesForSplit: DefaultMinMessagesForSplit,
	}
}

// Summarizer generates a synopsis of a run of wilson.Message history.
type Summarizer interface {
	GenerateSummary(ctx context.Context, messages []wilson.Message, config *SummarizationConfig) (string, error)
}

// SummarizeChunks summarizes messages in chunks, then merges the chunk
// summaries into one.
func SummarizeChunks(ctx context.Context, messages []wilson.Message, summarizer Summarizer, config *SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("summarizer is nil")
	}
	if config == nil {
		config = DefaultSummarizationConfig()
	}

	maxChunkTokens := config.MaxChunkTokens
	if maxChunkTokens <= 0 {
		maxChunkTokens = int(float64(config.ContextWindow) * BaseChunkRatio)
	}

	chunks := ChunkMessagesByMaxTokens(messages, maxChunkTokens)
	if len(chunks) == 0 {
		return DefaultSummaryFallback, nil
	}

	if len(chunks) == 1 {
		return summarizer.GenerateSummary(ctx, chunks[0], config)
	}

	chunkSummaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := summarizer.GenerateSummary(ctx, chunk, config)
		if err != nil {
			return "", fmt.Errorf("summarizing chunk %d: %w", i, err)
		}
		chunkSummaries = append(chunkSummaries, summary)
	}

	return mergeSummaries(ctx, chunkSummaries, summarizer, config)
}

// mergeSummaries combines multiple chunk summaries into a final summary.
func mergeSummaries(ctx context.Context, summaries []string, summarizer Summarizer, config *SummarizationConfig) (string, error) {
	if len(summaries) == 0 {
		return DefaultSummaryFallback, nil
	}
	if len(summaries) == 1 {
		return summaries[0], nil
	}

	// Synthetic messages carrying each chunk's summary for the merge pass.
	// These never reach the backend directly, only this package's own
	// Summarizer implementation.
	mergeMessages := make([]wilson.Message, len(summaries))
	for i, s := range summaries {
		mergeMessages[i] = wilson.Message{
			Role:    wilson.RoleAssistant,
			Content: fmt.Sprintf("Chunk %d summary:\n%s", i+1, s),
		}
	}

	mergeConfig := *config
	mergeConfig.CustomInstructions = "Merge these chunk summaries into a single coherent summary. Preserve key details and maintain chronological flow."
	if config.CustomInstructions != "" {
		mergeConfig.CustomInstructions = config.CustomInstructions + "\n\n" + mergeConfig.CustomInstructions
	}

	return summarizer.GenerateSummary(ctx, mergeMessages, &mergeConfig)
}

// SummarizeWithFallback tries full summarization, falling back to noting
// oversized messages instead of failing on them.
func SummarizeWithFallback(ctx context.Context, messages []wilson.Message, summarizer Summarizer, config *SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("summarizer is nil")
	}
	if config == nil {
		config = DefaultSummarizationConfig()
	}

	var normal []wilson.Message
	var oversizedNotes []string

	for i := range messages {
		if IsOversizedForSummary(&messages[i], config.ContextWindow) {
			note := fmt.Sprintf("[Oversized %s message with %d tokens - content omitted]",
				messages[i].Role, EstimateTokens(&messages[i]))
			oversizedNotes = append(oversizedNotes, note)
		} else {
			normal = append(normal, messages[i])
		}
	}

	var summary string
	var err error
	if len(normal) > 0 {
		summary, err = SummarizeChunks(ctx, normal, summarizer, config)
		if err != nil {
			return "", fmt.Errorf("summarizing normal messages: %w", err)
		}
	} else {
		summary = DefaultSummaryFallback
	}

	if len(oversizedNotes) > 0 {
		summary = summary + "\n\n" + strings.Join(oversizedNotes, "\n")
	}

	return summary, nil
}

// SummarizeInStages splits messages into parts, summarizes each, then
// merges, for long histories that benefit from parallel processing.
func SummarizeInStages(ctx context.Context, messages []wilson.Message, summarizer Summarizer, config *SummarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}
	if summarizer == nil {
		return "", fmt.Errorf("summarizer is nil")
	}
	if config == nil {
		config = DefaultSummarizationConfig()
	}

	parts := config.Parts
	if parts <= 0 {
		parts = DefaultParts
	}

	minMessages := config.MinMessagesForSplit
	if minMessages <= 0 {
		minMessages = DefaultMinMessagesForSplit
	}

	if len(messages) < minMessages {
		return SummarizeWithFallback(ctx, messages, summarizer, config)
	}

	partitions := SplitMessagesByTokenShare(messages, parts)
	if len(partitions) <= 1 {
		return SummarizeWithFallback(ctx, messages, summarizer, config)
	}

	partSummaries := make([]string, 0, len(partitions))
	for i, partition := range partitions {
		summary, err := SummarizeWithFallback(ctx, partition, summarizer, config)
		if err != nil {
			return "", fmt.Errorf("summarizing part %d: %w", i, err)
		}
		partSummaries = append(partSummaries, summary)
	}

	if config.PreviousSummary != "" && config.PreviousSummary != DefaultSummaryFallback {
		partSummaries = append([]string{config.PreviousSummary}, partSummaries...)
	}

	return mergeSummaries(ctx, partSummaries, summarizer, config)
}

// PruneResult reports the outcome of a pruning pass.
type PruneResult struct {
	// Messages is the pruned message list.
	Messages []wilson.Message

	// DroppedChunks is the number of token-share chunks entirely dropped.
	DroppedChunks int

	// DroppedMessages is the total number of messages dropped.
	DroppedMessages int

	// DroppedTokens is the estimated tokens dropped.
	DroppedTokens int

	// KeptTokens is the estimated tokens kept.
	KeptTokens int

	// BudgetTokens is the token budget that was used.
	BudgetTokens int
}

// PruneHistoryForContextShare prunes history to fit within a token budget,
// keeping the most recent messages. The kept messages are always a
// contiguous suffix of the input.
func PruneHistoryForContextShare(messages []wilson.Message, maxContextTokens int, maxHistoryShare float64, parts int) *PruneResult {
	result := &PruneResult{
		Messages:     messages,
		BudgetTokens: maxContextTokens,
	}

	if len(messages) == 0 || maxContextTokens <= 0 {
		return result
	}

	if maxHistoryShare <= 0 || maxHistoryShare > 1 {
		maxHistoryShare = 1.0
	}

	budgetTokens := int(float64(maxContextTokens) * maxHistoryShare)
	result.BudgetTokens = budgetTokens

	totalTokens := EstimateMessagesTokens(messages)
	if totalTokens <= budgetTokens {
		result.KeptTokens = totalTokens
		return result
	}

	// Walk backwards from the most recent message, keeping a contiguous
	// suffix until the budget would be exceeded.
	keptTokens := 0
	cutStart := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := EstimateTokens(&messages[i])
		if keptTokens+msgTokens > budgetTokens {
			break
		}
		keptTokens += msgTokens
		cutStart = i
	}

	droppedCount := cutStart
	droppedTokens := totalTokens - keptTokens

	// A token-share chunk counts as dropped only if every message in it
	// falls before cutStart; chunks are contiguous and ordered, so this is
	// a simple index comparison rather than per-message identity checks.
	droppedChunks := 0
	if parts > 0 && droppedCount > 0 {
		idx := 0
		for _, chunk := range SplitMessagesByTokenShare(messages, parts) {
			if idx+len(chunk) <= cutStart {
				droppedChunks++
			}
			idx += len(chunk)
		}
	}

	result.Messages = messages[cutStart:]
	result.DroppedChunks = droppedChunks
	result.DroppedMessages = droppedCount
	result.DroppedTokens = droppedTokens
	result.KeptTokens = keptTokens

	return result
}

// ResolveContextWindowTokens resolves context window size with fallback.
func ResolveContextWindowTokens(modelContextWindow, defaultContextWindow int) int {
	if modelContextWindow > 0 {
		return modelContextWindow
	}
	if defaultContextWindow > 0 {
		return defaultContextWindow
	}
	return DefaultContextWindow
}

// FormatMessagesForSummary formats messages into a string suitable for
// feeding to a Summarizer.
func FormatMessagesForSummary(messages []wilson.Message) string {
	var sb strings.Builder

	for i := range messages {
		msg := &messages[i]

		sb.WriteString(fmt.Sprintf("[%s]: ", msg.Role))
		sb.WriteString(msg.Content)

		for _, b := range msg.Blocks {
			switch b.Type {
			case wilson.BlockToolUse:
				sb.WriteString(fmt.Sprintf("\n  [Tool call %s: %s]", b.ToolName, truncateString(string(b.ToolInput), 200)))
			case wilson.BlockToolResult:
				sb.WriteString(fmt.Sprintf("\n  [Tool result: %s]", truncateString(b.ToolResultContent, 200)))
			}
		}

		sb.WriteString("\n\n")
	}

	return sb.String()
}

// truncateString truncates a string to maxLen with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
