package compaction

import (
	"github.com/floradistro/wilson/pkg/wilson"
)

// WilsonCompactorConfig bounds PruneWilsonHistory's budget.
type WilsonCompactorConfig struct {
	// MaxContextTokens is the model's total context window.
	MaxContextTokens int

	// MaxHistoryShare is the fraction of MaxContextTokens history is
	// allowed to occupy, leaving the rest for the system prompt and the
	// response. Defaults to 1.0 (no reservation) when <= 0.
	MaxHistoryShare float64
}

// WilsonCompactor adapts PruneHistoryForContextShare to the agent loop's
// Compactor interface (spec §4.D), additionally enforcing the invariant
// that a tool_result message never survives pruning without the
// assistant tool_use message it answers.
type WilsonCompactor struct {
	config WilsonCompactorConfig
}

// NewWilsonCompactor builds a WilsonCompactor.
func NewWilsonCompactor(config WilsonCompactorConfig) *WilsonCompactor {
	if config.MaxHistoryShare <= 0 {
		config.MaxHistoryShare = 1.0
	}
	if config.MaxContextTokens <= 0 {
		config.MaxContextTokens = DefaultContextWindow
	}
	return &WilsonCompactor{config: config}
}

// Compact implements agentloop.Compactor.
func (c *WilsonCompactor) Compact(history []wilson.Message) []wilson.Message {
	return PruneWilsonHistory(history, c.config.MaxContextTokens, c.config.MaxHistoryShare)
}

// PruneWilsonHistory prunes history to the given token budget, keeping
// the most recent messages, then walks the cut point forward past any
// leading tool_result message whose paired tool_use message fell outside
// the kept window. PruneHistoryForContextShare always keeps a contiguous
// suffix of its input, so "paired message fell outside the window" is
// exactly "the message one position earlier is not in the kept suffix".
func PruneWilsonHistory(messages []wilson.Message, maxContextTokens int, maxHistoryShare float64) []wilson.Message {
	if len(messages) == 0 {
		return messages
	}

	result := PruneHistoryForContextShare(messages, maxContextTokens, maxHistoryShare, 0)
	cutStart := len(messages) - len(result.Messages)

	for cutStart < len(messages) && breaksToolPairing(messages, cutStart) {
		cutStart++
	}

	return messages[cutStart:]
}

// breaksToolPairing reports whether messages[idx] carries a tool_result
// block whose tool_use partner is messages[idx-1], and that partner is
// not part of the kept range (i.e. idx is the first index in the range).
func breaksToolPairing(messages []wilson.Message, idx int) bool {
	if idx == 0 || idx >= len(messages) {
		return false
	}
	msg := messages[idx]
	if msg.Role != wilson.RoleUser {
		return false
	}
	hasToolResult := false
	for _, b := range msg.Blocks {
		if b.Type == wilson.BlockToolResult {
			hasToolResult = true
			break
		}
	}
	return hasToolResult
}
