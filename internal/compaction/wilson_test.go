package compaction

import (
	"testing"
	"time"

	"github.com/floradistro/wilson/pkg/wilson"
)

func msg(role wilson.Role, content string, blocks ...wilson.ContentBlock) wilson.Message {
	return wilson.Message{Role: role, Content: content, Blocks: blocks, Timestamp: time.Now()}
}

func TestPruneWilsonHistoryKeepsPairedToolMessages(t *testing.T) {
	history := []wilson.Message{
		msg(wilson.RoleUser, "hello"),
		msg(wilson.RoleAssistant, "", wilson.ContentBlock{Type: wilson.BlockToolUse, ToolUseID: "t1", ToolName: "read"}),
		msg(wilson.RoleUser, "", wilson.ContentBlock{Type: wilson.BlockToolResult, ToolResultID: "t1", ToolResultContent: "ok"}),
		msg(wilson.RoleAssistant, "all done"),
	}

	pruned := PruneWilsonHistory(history, 1<<20, 1.0)
	if len(pruned) != len(history) {
		t.Fatalf("expected nothing pruned when budget is huge, got %d messages", len(pruned))
	}
}

func TestPruneWilsonHistoryDropsOrphanedToolResult(t *testing.T) {
	history := []wilson.Message{
		msg(wilson.RoleUser, "hello"),
		msg(wilson.RoleAssistant, "", wilson.ContentBlock{Type: wilson.BlockToolUse, ToolUseID: "t1", ToolName: "read"}),
		msg(wilson.RoleUser, "", wilson.ContentBlock{Type: wilson.BlockToolResult, ToolResultID: "t1", ToolResultContent: "ok"}),
		msg(wilson.RoleAssistant, "all done"),
	}

	// A budget that fits only the last two messages' raw tokens would,
	// without pairing awareness, keep the tool_result but drop its
	// tool_use partner. Pick a budget between "last message only" and
	// "last three messages" so the cut naturally lands on the tool_result.
	lastTwo := EstimateTokens(&history[2]) + EstimateTokens(&history[3])

	pruned := PruneWilsonHistory(history, lastTwo, 1.0)

	for _, m := range pruned {
		for _, b := range m.Blocks {
			if b.Type == wilson.BlockToolResult {
				t.Fatalf("expected orphaned tool_result to be pruned, found one in %+v", pruned)
			}
		}
	}
}

func TestPruneWilsonHistoryEmptyInput(t *testing.T) {
	if got := PruneWilsonHistory(nil, 1000, 1.0); got != nil {
		t.Fatalf("expected nil for nil input, got %v", got)
	}
}
