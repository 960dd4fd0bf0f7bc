package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/floradistro/wilson/internal/tools/policy"
	"github.com/floradistro/wilson/internal/tools/security"
	"github.com/floradistro/wilson/pkg/wilson"
)

type echoTool struct {
	name   string
	schema json.RawMessage
	fail   bool
}

func (t *echoTool) Name() string               { return t.name }
func (t *echoTool) Description() string        { return "echoes input back" }
func (t *echoTool) Schema() json.RawMessage     { return t.schema }
func (t *echoTool) Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error) {
	if t.fail {
		return &wilson.ToolResult{Success: false, Error: "boom"}, nil
	}
	return &wilson.ToolResult{Success: true, Content: "ok"}, nil
}

func newTestDispatcher(approvals *policy.ApprovalManager) (*Dispatcher, *Registry) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "read"})
	reg.Register(&echoTool{name: "exec"})
	reg.Register(&echoTool{name: "broken", fail: true})
	return NewDispatcher(reg, approvals, DefaultDispatcherConfig()), reg
}

func TestDispatchAllRunsAllowedToolSequentially(t *testing.T) {
	d, _ := newTestDispatcher(nil)
	p := policy.NewPolicyBuilder().Allow("read").Build()

	results := d.DispatchAll(context.Background(), "sess-1", p, []wilson.ToolCall{
		{ID: "1", Name: "read", Input: map[string]interface{}{"path": "a"}},
	})

	if len(results) != 1 || !results[0].Result.Success {
		t.Fatalf("expected successful read, got %+v", results)
	}
}

func TestDispatchAllDeniesPolicyDeniedTool(t *testing.T) {
	d, _ := newTestDispatcher(nil)
	p := policy.NewPolicyBuilder().Deny("read").Build()

	results := d.DispatchAll(context.Background(), "sess-2", p, []wilson.ToolCall{
		{ID: "1", Name: "read", Input: map[string]interface{}{}},
	})

	if results[0].Result.Success {
		t.Fatalf("expected denied tool to fail")
	}
}

func TestDispatchAllRoutesDangerousCommandThroughApproval(t *testing.T) {
	approvals := policy.NewApprovalManager(nil)
	d, _ := newTestDispatcher(approvals)
	p := policy.NewPolicyBuilder().Allow("exec").Build()

	approvals.TrustSession("sess-3")
	go func() {
		for {
			pending := approvals.ListPending()
			if len(pending) > 0 {
				approvals.Approve(pending[0].ID)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	results := d.DispatchAll(context.Background(), "sess-3", p, []wilson.ToolCall{
		{ID: "1", Name: "exec", Input: map[string]interface{}{"command": "rm -rf /tmp/x"}},
	})

	if !results[0].Result.Success {
		t.Fatalf("expected approved dangerous call to still execute, got %+v", results[0].Result)
	}
}

func TestDispatchAllReturnsResultNotErrorOnFailingTool(t *testing.T) {
	d, _ := newTestDispatcher(nil)
	p := policy.NewPolicyBuilder().Allow("broken").Build()

	results := d.DispatchAll(context.Background(), "sess-4", p, []wilson.ToolCall{
		{ID: "1", Name: "broken", Input: map[string]interface{}{}},
	})

	if results[0].Result.Success || results[0].Result.Error != "boom" {
		t.Fatalf("expected normalized failure result, got %+v", results[0].Result)
	}
}

func TestDispatchOneAuditsDangerousCommandRegardlessOfApproval(t *testing.T) {
	var buf bytes.Buffer
	security.SetAuditOutput(&buf)
	defer security.SetAuditOutput(os.Stderr)

	d, _ := newTestDispatcher(nil)
	p := policy.NewPolicyBuilder().Allow("exec").Build()

	d.DispatchAll(context.Background(), "sess-5", p, []wilson.ToolCall{
		{ID: "1", Name: "exec", Input: map[string]interface{}{"command": "rm -rf /tmp/x"}},
	})

	if !strings.Contains(buf.String(), "recursive_delete") {
		t.Fatalf("expected a dangerous-command audit entry, got %q", buf.String())
	}
}

func TestRiskLevelForEscalatesOnShellMetacharacters(t *testing.T) {
	if got := riskLevelFor("shell_execute", map[string]interface{}{"command": "ls -la"}); got != policy.RiskLow {
		t.Errorf("expected a plain command to be low risk, got %v", got)
	}
	if got := riskLevelFor("shell_execute", map[string]interface{}{"command": "ls | grep foo"}); got != policy.RiskMedium {
		t.Errorf("expected a piped command to be medium risk, got %v", got)
	}
	if got := riskLevelFor("shell_execute", map[string]interface{}{"command": "rm -rf /"}); got != policy.RiskCritical {
		t.Errorf("expected a dangerous-intent command to be critical risk, got %v", got)
	}
}
