package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/floradistro/wilson/internal/tools/policy"
	"github.com/floradistro/wilson/internal/tools/security"
	"github.com/floradistro/wilson/pkg/wilson"
)

// DispatcherConfig configures per-call timeout and retry behavior for
// sequential tool batch execution.
type DispatcherConfig struct {
	// PerCallTimeout bounds a single tool invocation. Default: 30s.
	PerCallTimeout time.Duration

	// MaxAttempts is the number of attempts per call, including the first.
	// Default: 1 (no retry).
	MaxAttempts int

	// RetryBackoff waits between attempts.
	RetryBackoff time.Duration
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PerCallTimeout: 30 * time.Second,
		MaxAttempts:    1,
	}
}

// Dispatcher is the Tool Runtime's entry point (spec §4.B): it validates
// input against each tool's schema, classifies the call through the
// permission gate, routes ask-gated and dangerous-intent calls through the
// approval workflow, and executes the resulting batch sequentially so that
// permission prompts and shared state (e.g. a todo list) observe calls in
// the order the model issued them.
type Dispatcher struct {
	registry  *Registry
	resolver  *policy.Resolver
	approvals *policy.ApprovalManager
	config    DispatcherConfig
}

// NewDispatcher builds a Dispatcher. approvals may be nil, in which case
// DecisionAsk calls are denied outright rather than prompted (no approval
// workflow wired up).
func NewDispatcher(registry *Registry, approvals *policy.ApprovalManager, config DispatcherConfig) *Dispatcher {
	if config.PerCallTimeout <= 0 {
		config.PerCallTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Dispatcher{
		registry:  registry,
		resolver:  policy.NewResolver(),
		approvals: approvals,
		config:    config,
	}
}

// DispatchResult is the outcome of one tool call after passing through the
// permission gate and execution.
type DispatchResult struct {
	ToolCallID string
	ToolName   string
	Result     *wilson.ToolResult
	Duration   time.Duration
	Attempts   int
}

// DispatchAll runs every call in calls in order, one at a time. A call that
// requires approval blocks the rest of the batch until it is decided; a
// denied or failed call still yields a ToolResult (never a Go error) so the
// agent loop can feed it straight back into the conversation.
func (d *Dispatcher) DispatchAll(ctx context.Context, sessionID string, p *policy.Policy, calls []wilson.ToolCall) []DispatchResult {
	results := make([]DispatchResult, len(calls))
	for i, call := range calls {
		results[i] = d.dispatchOne(ctx, sessionID, p, call)
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sessionID string, p *policy.Policy, call wilson.ToolCall) DispatchResult {
	start := time.Now()
	name := d.resolver.CanonicalName(call.Name)

	decision := d.resolver.Classify(p, name)
	if decision == policy.DecisionDeny {
		return DispatchResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     &wilson.ToolResult{Success: false, Error: fmt.Sprintf("tool %q denied by policy", name)},
			Duration:   time.Since(start),
			Attempts:   0,
		}
	}

	tool, ok := d.registry.Get(name)
	if !ok {
		return DispatchResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     &wilson.ToolResult{Success: false, Error: "tool not found: " + name},
			Duration:   time.Since(start),
		}
	}

	if err := validateInput(name, tool.Schema(), call.Input); err != nil {
		return DispatchResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     &wilson.ToolResult{Success: false, Error: err.Error()},
			Duration:   time.Since(start),
		}
	}

	risk := riskLevelFor(name, call.Input)
	if risk == policy.RiskCritical {
		auditDangerousCall(name, sessionID, call.Input)
	}
	needsAsk := decision == policy.DecisionAsk || risk == policy.RiskHigh || risk == policy.RiskCritical

	if needsAsk && d.approvals != nil {
		if err := d.awaitApproval(ctx, name, call.Input, sessionID, risk); err != nil {
			return DispatchResult{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Result:     &wilson.ToolResult{Success: false, Error: err.Error()},
				Duration:   time.Since(start),
			}
		}
	} else if needsAsk {
		return DispatchResult{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     &wilson.ToolResult{Success: false, Error: fmt.Sprintf("tool %q requires approval but no approval workflow is configured", name)},
			Duration:   time.Since(start),
		}
	}

	result, attempts := d.executeWithRetry(contextWithSessionID(ctx, sessionID), tool, call)
	return DispatchResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Result:     result,
		Duration:   time.Since(start),
		Attempts:   attempts,
	}
}

// awaitApproval drives a single call through the approval workflow to
// completion, blocking until it is approved, denied, or expires.
func (d *Dispatcher) awaitApproval(ctx context.Context, name string, input map[string]interface{}, sessionID string, risk policy.RiskLevel) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode tool input for approval: %w", err)
	}

	err = d.approvals.CheckApproval(name, string(inputJSON), sessionID, risk)
	if err == nil {
		return nil
	}
	if !errors.Is(err, policy.ErrApprovalRequired) {
		return err
	}

	requestID := strings.TrimPrefix(err.Error(), policy.ErrApprovalRequired.Error()+": request_id=")
	return d.approvals.WaitForApproval(ctx, requestID)
}

func (d *Dispatcher) executeWithRetry(ctx context.Context, tool Tool, call wilson.ToolCall) (*wilson.ToolResult, int) {
	var result *wilson.ToolResult
	attempts := 0

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		attempts = attempt
		result = d.executeOnce(ctx, tool, call)
		if result.Success {
			break
		}
		if attempt < d.config.MaxAttempts {
			if d.config.RetryBackoff > 0 {
				select {
				case <-time.After(d.config.RetryBackoff):
				case <-ctx.Done():
					return &wilson.ToolResult{Success: false, Error: "tool execution canceled"}, attempts
				}
			}
		}
	}
	return result, attempts
}

// timeoutOverrider is implemented by tools that manage their own
// request-scoped deadline (e.g. shell_execute's 2min default/10min max)
// and need the dispatcher's generic per-call timeout to stand aside
// rather than pre-empt it.
type timeoutOverrider interface {
	DispatchTimeout() time.Duration
}

func (d *Dispatcher) executeOnce(ctx context.Context, tool Tool, call wilson.ToolCall) *wilson.ToolResult {
	timeout := d.config.PerCallTimeout
	if to, ok := tool.(timeoutOverrider); ok {
		if t := to.DispatchTimeout(); t > timeout {
			timeout = t
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execOutcome struct {
		result *wilson.ToolResult
		err    error
	}
	done := make(chan execOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execOutcome{err: fmt.Errorf("tool %q panicked: %v", tool.Name(), r)}
			}
		}()
		res, err := tool.Execute(callCtx, call.Input)
		done <- execOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return &wilson.ToolResult{Success: false, Error: out.err.Error()}
		}
		return out.result
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return &wilson.ToolResult{Success: false, Error: "tool execution canceled"}
		}
		return &wilson.ToolResult{Success: false, Error: fmt.Sprintf("tool %q timed out after %s", tool.Name(), timeout)}
	}
}

// auditDangerousCall writes an audit log entry for every command-shaped
// input field on call that matched a dangerous-intent pattern, regardless
// of the process's configured log level (spec §7).
func auditDangerousCall(toolName, sessionID string, input map[string]interface{}) {
	for _, key := range []string{"command", "cmd", "script", "query"} {
		v, ok := input[key]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			security.Audit(toolName, sessionID, s)
		}
	}
}

// riskLevelFor derives a RiskLevel from any string-valued input field that
// plausibly carries a shell command (shell tools put it in "command" or
// "cmd"; other tools rarely trigger a match at all). A phrase-level
// dangerous-intent match is always critical; failing that, quote-aware
// shell-metacharacter analysis (chaining, piping, redirection, subshells,
// backgrounding) raises the risk to medium rather than passing the command
// through as low risk.
func riskLevelFor(name string, input map[string]interface{}) policy.RiskLevel {
	highest := policy.RiskLow
	for _, key := range []string{"command", "cmd", "script", "query"} {
		v, ok := input[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if security.HasDangerousIntent(s) {
			return policy.RiskCritical
		}
		if !security.IsSafeCommand(s) {
			highest = policy.RiskMedium
		}
	}
	return highest
}
