// Package tools implements the Tool Runtime (spec §4.B): a registry of
// named, schema-validated tools, a three-level permission gate backed by
// internal/tools/policy, and sequential batch execution with per-call
// timeout and retry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/floradistro/wilson/pkg/wilson"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Tool is the interface every built-in and dynamically loaded tool
// implements. Schema is advertised to the LLM and used by the dispatcher
// to validate input before Execute ever runs.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input map[string]interface{}) (*wilson.ToolResult, error)
}

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry by name, replacing any existing
// tool registered under the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, for advertising to the LLM.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute runs a tool by name with the given input, after validating
// name length and input size. It never returns a Go error for ordinary
// tool failures — those come back as *wilson.ToolResult with Success=false
// so the loop controller can feed them straight back to the model.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]interface{}) (*wilson.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &wilson.ToolResult{Success: false, Error: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)}, nil
	}
	if data, err := json.Marshal(input); err == nil && len(data) > MaxToolParamsSize {
		return &wilson.ToolResult{Success: false, Error: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)}, nil
	}

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &wilson.ToolResult{Success: false, Error: "tool not found: " + name}, nil
	}

	return t.Execute(ctx, input)
}
