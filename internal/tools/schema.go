package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// compileSchema compiles and caches a tool's JSON Schema by its raw text,
// the same keyed-cache pattern used for plugin config schemas elsewhere in
// the stack.
func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiler := jsonschema.NewCompiler()
	url := "tool:" + name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateInput validates a tool call's input map against the tool's
// advertised schema (dispatcher validation step, spec §4.B.1).
func validateInput(name string, schema json.RawMessage, input map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := compileSchema(name, schema)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode tool input: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode tool input: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("input for tool %q invalid: %w", name, err)
	}
	return nil
}
