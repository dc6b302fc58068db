// Package toolexec executes tool_use chunks against a registry of
// callable tools and injects the paired tool_result chunk back into the
// domain stream, synchronously from the orchestrator's point of view.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is a single callable tool. Execute must be safe to call
// concurrently with other tools (but the registry never calls the same
// Tool concurrently with itself for the same call).
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the set of tools available to a stream and validates
// arguments against each tool's declared JSON schema before dispatch.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, compiling its schema eagerly so a malformed
// schema fails at registration time rather than on the first call.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compiled, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		return fmt.Errorf("toolexec: registering %q: %w", t.Name(), err)
	}

	r.tools[t.Name()] = t
	r.schemas[t.Name()] = compiled
	return nil
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Validate checks args against name's compiled schema. A tool with no
// schema (empty Schema()) accepts any arguments. Empty args (a call
// with no input) are validated as the empty object {}.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("toolexec: %q: invalid JSON arguments: %w", name, err)
	}
	return schema.Validate(v)
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	res := fmt.Sprintf("tool://%s/schema.json", name)
	if err := compiler.AddResource(res, bytesReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(res)
}
