package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// jsonschemaReader adapts a raw JSON-Schema document to the io.Reader the
// compiler's AddResource expects.
func jsonschemaReader(raw []byte) io.Reader {
	return bytes.NewReader(raw)
}

// ToolFunc is the executor a registered tool invokes. It returns the raw
// result value on success; a non-nil error is wrapped into a
// ToolExecutionError by the tool registry, and the tool execution service
// passes that error through unchanged.
type ToolFunc func(ctx context.Context, parameters map[string]any) (any, error)

type registeredTool struct {
	schema   ToolSchema
	fn       ToolFunc
	compiled *jsonschema.Schema
}

// ToolRegistry holds named tools available to an agent: a JSON-Schema
// parameter contract plus the function that executes them. It is not
// shared across agents by default; each Orchestrator owns its own.
type ToolRegistry struct {
	mu            sync.RWMutex
	tools         map[string]*registeredTool
	allowed       map[string]struct{}
	allowedIsSet  bool
	schemaCompile *jsonschema.Compiler
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:         make(map[string]*registeredTool),
		schemaCompile: jsonschema.NewCompiler(),
	}
}

// AddTool registers schema under schema.Name with the given executor.
// Re-registering an already-known name is a no-op: the first registration
// wins. A malformed parameters schema is rejected with a ValidationError.
func (r *ToolRegistry) AddTool(schema ToolSchema, fn ToolFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[schema.Name]; exists {
		return nil
	}

	var compiled *jsonschema.Schema
	if len(schema.Parameters) > 0 {
		resource := fmt.Sprintf("tool://%s/params.json", schema.Name)
		if err := r.schemaCompile.AddResource(resource, jsonschemaReader(schema.Parameters)); err != nil {
			return NewValidationError("parameters", "invalid JSON schema", err)
		}
		s, err := r.schemaCompile.Compile(resource)
		if err != nil {
			return NewValidationError("parameters", "schema failed to compile", err)
		}
		compiled = s
	}

	r.tools[schema.Name] = &registeredTool{schema: schema, fn: fn, compiled: compiled}
	return nil
}

// RemoveTool unregisters a tool by name. Removing an unknown name is a no-op.
func (r *ToolRegistry) RemoveTool(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// GetTool returns the registered tool function for name, if any.
func (r *ToolRegistry) GetTool(name string) (ToolFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return t.fn, true
}

// GetToolSchema returns the registered schema for name, if any.
func (r *ToolRegistry) GetToolSchema(name string) (ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return ToolSchema{}, false
	}
	return t.schema, true
}

// GetTools returns the schemas of every registered tool, filtered by the
// current allowlist if one has been set via SetAllowedTools.
func (r *ToolRegistry) GetTools() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for name, t := range r.tools {
		if r.allowedIsSet {
			if _, ok := r.allowed[name]; !ok {
				continue
			}
		}
		out = append(out, t.schema)
	}
	return out
}

// HasTool reports whether name is registered (ignoring the allowlist).
func (r *ToolRegistry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// SetAllowedTools restricts both GetTools and ExecuteTool to the given
// names. Passing nil clears the restriction.
func (r *ToolRegistry) SetAllowedTools(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if names == nil {
		r.allowedIsSet = false
		r.allowed = nil
		return
	}
	r.allowedIsSet = true
	r.allowed = make(map[string]struct{}, len(names))
	for _, n := range names {
		r.allowed[n] = struct{}{}
	}
}

// ExecuteTool validates parameters against the tool's schema and invokes
// its executor. It returns ErrToolNotFound if name is unregistered or not
// in the current allowlist, a *ValidationError if parameters fail schema
// validation, or a *ToolExecutionError if the executor itself fails.
func (r *ToolRegistry) ExecuteTool(ctx context.Context, name string, parameters map[string]any) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	if ok && r.allowedIsSet {
		if _, allowed := r.allowed[name]; !allowed {
			ok = false
		}
	}
	r.mu.RUnlock()

	if !ok {
		return nil, ErrToolNotFound
	}

	if t.compiled != nil {
		// parameters originates from decoded JSON (createExecutionRequests
		// or a direct caller), so it already has the interface{} shape the
		// schema validator expects: map[string]interface{}, float64, etc.
		if err := t.compiled.Validate(map[string]any(parameters)); err != nil {
			return nil, NewValidationError("parameters", err.Error(), err)
		}
	}

	result, err := t.fn(ctx, parameters)
	if err != nil {
		return nil, NewToolExecutionError(name, "", err)
	}
	return result, nil
}
