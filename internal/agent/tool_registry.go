package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during agent conversations.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name, after validating that
// its declared parameter schema itself compiles as JSON Schema. A tool
// whose schema fails to compile is rejected rather than silently admitted,
// since a malformed schema would otherwise surface as a confusing failure
// the first time the LLM calls it. A tool with no schema at all (legacy
// tools, test doubles) is admitted without parameter validation.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) error {
	raw := tool.Schema()
	var compiled *jsonschema.Schema
	if len(raw) > 0 {
		var err error
		compiled, err = compileToolSchema(tool.Name(), raw)
		if err != nil {
			return fmt.Errorf("register tool %q: %w", tool.Name(), err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.compiled[tool.Name()] = compiled
	return nil
}

// MustRegister registers a tool and panics if its schema is invalid. Meant
// for startup wiring where an invalid built-in tool schema is a programming
// error, not a runtime condition to recover from.
func (r *ToolRegistry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	schema, err := jsonschema.CompileString("tool://"+name, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateParams checks params against the tool's compiled parameter
// schema, if one was recorded at registration time. Tools registered
// without going through Register (e.g. test doubles) are not validated.
func (r *ToolRegistry) ValidateParams(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.compiled[name]
	r.mu.RUnlock()
	if !ok || schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("invalid JSON parameters: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("parameters do not match schema: %w", err)
	}
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found or parameters are invalid.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	// Validate tool name
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}

	// Validate params size
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	if err := r.ValidateParams(name, params); err != nil {
		return &ToolResult{
			Content: err.Error(),
			IsError: true,
		}, nil
	}
	return tool.Execute(ctx, params)
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}
