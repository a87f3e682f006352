// Package toolregistry holds the named tool handlers the agent loop exposes
// to the model: unique names, human-readable descriptions, JSON-shaped
// input schemas, and concurrency-safe execute functions.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kavymi/meepo/internal/modelclient"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes one tool call given its input, returning the text result
// shown back to the model. Implementations must be safe for concurrent use.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Execute     Handler
}

// Registry holds tools by name. Registration is checked for uniqueness;
// lookups are O(1). Safe for concurrent registration and lookup, though in
// practice the registry is assembled once at startup and read-only after.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry, validating that its InputSchema is
// itself well-formed JSON Schema before accepting it — a malformed schema
// is rejected here rather than surfacing as a confusing tool-call failure
// later.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("toolregistry: tool name must not be empty")
	}
	if t.Execute == nil {
		return fmt.Errorf("toolregistry: tool %q has no execute function", t.Name)
	}
	if len(t.InputSchema) > 0 {
		if err := validateSchema(t.Name, t.InputSchema); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("toolregistry: tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

func validateSchema(name string, schema json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return fmt.Errorf("toolregistry: tool %q input schema is not valid JSON: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	resourceName := name + ".schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("toolregistry: tool %q input schema malformed: %w", name, err)
	}
	if _, err := compiler.Compile(resourceName); err != nil {
		return fmt.Errorf("toolregistry: tool %q input schema malformed: %w", name, err)
	}
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs the named tool's handler, erroring if the tool isn't
// registered.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("toolregistry: unknown tool %q", name)
	}
	return t.Execute(ctx, input)
}

// Definitions returns every registered tool's model-facing definition,
// sorted by name for deterministic prompt construction.
func (r *Registry) Definitions() []modelclient.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]modelclient.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, modelclient.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Filtered returns the model-facing definitions for only the given names,
// preserving registry order. Used to scope a sub-agent's visible tools to
// an allow-list (see internal/orchestrator). It drops no listed name
// itself: delegate_tasks is kept out only because the orchestrator's
// SanitizeAllowedTools strips it from sub-agent allow-lists beforehand.
func (r *Registry) Filtered(names []string) []modelclient.ToolDefinition {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var out []modelclient.ToolDefinition
	for _, d := range r.Definitions() {
		if allowed[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
