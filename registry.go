package kestrel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrel-agents/kestrel/schema"
)

// Registry holds the tools an agent may call, keyed by unique name. It owns
// argument validation, sync/async normalization, and duration capture, so the
// Loop sees one uniform execution surface.
//
// Registration is expected at setup time; Execute may be called concurrently
// afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
}

type registration struct {
	tool     Tool
	options  ToolOptions
	compiled *schema.Compiled
	schema   ToolSchema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register adds a tool under its name. The tool's parameter schema is
// compiled here; a malformed schema fails registration, not the first call.
// Registering a name twice returns ErrToolAlreadyRegistered.
func (r *Registry) Register(tool Tool, options ToolOptions) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("kestrel: tool with empty name")
	}

	compiled, err := schema.Compile(tool.ParameterSchema())
	if err != nil {
		return fmt.Errorf("kestrel: register %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %q", ErrToolAlreadyRegistered, name)
	}
	r.entries[name] = &registration{
		tool:     tool,
		options:  options,
		compiled: compiled,
		schema: ToolSchema{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.ParameterSchema(),
		},
	}
	return nil
}

// MustRegister is like Register but panics on error. Use at setup time.
func (r *Registry) MustRegister(tool Tool, options ToolOptions) {
	if err := r.Register(tool, options); err != nil {
		panic(err)
	}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

// Options returns the execution policy for name.
func (r *Registry) Options(name string) (ToolOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return ToolOptions{}, false
	}
	return entry.options, true
}

// RequiresApproval reports whether calls to name must pass the human gate.
// Write tools always do; read-only tools only when explicitly flagged.
// Unknown names require approval, erring on the side of the gate.
func (r *Registry) RequiresApproval(name string) bool {
	options, ok := r.Options(name)
	if !ok {
		return true
	}
	return !options.ReadOnly || options.RequiresApproval
}

// Cacheable reports whether results for name may be served from cache.
// Only read-only tools are cacheable.
func (r *Registry) Cacheable(name string) bool {
	options, ok := r.Options(name)
	return ok && options.ReadOnly
}

// Schemas returns the registration records of all tools, sorted by name for
// a stable provider-facing order.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Execute runs the named tool with the given arguments and returns its
// result with Duration populated.
//
// Failure routing: an unknown tool name, invalid arguments, or a tool error
// all come back as a failed ToolResult, not a Go error. Tool failures are
// conversation data the model should see and react to; only the surrounding
// machinery (ctx cancellation mid-wait) surfaces as an error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return FailedResult(fmt.Errorf("%w: %q", ErrUnknownTool, name)), nil
	}

	if err := entry.compiled.Validate(args); err != nil {
		return FailedResult(fmt.Errorf("kestrel: invalid arguments for %q: %w", name, err)), nil
	}

	start := time.Now()
	result, err := r.invoke(ctx, entry.tool, args)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		result = FailedResult(err)
	}
	if result == nil {
		result = FailedResult(fmt.Errorf("kestrel: tool %q returned no result", name))
	}
	result.Duration = elapsed
	return result, nil
}

// invoke normalizes sync and async execution to one call convention.
func (r *Registry) invoke(ctx context.Context, tool Tool, args map[string]any) (*ToolResult, error) {
	async, ok := tool.(AsyncTool)
	if !ok {
		return tool.Call(ctx, args)
	}

	select {
	case outcome, open := <-async.CallAsync(ctx, args):
		if !open {
			return nil, fmt.Errorf("kestrel: async tool %q closed without an outcome", tool.Name())
		}
		return outcome.Result, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
