package kestrel

import (
	"context"
	"time"
)

// Tool is the single capability interface every registered tool implements.
//
// Responsibility design:
//   - Tool: accept validated arguments, execute logic, return a ToolResult
//   - Registry: validate arguments against the schema, normalize sync/async
//     execution, measure duration
//
// Tools never see unvalidated arguments: the Registry rejects calls whose
// arguments fail the tool's parameter schema before Call is reached.
type Tool interface {
	// Name returns the tool's identifier used in tool calls.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// ParameterSchema returns the JSON Schema for the tool's parameters.
	// Returns nil if the tool takes no parameters.
	ParameterSchema() map[string]any

	// Call executes the tool with the given validated arguments.
	Call(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// AsyncTool is implemented by tools whose work completes on a channel rather
// than a return value. The Registry detects it and waits for the outcome, so
// the Loop sees one uniform call convention either way.
type AsyncTool interface {
	Tool

	// CallAsync starts the tool and returns a channel that delivers exactly
	// one outcome, then closes. Implementations must honor ctx cancellation
	// by delivering a failed outcome.
	CallAsync(ctx context.Context, args map[string]any) <-chan AsyncOutcome
}

// AsyncOutcome is the single value delivered by an AsyncTool.
type AsyncOutcome struct {
	Result *ToolResult
	Err    error
}

// ToolResult is the outcome of one tool invocation. It is produced once per
// call and consumed by the Loop to build the next tool message.
type ToolResult struct {
	// Success reports whether the tool completed without error.
	Success bool

	// Output is the text fed back into the conversation.
	Output string

	// Error holds the failure when Success is false. Tool failures are
	// conversation data, not loop failures: the model sees them and reacts.
	Error error

	// Data optionally carries structured output for programmatic callers.
	Data map[string]any

	// Duration is how long the call took. Set by the Registry.
	Duration time.Duration

	// Tokens optionally reports the token count of Output, when the tool
	// computes one.
	Tokens int

	// Cached is true when the result was served from the ResultCache.
	Cached bool

	// Retries is the number of retries the call consumed, for tools that
	// retry internally. The runtime itself never retries tool execution.
	Retries int
}

// ToolOptions declares the static execution policy for a registered tool.
// Eligibility is tool-scoped: it never varies per call.
type ToolOptions struct {
	// ReadOnly marks the tool as free of side effects. Read-only tools are
	// cacheable and never require human approval.
	ReadOnly bool

	// CacheTTL is how long results stay valid in the ResultCache.
	// Ignored unless ReadOnly is true. Zero means DefaultCacheTTL.
	CacheTTL time.Duration

	// RequiresApproval forces the human gate even for tools the caller
	// considers read-only. Write tools (ReadOnly == false) always require
	// approval regardless of this flag.
	RequiresApproval bool
}

// ToolSchema is the immutable registration record the Registry exposes to
// providers. Owned by the Registry; never mutated after registration.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolFunc adapts a plain function into a Tool.
type ToolFunc struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// NewToolFunc creates a Tool from a function. The schema describes the
// function's parameters as a JSON Schema map; use the schema subpackage
// builders to construct one.
func NewToolFunc(
	name, description string,
	schema map[string]any,
	fn func(ctx context.Context, args map[string]any) (*ToolResult, error),
) *ToolFunc {
	return &ToolFunc{
		name:        name,
		description: description,
		schema:      schema,
		fn:          fn,
	}
}

// Name returns the tool's identifier.
func (t *ToolFunc) Name() string { return t.name }

// Description returns a human-readable description for the LLM.
func (t *ToolFunc) Description() string { return t.description }

// ParameterSchema returns the JSON Schema for the tool's parameters.
func (t *ToolFunc) ParameterSchema() map[string]any { return t.schema }

// Call executes the wrapped function.
func (t *ToolFunc) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	return t.fn(ctx, args)
}

var _ Tool = (*ToolFunc)(nil)

// TextResult builds a successful ToolResult with the given output text.
func TextResult(output string) *ToolResult {
	return &ToolResult{Success: true, Output: output}
}

// FailedResult builds a failed ToolResult carrying err. The error text is
// also placed in Output so the model can read it.
func FailedResult(err error) *ToolResult {
	out := ""
	if err != nil {
		out = "error: " + err.Error()
	}
	return &ToolResult{Success: false, Output: out, Error: err}
}
