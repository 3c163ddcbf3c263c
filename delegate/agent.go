package delegate

import (
	"context"

	"github.com/kestrel-agents/kestrel"
)

// FuncAgent adapts a plain function into an Agent.
type FuncAgent struct {
	id           string
	capabilities []string
	fn           func(ctx context.Context, task Task) (*Result, error)
}

// NewFuncAgent creates an Agent from a function.
func NewFuncAgent(id string, capabilities []string, fn func(ctx context.Context, task Task) (*Result, error)) *FuncAgent {
	return &FuncAgent{id: id, capabilities: capabilities, fn: fn}
}

// ID returns the agent id.
func (a *FuncAgent) ID() string { return a.id }

// Capabilities returns the declared capability tags.
func (a *FuncAgent) Capabilities() []string { return a.capabilities }

// Execute runs the wrapped function.
func (a *FuncAgent) Execute(ctx context.Context, task Task) (*Result, error) {
	return a.fn(ctx, task)
}

var _ Agent = (*FuncAgent)(nil)

// LoopAgent runs each task through a fresh agent loop. The factory is
// called per task, so concurrent dispatches never share a loop; give the
// factory its own provider, registry, and system prompt specialization.
//
// When the loop's registry carries a delegation tool, further hops continue
// the same chain and depth budget: the tool adapter is seeded from the task.
type LoopAgent struct {
	id           string
	capabilities []string
	newLoop      func(task Task) *kestrel.Loop
}

// NewLoopAgent creates a LoopAgent.
func NewLoopAgent(id string, capabilities []string, newLoop func(task Task) *kestrel.Loop) *LoopAgent {
	return &LoopAgent{id: id, capabilities: capabilities, newLoop: newLoop}
}

// ID returns the agent id.
func (a *LoopAgent) ID() string { return a.id }

// Capabilities returns the declared capability tags.
func (a *LoopAgent) Capabilities() []string { return a.capabilities }

// Execute drives the task description through a fresh loop. Loop failures
// come back as a failed Result; the delegating agent sees them as ordinary
// tool output.
func (a *LoopAgent) Execute(ctx context.Context, task Task) (*Result, error) {
	loop := a.newLoop(task)
	result, err := loop.Run(ctx, task.Description)
	if err != nil {
		return nil, err
	}
	output := result.FinalText
	if result.Rejected {
		output = "not completed: " + result.RejectReason
	}
	return &Result{
		Success: !result.Rejected,
		Output:  output,
		Metadata: map[string]any{
			"steps":      result.Stats.Steps,
			"tool_calls": result.Stats.ToolCalls,
		},
	}, nil
}

var _ Agent = (*LoopAgent)(nil)
