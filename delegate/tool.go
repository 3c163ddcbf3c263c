package delegate

import (
	"context"
	"fmt"

	"github.com/kestrel-agents/kestrel"
	"github.com/kestrel-agents/kestrel/schema"
)

// DefaultMaxDepth is the delegation budget given to root tasks created by
// the tool adapter.
const DefaultMaxDepth = 3

// ToolAdapter exposes delegation as an ordinary registry tool, so the agent
// loop needs no special case for multi-agent mode. The model calls
// "delegate" like any other tool; the result of the sub-agent comes back as
// tool output.
//
// Each adapter belongs to one agent: its owner id and inherited chain seed
// every dispatched task, which is what makes the cycle check effective
// across nested loops.
type ToolAdapter struct {
	manager  *Manager
	ownerID  string
	chain    []string
	maxDepth int
}

// NewToolAdapter creates the delegation tool for the agent with ownerID.
func NewToolAdapter(manager *Manager, ownerID string) *ToolAdapter {
	return &ToolAdapter{
		manager:  manager,
		ownerID:  ownerID,
		maxDepth: DefaultMaxDepth,
	}
}

// WithChain seeds the ancestor chain, for adapters built inside a delegated
// loop. Returns the adapter for chaining.
func (t *ToolAdapter) WithChain(chain []string) *ToolAdapter {
	t.chain = append([]string(nil), chain...)
	return t
}

// WithMaxDepth sets the depth budget for root tasks. Returns the adapter
// for chaining.
func (t *ToolAdapter) WithMaxDepth(n int) *ToolAdapter {
	if n > 0 {
		t.maxDepth = n
	}
	return t
}

// Name implements kestrel.Tool.
func (t *ToolAdapter) Name() string { return "delegate" }

// Description implements kestrel.Tool.
func (t *ToolAdapter) Description() string {
	return "Delegate a sub-task to a specialized agent. Use when the task " +
		"requires a capability you do not have. Returns the agent's answer."
}

// ParameterSchema implements kestrel.Tool.
func (t *ToolAdapter) ParameterSchema() map[string]any {
	return schema.Object(map[string]*schema.Property{
		"task_type":   schema.String("Capability the sub-task requires, e.g. \"research\" or \"code\""),
		"description": schema.String("Complete instruction for the target agent"),
	}, "task_type", "description")
}

// Call implements kestrel.Tool. Refusals (cycle, depth, no capable agent)
// come back as failed results so the model can replan instead of crashing
// the loop.
func (t *ToolAdapter) Call(ctx context.Context, args map[string]any) (*kestrel.ToolResult, error) {
	taskType, _ := args["task_type"].(string)
	description, _ := args["description"].(string)

	task := NewTask(taskType, description, t.maxDepth)
	task.Chain = append([]string(nil), t.chain...)
	if !task.inChain(t.ownerID) {
		task.Chain = append(task.Chain, t.ownerID)
	}

	result, err := t.manager.Dispatch(ctx, task)
	if err != nil {
		return kestrel.FailedResult(fmt.Errorf("delegation refused: %w", err)), nil
	}
	if !result.Success {
		return kestrel.FailedResult(fmt.Errorf("agent %s failed: %s", result.AgentID, result.Output)), nil
	}
	return &kestrel.ToolResult{
		Success: true,
		Output:  result.Output,
		Data: map[string]any{
			"task_id":  result.TaskID,
			"agent_id": result.AgentID,
		},
	}, nil
}

var _ kestrel.Tool = (*ToolAdapter)(nil)
