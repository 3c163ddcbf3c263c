// Package delegate routes sub-tasks across multiple agent loop instances
// with capability-scored selection, cycle protection, and a depth budget.
package delegate

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Typed refusals. Delegation is refused synchronously, never executed and
// never crashed.
var (
	// ErrCycleDetected is returned when the selected agent already appears
	// in the task's ancestor chain.
	ErrCycleDetected = errors.New("delegate: cycle detected")

	// ErrDepthExhausted is returned when a task's delegation depth budget
	// reaches zero.
	ErrDepthExhausted = errors.New("delegate: delegation depth exhausted")

	// ErrNoCapableAgent is returned when no registered agent declares the
	// capabilities the task requires.
	ErrNoCapableAgent = errors.New("delegate: no capable agent")
)

// Task is one unit of delegated work. Never mutated after dispatch: the
// Manager hands each callee a copy with the depth decremented and the chain
// extended.
type Task struct {
	// ID identifies the task across the delegation tree.
	ID string `json:"id"`

	// Type is the primary capability the task requires.
	Type string `json:"type"`

	// Description is the free-text instruction for the target agent.
	Description string `json:"description"`

	// Parameters carries structured inputs.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Context is the shared context blob passed down the chain.
	Context map[string]any `json:"context,omitempty"`

	// Capabilities lists required capability tags beyond Type. Empty means
	// Type alone.
	Capabilities []string `json:"capabilities,omitempty"`

	// ParentID is the delegating task's id, empty at the root.
	ParentID string `json:"parent_id,omitempty"`

	// MaxDepth is the remaining delegation budget. A task holding zero must
	// resolve locally or fail.
	MaxDepth int `json:"max_depth"`

	// Chain lists the agent ids visited so far, root first. Carried by
	// value; the cycle check walks it before every dispatch.
	Chain []string `json:"chain,omitempty"`
}

// NewTask creates a root task with a fresh id and the given depth budget.
func NewTask(taskType, description string, maxDepth int) Task {
	return Task{
		ID:          uuid.NewString(),
		Type:        taskType,
		Description: description,
		MaxDepth:    maxDepth,
	}
}

// required returns the capability tags the task demands.
func (t Task) required() []string {
	if len(t.Capabilities) > 0 {
		return t.Capabilities
	}
	return []string{t.Type}
}

// inChain reports whether agentID already appears in the ancestor chain.
func (t Task) inChain(agentID string) bool {
	for _, id := range t.Chain {
		if id == agentID {
			return true
		}
	}
	return false
}

// child returns the copy handed to agentID: depth decremented, chain
// extended, parent recorded. The receiver is untouched.
func (t Task) child(agentID string) Task {
	chain := make([]string, len(t.Chain), len(t.Chain)+1)
	copy(chain, t.Chain)
	out := t
	out.Chain = append(chain, agentID)
	out.MaxDepth = t.MaxDepth - 1
	return out
}

// Result is returned up the delegation chain. Immutable once produced.
type Result struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Success bool   `json:"success"`
	Output  string `json:"output"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// SubResults holds results of further delegation performed by the
	// responding agent.
	SubResults []*Result `json:"sub_results,omitempty"`

	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}
