package delegate

import (
	"context"
	"fmt"
	"time"
)

// Manager dispatches tasks to registered agents. It enforces the depth
// budget and the ancestor-chain cycle check before every dispatch; a refused
// dispatch never reaches the agent.
type Manager struct {
	registry *AgentRegistry
}

// NewManager creates a Manager over the given registry.
func NewManager(registry *AgentRegistry) *Manager {
	return &Manager{registry: registry}
}

// Registry returns the underlying agent registry.
func (m *Manager) Registry() *AgentRegistry { return m.registry }

// Dispatch selects the best agent for the task and executes it.
//
// Refusals, in check order:
//   - depth: a task with MaxDepth at zero cannot delegate further
//   - capability: no registered agent matches the required tags
//   - cycle: the selected agent already appears in the task's chain; the
//     dispatch is rejected, never rerouted to the next candidate
//
// The callee receives a copy with MaxDepth decremented and its own id
// appended to the chain. The agent's failure is returned as a failed Result
// with Err set, so callers can feed it back as conversation data.
func (m *Manager) Dispatch(ctx context.Context, task Task) (*Result, error) {
	if task.MaxDepth <= 0 {
		return nil, fmt.Errorf("%w: task %s", ErrDepthExhausted, task.ID)
	}

	agent, err := m.registry.Select(task)
	if err != nil {
		return nil, err
	}
	if task.inChain(agent.ID()) {
		return nil, fmt.Errorf("%w: agent %s already in chain %v", ErrCycleDetected, agent.ID(), task.Chain)
	}

	return m.execute(ctx, agent, task.child(agent.ID()))
}

// DispatchTo executes the task on a specific agent, bypassing scoring but
// not the depth and cycle checks.
func (m *Manager) DispatchTo(ctx context.Context, agentID string, task Task) (*Result, error) {
	if task.MaxDepth <= 0 {
		return nil, fmt.Errorf("%w: task %s", ErrDepthExhausted, task.ID)
	}
	agent, ok := m.registry.Agent(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: agent %q", ErrNoCapableAgent, agentID)
	}
	if task.inChain(agentID) {
		return nil, fmt.Errorf("%w: agent %s already in chain %v", ErrCycleDetected, agentID, task.Chain)
	}
	return m.execute(ctx, agent, task.child(agentID))
}

func (m *Manager) execute(ctx context.Context, agent Agent, task Task) (*Result, error) {
	m.registry.begin(agent.ID())
	start := time.Now()
	result, err := agent.Execute(ctx, task)
	elapsed := time.Since(start)
	m.registry.end(agent.ID(), err == nil && result != nil && result.Success)

	if err != nil {
		return &Result{
			TaskID:   task.ID,
			AgentID:  agent.ID(),
			Success:  false,
			Output:   "error: " + err.Error(),
			Duration: elapsed,
			Err:      err,
		}, nil
	}
	if result == nil {
		return nil, fmt.Errorf("delegate: agent %s returned no result for task %s", agent.ID(), task.ID)
	}
	result.TaskID = task.ID
	result.AgentID = agent.ID()
	result.Duration = elapsed
	return result, nil
}
