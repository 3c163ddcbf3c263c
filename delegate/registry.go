package delegate

import (
	"context"
	"fmt"
	"sync"
)

// Agent is one delegation target, usually an agent loop specialized by
// system prompt and tool set.
type Agent interface {
	// ID identifies the agent in chains and results.
	ID() string

	// Capabilities returns the agent's declared capability tags.
	Capabilities() []string

	// Execute resolves the task and returns its result.
	Execute(ctx context.Context, task Task) (*Result, error)
}

// AgentRegistry tracks registered agents with their rolling success rate and
// in-flight load. One mutex covers all stats; the scoring invariants
// tolerate brief serialization.
type AgentRegistry struct {
	mu      sync.Mutex
	agents  map[string]*agentEntry
	maxLoad int
}

type agentEntry struct {
	agent     Agent
	tags      map[string]struct{}
	completed int
	succeeded int
	inFlight  int
}

// NewAgentRegistry creates a registry. maxLoad is the in-flight count at
// which an agent's load term bottoms out; values below 1 default to 10.
func NewAgentRegistry(maxLoad int) *AgentRegistry {
	if maxLoad < 1 {
		maxLoad = 10
	}
	return &AgentRegistry{
		agents:  make(map[string]*agentEntry),
		maxLoad: maxLoad,
	}
}

// Register adds an agent. Registering an id twice replaces the previous
// entry and resets its stats.
func (r *AgentRegistry) Register(agent Agent) {
	tags := make(map[string]struct{})
	for _, tag := range agent.Capabilities() {
		tags[tag] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID()] = &agentEntry{agent: agent, tags: tags}
}

// Agent returns the registered agent with the given id.
func (r *AgentRegistry) Agent(id string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return entry.agent, true
}

// AgentStats is a stats snapshot for one agent.
type AgentStats struct {
	ID          string
	Completed   int
	SuccessRate float64
	InFlight    int
}

// Stats returns a snapshot for the agent with the given id.
func (r *AgentRegistry) Stats(id string) (AgentStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return AgentStats{}, fmt.Errorf("delegate: unknown agent %q", id)
	}
	return AgentStats{
		ID:          id,
		Completed:   entry.completed,
		SuccessRate: entry.successRate(),
		InFlight:    entry.inFlight,
	}, nil
}

// Select returns the highest-scoring agent for the task.
//
// Score = 0.5*capabilityMatch + 0.3*successRate + 0.2*(1-normalizedLoad),
// where capabilityMatch is the fraction of required tags the agent declares.
// Agents matching none of the required tags are not candidates. Ties break
// by agent id for determinism.
func (r *AgentRegistry) Select(task Task) (Agent, error) {
	required := task.required()

	r.mu.Lock()
	defer r.mu.Unlock()

	var best *agentEntry
	bestScore := -1.0
	bestID := ""
	for id, entry := range r.agents {
		match := entry.capabilityMatch(required)
		if match == 0 {
			continue
		}
		score := 0.5*match + 0.3*entry.successRate() + 0.2*(1-entry.normalizedLoad(r.maxLoad))
		if score > bestScore || (score == bestScore && id < bestID) {
			best, bestScore, bestID = entry, score, id
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: task type %q", ErrNoCapableAgent, task.Type)
	}
	return best.agent, nil
}

// begin marks one dispatch in flight.
func (r *AgentRegistry) begin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.agents[id]; ok {
		entry.inFlight++
	}
}

// end records the dispatch outcome into the rolling stats.
func (r *AgentRegistry) end(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[id]
	if !ok {
		return
	}
	if entry.inFlight > 0 {
		entry.inFlight--
	}
	entry.completed++
	if success {
		entry.succeeded++
	}
}

func (e *agentEntry) capabilityMatch(required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	matched := 0
	for _, tag := range required {
		if _, ok := e.tags[tag]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// successRate starts optimistic: an agent with no history scores 1.0 so new
// registrations are not starved.
func (e *agentEntry) successRate() float64 {
	if e.completed == 0 {
		return 1
	}
	return float64(e.succeeded) / float64(e.completed)
}

func (e *agentEntry) normalizedLoad(maxLoad int) float64 {
	load := float64(e.inFlight) / float64(maxLoad)
	if load > 1 {
		load = 1
	}
	return load
}
