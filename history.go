package kestrel

import "sync"

// Default history ceilings. Pruning keeps the conversation under both.
const (
	DefaultMaxMessages = 50
	DefaultMaxTokens   = 100_000
)

// TokenEstimator estimates the token cost of a message for pruning purposes.
// Estimates need to be stable and cheap, not exact.
type TokenEstimator interface {
	EstimateMessage(m Message) int
}

// HeuristicEstimator approximates tokens as text length divided by four.
// It needs no model files and is the default. Use tokens.NewTiktoken for a
// model-accurate count.
type HeuristicEstimator struct{}

// EstimateMessage returns len(text)/4, minimum 1.
func (HeuristicEstimator) EstimateMessage(m Message) int {
	n := len(m.Text()) / 4
	if n < 1 {
		n = 1
	}
	return n
}

var _ TokenEstimator = HeuristicEstimator{}

// History holds the conversation and enforces message and token ceilings by
// pruning from the oldest end.
//
// Pruning is pairing-atomic: an assistant message carrying tool calls and
// the tool messages answering those calls are removed together or not at
// all. No snapshot ever contains a tool response whose originating call has
// been pruned away, or a call whose responses have.
//
// All methods are safe for concurrent use.
type History struct {
	mu          sync.Mutex
	messages    []Message
	costs       []int
	tokens      int
	maxMessages int
	maxTokens   int
	estimator   TokenEstimator
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithMaxMessages sets the message-count ceiling. Zero or negative disables
// the count ceiling.
func WithMaxMessages(n int) HistoryOption {
	return func(h *History) { h.maxMessages = n }
}

// WithMaxTokens sets the estimated-token ceiling. Zero or negative disables
// the token ceiling.
func WithMaxTokens(n int) HistoryOption {
	return func(h *History) { h.maxTokens = n }
}

// WithTokenEstimator replaces the default HeuristicEstimator.
func WithTokenEstimator(e TokenEstimator) HistoryOption {
	return func(h *History) {
		if e != nil {
			h.estimator = e
		}
	}
}

// NewHistory creates a History with the default ceilings.
func NewHistory(options ...HistoryOption) *History {
	h := &History{
		maxMessages: DefaultMaxMessages,
		maxTokens:   DefaultMaxTokens,
		estimator:   HeuristicEstimator{},
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Add appends messages and prunes if a ceiling is exceeded.
func (h *History) Add(messages ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range messages {
		cost := h.estimator.EstimateMessage(m)
		h.messages = append(h.messages, m)
		h.costs = append(h.costs, cost)
		h.tokens += cost
	}
	h.prune()
}

// Snapshot returns a copy of the current conversation, oldest first. The
// caller may hold it across provider calls without racing later Adds.
func (h *History) Snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the current message count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// EstimatedTokens returns the summed token estimate of the conversation. The
// total is maintained incrementally across Add and pruning, so the call is
// O(1).
func (h *History) EstimatedTokens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

// Clear removes all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.costs = nil
	h.tokens = 0
}

// prune drops messages from the oldest end until both ceilings hold.
// Caller holds h.mu.
func (h *History) prune() {
	for h.overCeiling() && len(h.messages) > 0 {
		drop := h.pairedPrefixLen()
		if drop >= len(h.messages) {
			// The whole conversation is one pairing unit. Dropping it all
			// would erase the active exchange, so stop here even though a
			// ceiling is still exceeded.
			return
		}
		for _, cost := range h.costs[:drop] {
			h.tokens -= cost
		}
		h.messages = h.messages[drop:]
		h.costs = h.costs[drop:]
	}
}

func (h *History) overCeiling() bool {
	if h.maxMessages > 0 && len(h.messages) > h.maxMessages {
		return true
	}
	if h.maxTokens > 0 && h.tokens > h.maxTokens {
		return true
	}
	return false
}

// pairedPrefixLen returns the length of the smallest removable prefix: the
// oldest message plus, when it opens tool calls, every consecutive tool
// message answering them.
func (h *History) pairedPrefixLen() int {
	callIDs := h.messages[0].ToolCallIDs()
	if len(callIDs) == 0 {
		return 1
	}
	unanswered := make(map[string]struct{}, len(callIDs))
	for _, id := range callIDs {
		unanswered[id] = struct{}{}
	}

	n := 1
	for n < len(h.messages) && len(unanswered) > 0 {
		responses := h.messages[n].ToolResponseIDs()
		if len(responses) == 0 {
			break
		}
		for _, id := range responses {
			delete(unanswered, id)
		}
		n++
	}
	return n
}
