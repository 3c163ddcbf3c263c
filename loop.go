package kestrel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Loop defaults.
const (
	DefaultMaxSteps  = 50
	DefaultLoopGuard = 3
)

// ApprovalGate decides whether a proposed write-class tool call may execute.
// Decide blocks until a decision exists; the Coordinator's gate parks the
// run goroutine here while a human decides. The default gate approves
// everything, for embedding the Loop without a control surface.
type ApprovalGate interface {
	Decide(ctx context.Context, proposal ApprovalProposal) (ApprovalDecision, error)
}

// ApprovalProposal describes one gated tool call.
type ApprovalProposal struct {
	CallID       string
	ToolName     string
	Arguments    map[string]any
	RawArguments string
}

// ApprovalDecision is the outcome of a gate check.
type ApprovalDecision struct {
	Approved bool
	Reason   string
}

// AutoApproveGate approves every proposal without blocking.
type AutoApproveGate struct{}

// Decide always approves.
func (AutoApproveGate) Decide(context.Context, ApprovalProposal) (ApprovalDecision, error) {
	return ApprovalDecision{Approved: true}, nil
}

var _ ApprovalGate = AutoApproveGate{}

// LoopHooks are optional callbacks invoked synchronously as the loop runs.
// Nil fields are skipped. The Coordinator installs hooks to translate loop
// activity into run events.
type LoopHooks struct {
	// OnStep fires after each provider response, before tool execution.
	OnStep func(step int, resp *GenerateResponse)

	// OnToolResult fires once per executed or cache-served tool call, in
	// issue order, after the whole batch has completed.
	OnToolResult func(step int, call ToolCallRequest, result *ToolResult)

	// OnAssistantDelta fires for each streamed text fragment. Setting it
	// enables streaming when the provider supports it.
	OnAssistantDelta func(delta string)
}

// RunStats aggregates per-run execution counters.
type RunStats struct {
	Steps        int `json:"steps"`
	ToolCalls    int `json:"tool_calls"`
	CacheHits    int `json:"cache_hits"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (s *RunStats) addUsage(u Usage) {
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.TotalTokens += u.TotalTokens
}

// LoopResult is the outcome of one completed loop execution.
type LoopResult struct {
	// FinalText is the assistant's terminating text response. Empty when the
	// run resolved through a rejection.
	FinalText string

	// Rejected is true when an operator rejected a proposed tool call. The
	// run still counts as completed; RejectReason carries the explanation.
	Rejected     bool
	RejectReason string

	Stats RunStats
}

// Loop drives one conversation to completion: provider call, tool batch,
// history append, repeat, until a text-only response or a policy stop.
//
// Construction is builder-style:
//
//	loop := kestrel.NewLoop(provider, registry).
//	    WithSystemPrompt("You are a research assistant.").
//	    WithCache(kestrel.NewResultCache(0)).
//	    WithRetry(kestrel.DefaultRetryConfig())
//	result, err := loop.Run(ctx, "find recent papers on X")
//
// A Loop is not safe for concurrent Run calls; give each session its own.
type Loop struct {
	provider Provider
	registry *Registry
	history  *History
	cache    *ResultCache
	gate     ApprovalGate
	hooks    LoopHooks
	retry    RetryConfig

	systemPrompt string
	maxSteps     int
	guardN       int
	maxTokens    int
	temperature  float64

	stats RunStats
}

// NewLoop creates a Loop with default policies: fresh history, no cache,
// auto-approve gate, default retry, 50-step ceiling, guard at 3.
func NewLoop(provider Provider, registry *Registry) *Loop {
	return &Loop{
		provider:    provider,
		registry:    registry,
		history:     NewHistory(),
		gate:        AutoApproveGate{},
		retry:       DefaultRetryConfig(),
		maxSteps:    DefaultMaxSteps,
		guardN:      DefaultLoopGuard,
		temperature: -1,
	}
}

// WithHistory replaces the conversation buffer. Use to share history across
// runs of the same session.
func (l *Loop) WithHistory(h *History) *Loop {
	if h != nil {
		l.history = h
	}
	return l
}

// WithCache installs a ResultCache for read-only tool calls.
func (l *Loop) WithCache(c *ResultCache) *Loop {
	l.cache = c
	return l
}

// WithGate replaces the approval gate.
func (l *Loop) WithGate(g ApprovalGate) *Loop {
	if g != nil {
		l.gate = g
	}
	return l
}

// WithHooks installs loop callbacks.
func (l *Loop) WithHooks(hooks LoopHooks) *Loop {
	l.hooks = hooks
	return l
}

// WithRetry replaces the provider retry policy.
func (l *Loop) WithRetry(config RetryConfig) *Loop {
	l.retry = config
	return l
}

// WithSystemPrompt sets the system prompt sent on every provider call.
func (l *Loop) WithSystemPrompt(prompt string) *Loop {
	l.systemPrompt = prompt
	return l
}

// WithMaxSteps sets the hard step ceiling.
func (l *Loop) WithMaxSteps(n int) *Loop {
	if n > 0 {
		l.maxSteps = n
	}
	return l
}

// WithLoopGuard sets how many consecutive identical single-call steps
// trigger the guard.
func (l *Loop) WithLoopGuard(n int) *Loop {
	if n > 0 {
		l.guardN = n
	}
	return l
}

// WithMaxTokens caps provider response length.
func (l *Loop) WithMaxTokens(n int) *Loop {
	l.maxTokens = n
	return l
}

// WithTemperature sets the sampling temperature.
func (l *Loop) WithTemperature(t float64) *Loop {
	l.temperature = t
	return l
}

// History returns the loop's conversation buffer.
func (l *Loop) History() *History { return l.history }

// Stats returns the counters accumulated by the last Run.
func (l *Loop) Stats() RunStats { return l.stats }

// Run drives the conversation until a text-only response, a rejection, a
// guard stop, or an error. The input is appended as a user message first.
//
// Interruption is cooperative: ctx cancellation is observed before and after
// each provider call and tool batch, never mid-execution.
func (l *Loop) Run(ctx context.Context, input string) (*LoopResult, error) {
	l.stats = RunStats{}
	l.history.Add(UserMessage(input))

	lastSignature := ""
	repeats := 0

	for step := 1; ; step++ {
		if step > l.maxSteps {
			return nil, fmt.Errorf("%w: %d steps", ErrStepLimitExceeded, l.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := l.generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("kestrel: step %d: %w", step, err)
		}
		l.stats.Steps = step
		l.stats.addUsage(resp.Usage)
		if l.hooks.OnStep != nil {
			l.hooks.OnStep(step, resp)
		}

		if len(resp.ToolCalls) == 0 {
			l.history.Add(AssistantMessage(resp.Text))
			return &LoopResult{FinalText: resp.Text, Stats: l.stats}, nil
		}

		// Guard against runaway repetition: a step consisting solely of the
		// same single (tool, arguments) call as the previous step.
		signature := batchSignature(resp.ToolCalls)
		if signature != "" && signature == lastSignature {
			repeats++
		} else {
			repeats = 1
		}
		lastSignature = signature
		if signature != "" && repeats >= l.guardN {
			return nil, fmt.Errorf("%w: %q repeated %d times", ErrLoopGuardTriggered, resp.ToolCalls[0].Name, repeats)
		}

		l.history.Add(AssistantToolCallMessage(resp.Text, resp.ToolCalls))

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		responses, rejection, err := l.runBatch(ctx, step, resp.ToolCalls)
		if err != nil {
			return nil, err
		}
		l.history.Add(responses...)

		if rejection != "" {
			return &LoopResult{Rejected: true, RejectReason: rejection, Stats: l.stats}, nil
		}
	}
}

// generate performs one provider call under the retry policy, streaming when
// the provider and hooks support it.
func (l *Loop) generate(ctx context.Context) (*GenerateResponse, error) {
	req := GenerateRequest{
		Messages:     l.history.Snapshot(),
		Tools:        l.registry.Schemas(),
		SystemPrompt: l.systemPrompt,
		MaxTokens:    l.maxTokens,
		Temperature:  l.temperature,
	}

	streaming, ok := l.provider.(StreamingProvider)
	if !ok || l.hooks.OnAssistantDelta == nil {
		return Retry(ctx, l.retry, func(ctx context.Context) (*GenerateResponse, error) {
			return l.provider.Generate(ctx, req)
		})
	}

	return Retry(ctx, l.retry, func(ctx context.Context) (*GenerateResponse, error) {
		stream, err := streaming.GenerateStream(ctx, req)
		if err != nil {
			return nil, err
		}
		// Deltas are held until the attempt succeeds. Flushing per chunk
		// would replay text the consumer already saw when a mid-stream
		// transient failure forces a retry.
		var deltas []string
		for chunk := range stream.Chunks() {
			if chunk.Type == ChunkTextDelta && chunk.Text != "" {
				deltas = append(deltas, chunk.Text)
			}
		}
		resp, err := stream.Response()
		if err != nil {
			return nil, err
		}
		for _, delta := range deltas {
			l.hooks.OnAssistantDelta(delta)
		}
		return resp, nil
	})
}

// callOutcome tracks one call through the batch.
type callOutcome struct {
	call     ToolCallRequest
	result   *ToolResult
	cacheKey string
	execute  bool
	rejected bool
	skipped  bool
	reason   string
}

// runBatch resolves one step's tool calls: gate checks in issue order, then
// concurrent execution of eligible calls, then tool messages in issue order.
//
// A rejection stops the step: calls not yet gated are skipped, nothing more
// executes, and the returned reason resolves the run. Skipped and rejected
// calls still get tool messages so no call in history is left unanswered.
func (l *Loop) runBatch(ctx context.Context, step int, calls []ToolCallRequest) ([]Message, string, error) {
	outcomes := make([]callOutcome, len(calls))
	rejection := ""

	for i, call := range calls {
		outcomes[i].call = call
		if rejection != "" {
			outcomes[i].skipped = true
			continue
		}
		if !l.registry.RequiresApproval(call.Name) {
			outcomes[i].execute = true
			continue
		}
		decision, err := l.gate.Decide(ctx, ApprovalProposal{
			CallID:       call.ID,
			ToolName:     call.Name,
			Arguments:    call.Arguments,
			RawArguments: call.RawArguments,
		})
		if err != nil {
			return nil, "", err
		}
		if decision.Approved {
			outcomes[i].execute = true
			continue
		}
		rejection = decision.Reason
		if rejection == "" {
			rejection = "rejected by operator"
		}
		outcomes[i].rejected = true
		outcomes[i].reason = rejection
	}

	// Serve cache hits before spending any execution.
	for i := range outcomes {
		o := &outcomes[i]
		if !o.execute || l.cache == nil || !l.registry.Cacheable(o.call.Name) {
			continue
		}
		key, err := CacheKey(o.call.Name, o.call.Arguments)
		if err != nil {
			continue
		}
		o.cacheKey = key
		if cached, ok := l.cache.Get(key); ok {
			o.result = cached
			o.execute = false
			l.stats.CacheHits++
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := range outcomes {
		o := &outcomes[i]
		if !o.execute {
			continue
		}
		group.Go(func() error {
			result, err := l.registry.Execute(groupCtx, o.call.Name, o.call.Arguments)
			if err != nil {
				// Execute only errors on ctx cancellation.
				return err
			}
			o.result = result
			if o.cacheKey != "" {
				ttl := DefaultCacheTTL
				if options, ok := l.registry.Options(o.call.Name); ok && options.CacheTTL > 0 {
					ttl = options.CacheTTL
				}
				l.cache.Put(o.cacheKey, result, ttl)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, "", err
	}

	messages := make([]Message, 0, len(outcomes))
	for _, o := range outcomes {
		switch {
		case o.result != nil:
			l.stats.ToolCalls++
			if l.hooks.OnToolResult != nil {
				l.hooks.OnToolResult(step, o.call, o.result)
			}
			messages = append(messages, ToolResponseMessage(o.call.ID, o.call.Name, o.result.Output))
		case o.rejected:
			messages = append(messages, ToolResponseMessage(o.call.ID, o.call.Name, "not executed: "+o.reason))
		case o.skipped:
			messages = append(messages, ToolResponseMessage(o.call.ID, o.call.Name, "not executed: run ended by rejection"))
		}
	}
	return messages, rejection, nil
}

// batchSignature canonicalizes a single-call step for the loop guard.
// Multi-call steps return "" and never count toward the guard.
func batchSignature(calls []ToolCallRequest) string {
	if len(calls) != 1 {
		return ""
	}
	canonical, err := canonicalJSON(calls[0].Arguments)
	if err != nil {
		return ""
	}
	return calls[0].Name + "\x00" + canonical
}
