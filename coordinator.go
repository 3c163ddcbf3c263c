package kestrel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrel-agents/kestrel/internal/queue"
)

// Coordinator wraps agent-loop executions as addressable, cancellable,
// human-gated runs. It owns sessions; each session owns its conversation
// history, its run log, and its event stream.
//
//	coord := kestrel.NewCoordinator(provider, registry).
//	    WithCache(kestrel.NewResultCache(0))
//	session := coord.OpenSession()
//	sub := session.Subscribe()
//	runID, err := session.SubmitMessage("deploy the staging build")
//	for event := range sub.Events() {
//	    // render; approve/reject when a tool_call_proposed arrives
//	}
type Coordinator struct {
	provider     Provider
	registry     *Registry
	cache        *ResultCache
	retry        RetryConfig
	clock        Clock
	systemPrompt string
	maxSteps     int
	guardN       int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCoordinator creates a Coordinator with default policies.
func NewCoordinator(provider Provider, registry *Registry) *Coordinator {
	return &Coordinator{
		provider: provider,
		registry: registry,
		retry:    DefaultRetryConfig(),
		clock:    SystemClock{},
		maxSteps: DefaultMaxSteps,
		guardN:   DefaultLoopGuard,
		sessions: make(map[string]*Session),
	}
}

// WithCache installs a shared ResultCache for read-only tool calls.
func (c *Coordinator) WithCache(cache *ResultCache) *Coordinator {
	c.cache = cache
	return c
}

// WithRetry replaces the provider retry policy.
func (c *Coordinator) WithRetry(config RetryConfig) *Coordinator {
	c.retry = config
	return c
}

// WithClock replaces the system clock, for deterministic timestamps in
// tests.
func (c *Coordinator) WithClock(clock Clock) *Coordinator {
	if clock != nil {
		c.clock = clock
	}
	return c
}

// WithSystemPrompt sets the system prompt for every run.
func (c *Coordinator) WithSystemPrompt(prompt string) *Coordinator {
	c.systemPrompt = prompt
	return c
}

// WithMaxSteps sets the per-run step ceiling.
func (c *Coordinator) WithMaxSteps(n int) *Coordinator {
	if n > 0 {
		c.maxSteps = n
	}
	return c
}

// WithLoopGuard sets the repeated-call guard threshold.
func (c *Coordinator) WithLoopGuard(n int) *Coordinator {
	if n > 0 {
		c.guardN = n
	}
	return c
}

// OpenSession creates a session with a fresh history and event log.
func (c *Coordinator) OpenSession() *Session {
	s := &Session{
		id:          uuid.NewString(),
		coord:       c,
		history:     NewHistory(),
		runs:        make(map[string]*Run),
		approvals:   make(map[string]*approvalState),
		subscribers: make(map[*queue.Queue[Event]]struct{}),
	}
	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()
	return s
}

// Session returns the session with the given id.
func (c *Coordinator) Session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// Approve decides the approval with the given id, whichever session owns it.
func (c *Coordinator) Approve(approvalID string) error {
	s, err := c.sessionForApproval(approvalID)
	if err != nil {
		return err
	}
	return s.Approve(approvalID)
}

// Reject decides the approval with the given id, whichever session owns it.
func (c *Coordinator) Reject(approvalID, reason string) error {
	s, err := c.sessionForApproval(approvalID)
	if err != nil {
		return err
	}
	return s.Reject(approvalID, reason)
}

// Interrupt requests cancellation of the run with the given id, whichever
// session owns it. Returns the run's status after the request.
func (c *Coordinator) Interrupt(runID string) (RunStatus, error) {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()
	for _, s := range sessions {
		if _, err := s.Run(runID); err == nil {
			return s.Interrupt(runID)
		}
	}
	return "", fmt.Errorf("%w: %q", ErrRunNotFound, runID)
}

func (c *Coordinator) sessionForApproval(approvalID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		s.mu.Lock()
		_, ok := s.approvals[approvalID]
		s.mu.Unlock()
		if ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrApprovalNotFound, approvalID)
}

// Session is one conversation: a shared history, at most one active run at a
// time, and an ordered event log fanned out to subscribers.
//
// All run-state mutations are serialized through the session mutex; the
// event id counter lives under the same mutex, so the log order and the id
// order always agree.
type Session struct {
	id    string
	coord *Coordinator

	history *History

	mu          sync.Mutex
	nextEventID uint64
	events      []Event
	runs        map[string]*Run
	approvals   map[string]*approvalState
	active      *activeRun
	subscribers map[*queue.Queue[Event]]struct{}
	closed      bool
}

type activeRun struct {
	run       *Run
	cancel    context.CancelFunc
	interrupt chan struct{}
}

type approvalState struct {
	approval *Approval
	decision chan ApprovalDecision
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// History returns the session's conversation buffer.
func (s *Session) History() *History { return s.history }

// SubmitMessage starts a run for the given user message and returns its run
// id immediately; the run executes on its own goroutine. Submitting while
// the current run is not terminal returns ErrSessionBusy.
func (s *Session) SubmitMessage(text string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: session closed", ErrSessionNotFound)
	}
	if s.active != nil && !s.active.run.Status.Terminal() {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: run %s is %s", ErrSessionBusy, s.active.run.ID, s.active.run.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Status:    RunQueued,
		Input:     text,
		StartedAt: s.coord.clock.Now(),
	}
	active := &activeRun{run: run, cancel: cancel, interrupt: make(chan struct{})}
	s.runs[run.ID] = run
	s.active = active
	s.mu.Unlock()

	go s.execute(ctx, active, text)
	return run.ID, nil
}

// Run returns a snapshot of the run with the given id.
func (s *Session) Run(runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	return *run, nil
}

// Approval returns a snapshot of the approval with the given id.
func (s *Session) Approval(approvalID string) (Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.approvals[approvalID]
	if !ok {
		return Approval{}, fmt.Errorf("%w: %q", ErrApprovalNotFound, approvalID)
	}
	return *state.approval, nil
}

// PendingApprovals returns snapshots of all undecided approvals.
func (s *Session) PendingApprovals() []Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Approval
	for _, state := range s.approvals {
		if state.approval.Status == ApprovalPending {
			out = append(out, *state.approval)
		}
	}
	return out
}

// Approve consumes the approval, resuming its parked run with the proposed
// tool call approved. A second decision returns ErrApprovalDecided.
func (s *Session) Approve(approvalID string) error {
	return s.decide(approvalID, ApprovalDecision{Approved: true})
}

// Reject consumes the approval. The parked run resumes and resolves to
// completed carrying the rejection reason; the proposed tool call never
// executes.
func (s *Session) Reject(approvalID, reason string) error {
	if reason == "" {
		reason = "rejected by operator"
	}
	return s.decide(approvalID, ApprovalDecision{Approved: false, Reason: reason})
}

func (s *Session) decide(approvalID string, decision ApprovalDecision) error {
	s.mu.Lock()
	state, ok := s.approvals[approvalID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrApprovalNotFound, approvalID)
	}
	if state.approval.Status != ApprovalPending {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrApprovalDecided, approvalID, state.approval.Status)
	}
	if decision.Approved {
		state.approval.Status = ApprovalApproved
	} else {
		state.approval.Status = ApprovalRejected
		state.approval.Reason = decision.Reason
	}
	state.approval.DecidedAt = s.coord.clock.Now()
	s.mu.Unlock()

	// Buffered channel: delivery never blocks, even if the run stopped
	// listening because an interrupt won the race.
	state.decision <- decision
	return nil
}

// Interrupt requests cooperative cancellation of the run. Terminal runs are
// left alone and their current status returned. The run observes the signal
// at its next suspension point; in-flight work may still emit a few events
// before the terminal run_interrupted appears.
func (s *Session) Interrupt(runID string) (RunStatus, error) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	if run.Status.Terminal() || run.Status == RunInterrupting {
		status := run.Status
		s.mu.Unlock()
		return status, nil
	}
	run.Status = RunInterrupting
	active := s.active
	s.mu.Unlock()

	if active != nil && active.run.ID == runID {
		close(active.interrupt)
		active.cancel()
	}
	return RunInterrupting, nil
}

// Events returns a copy of the session's event log.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Subscribe returns a live event subscription. Events recorded before the
// subscription are not replayed; read them from Events.
func (s *Session) Subscribe() *Subscription {
	q := queue.New[Event]()
	s.mu.Lock()
	if s.closed {
		q.Close()
	} else {
		s.subscribers[q] = struct{}{}
	}
	s.mu.Unlock()
	return &Subscription{session: s, queue: q}
}

// Close ends the session: subscribers' channels close once drained. The
// event log and run snapshots stay readable.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subscribers := s.subscribers
	s.subscribers = make(map[*queue.Queue[Event]]struct{})
	s.mu.Unlock()
	for q := range subscribers {
		q.Close()
	}
}

// Subscription is a live feed of session events.
type Subscription struct {
	session *Session
	queue   *queue.Queue[Event]
}

// Events returns the event channel. It closes when the subscription or the
// session closes, after buffered events are drained.
func (sub *Subscription) Events() <-chan Event { return sub.queue.Out() }

// Close detaches the subscription.
func (sub *Subscription) Close() {
	sub.session.mu.Lock()
	delete(sub.session.subscribers, sub.queue)
	sub.session.mu.Unlock()
	sub.queue.Close()
}

// record appends an event and fans it out. Caller holds s.mu.
func (s *Session) record(runID string, eventType EventType, payload map[string]any) {
	s.nextEventID++
	event := Event{
		EventID:   s.nextEventID,
		SessionID: s.id,
		RunID:     runID,
		Type:      eventType,
		Timestamp: s.coord.clock.Now(),
		Payload:   payload,
	}
	s.events = append(s.events, event)
	for q := range s.subscribers {
		q.Push(event)
	}
}

// execute drives one run on its own goroutine.
func (s *Session) execute(ctx context.Context, active *activeRun, input string) {
	run := active.run

	s.mu.Lock()
	if run.Status == RunQueued {
		run.Status = RunRunning
	}
	s.record(run.ID, EventRunStarted, map[string]any{"input": input})
	s.mu.Unlock()

	c := s.coord
	loop := NewLoop(c.provider, c.registry).
		WithHistory(s.history).
		WithCache(c.cache).
		WithRetry(c.retry).
		WithSystemPrompt(c.systemPrompt).
		WithMaxSteps(c.maxSteps).
		WithLoopGuard(c.guardN).
		WithGate(&sessionGate{session: s, active: active}).
		WithHooks(LoopHooks{
			OnToolResult: func(step int, call ToolCallRequest, result *ToolResult) {
				s.mu.Lock()
				s.record(run.ID, EventToolResult, map[string]any{
					"call_id":     call.ID,
					"tool_name":   call.Name,
					"output":      result.Output,
					"success":     result.Success,
					"cached":      result.Cached,
					"duration_ms": result.Duration.Milliseconds(),
				})
				s.mu.Unlock()
			},
			OnAssistantDelta: func(delta string) {
				s.mu.Lock()
				s.record(run.ID, EventAssistantDelta, map[string]any{"text": delta})
				s.mu.Unlock()
			},
		})

	result, err := loop.Run(ctx, input)
	s.finish(active, result, loop.Stats(), err)
}

// finish applies the terminal transition and emits the single terminal
// event.
func (s *Session) finish(active *activeRun, result *LoopResult, stats RunStats, err error) {
	run := active.run
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Status.Terminal() {
		return
	}

	run.Stats = stats
	run.EndedAt = s.coord.clock.Now()

	// An interrupt that lands after the loop's last cancellation check still
	// terminates the run interrupted: interrupting never resolves completed.
	interrupted := run.Status == RunInterrupting ||
		errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)

	switch {
	case interrupted:
		run.Status = RunInterrupted
		run.Reason = ErrInterrupted.Error()
		s.record(run.ID, EventRunInterrupted, map[string]any{"reason": run.Reason})
	case err != nil:
		run.Status = RunFailed
		run.Reason = err.Error()
		s.record(run.ID, EventRunFailed, map[string]any{"error": run.Reason})
	case result.Rejected:
		run.Status = RunCompleted
		run.Reason = result.RejectReason
		s.record(run.ID, EventRunCompleted, map[string]any{"reason": run.Reason})
	default:
		run.Status = RunCompleted
		run.FinalText = result.FinalText
		s.record(run.ID, EventRunCompleted, map[string]any{"final_text": run.FinalText})
	}
	active.cancel()
}

// sessionGate parks the run while a human decides a proposed write call.
type sessionGate struct {
	session *Session
	active  *activeRun
}

// Decide creates a pending approval, transitions the run to
// waiting_approval, and parks until a decision or an interrupt. An
// interrupt wins over a later decision: the approval is closed out
// internally and the run terminates interrupted.
func (g *sessionGate) Decide(ctx context.Context, proposal ApprovalProposal) (ApprovalDecision, error) {
	s := g.session
	run := g.active.run

	s.mu.Lock()
	approval := &Approval{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		ToolName:  proposal.ToolName,
		Arguments: proposal.Arguments,
		Status:    ApprovalPending,
		CreatedAt: s.coord.clock.Now(),
	}
	state := &approvalState{approval: approval, decision: make(chan ApprovalDecision, 1)}
	s.approvals[approval.ID] = state
	if run.Status == RunRunning {
		run.Status = RunWaitingApproval
	}
	s.record(run.ID, EventToolCallProposed, map[string]any{
		"approval_id": approval.ID,
		"call_id":     proposal.CallID,
		"tool_name":   proposal.ToolName,
		"arguments":   proposal.Arguments,
	})
	s.mu.Unlock()

	select {
	case decision := <-state.decision:
		s.mu.Lock()
		if run.Status == RunWaitingApproval {
			run.Status = RunRunning
		}
		if decision.Approved {
			s.record(run.ID, EventToolCallApproved, map[string]any{
				"approval_id": approval.ID,
				"tool_name":   proposal.ToolName,
			})
		} else {
			s.record(run.ID, EventToolCallRejected, map[string]any{
				"approval_id": approval.ID,
				"tool_name":   proposal.ToolName,
				"reason":      decision.Reason,
			})
		}
		s.mu.Unlock()
		return decision, nil
	case <-g.active.interrupt:
		s.expireApproval(approval.ID)
		return ApprovalDecision{}, ErrInterrupted
	case <-ctx.Done():
		s.expireApproval(approval.ID)
		return ApprovalDecision{}, ctx.Err()
	}
}

// expireApproval closes out an approval whose run stopped waiting. No
// tool_call_rejected event is emitted; the run's terminal event covers it.
func (s *Session) expireApproval(approvalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.approvals[approvalID]
	if !ok || state.approval.Status != ApprovalPending {
		return
	}
	state.approval.Status = ApprovalRejected
	state.approval.Reason = "run stopped before decision"
	state.approval.DecidedAt = s.coord.clock.Now()
}
