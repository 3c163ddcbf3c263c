package kestrel

import "time"

// RunStatus is the lifecycle state of a run.
//
// Transitions:
//
//	queued → running → {waiting_approval ⇄ running} → completed | failed
//	running | waiting_approval → interrupting → interrupted
//
// Exactly one of completed, failed, interrupted is reached, at most once.
type RunStatus string

const (
	RunQueued          RunStatus = "queued"
	RunRunning         RunStatus = "running"
	RunWaitingApproval RunStatus = "waiting_approval"
	RunInterrupting    RunStatus = "interrupting"
	RunCompleted       RunStatus = "completed"
	RunFailed          RunStatus = "failed"
	RunInterrupted     RunStatus = "interrupted"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunInterrupted:
		return true
	}
	return false
}

// Run is one addressable execution of the agent loop for a single submitted
// message. Snapshots returned by the control surface are copies; mutating
// them does not affect the live run.
type Run struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Status    RunStatus `json:"status"`

	// Input is the submitted user message.
	Input string `json:"input"`

	// FinalText is the assistant's terminating response, set on completion.
	FinalText string `json:"final_text,omitempty"`

	// Reason explains failed, interrupted, and rejection-completed runs.
	Reason string `json:"reason,omitempty"`

	Stats RunStats `json:"stats"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// ApprovalStatus is the lifecycle state of an approval. pending moves to
// approved or rejected exactly once; a second decision is a conflict.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a human decision gate for one proposed write-class tool call.
type Approval struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    ApprovalStatus `json:"status"`

	// Reason carries the rejection reason, when rejected.
	Reason string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// EventType discriminates run events.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventAssistantDelta   EventType = "assistant_delta"
	EventToolCallProposed EventType = "tool_call_proposed"
	EventToolCallApproved EventType = "tool_call_approved"
	EventToolCallRejected EventType = "tool_call_rejected"
	EventToolResult       EventType = "tool_result"
	EventRunInterrupted   EventType = "run_interrupted"
	EventRunCompleted     EventType = "run_completed"
	EventRunFailed        EventType = "run_failed"
)

// Terminal reports whether the event type ends its run. Exactly one terminal
// event is ever appended per run.
func (t EventType) Terminal() bool {
	switch t {
	case EventRunInterrupted, EventRunCompleted, EventRunFailed:
		return true
	}
	return false
}

// Event is the envelope appended to the session log and fanned out to
// subscribers. EventID is monotonic per session, which also gives strict
// per-run ordering.
type Event struct {
	EventID   uint64         `json:"event_id"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
