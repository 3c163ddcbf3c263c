package kestrel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-agents/kestrel"
	"github.com/kestrel-agents/kestrel/internal/tt"
)

// collectRun drains sub until a terminal event for runID arrives, returning
// every event of that run in order.
func collectRun(t *testing.T, sub *kestrel.Subscription, runID string) []kestrel.Event {
	t.Helper()
	var events []kestrel.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed before terminal event for %s", runID)
			}
			if event.RunID != runID {
				continue
			}
			events = append(events, event)
			if event.Type.Terminal() {
				return events
			}
		case <-deadline:
			t.Fatalf("no terminal event for run %s; got %v", runID, eventTypes(events))
		}
	}
}

func eventTypes(events []kestrel.Event) []kestrel.EventType {
	out := make([]kestrel.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// waitForEvent blocks until an event of the given type arrives for runID.
func waitForEvent(t *testing.T, sub *kestrel.Subscription, runID string, eventType kestrel.EventType) kestrel.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed waiting for %s", eventType)
			}
			if event.RunID == runID && event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func readOnlyCoordinator(t *testing.T, entries ...tt.ScriptEntry) (*kestrel.Coordinator, *tt.CountingTool) {
	t.Helper()
	tool := tt.NewCountingTool("weather", "sunny, 20C")
	registry := kestrel.NewRegistry()
	registry.MustRegister(tool, kestrel.ToolOptions{ReadOnly: true})
	coord := kestrel.NewCoordinator(tt.NewScriptedProvider(entries...), registry).
		WithCache(kestrel.NewResultCache(8))
	return coord, tool
}

func TestScenarioReadOnlyToolRun(t *testing.T) {
	coord, tool := readOnlyCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "weather", map[string]any{"city": "oslo"})),
		tt.TextResponse("It is sunny."),
		tt.ToolCallResponse(tt.Call("c2", "weather", map[string]any{"city": "oslo"})),
		tt.TextResponse("Still sunny."),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("weather in oslo?")
	require.NoError(t, err)

	events := collectRun(t, sub, runID)
	require.Equal(t, []kestrel.EventType{
		kestrel.EventRunStarted, kestrel.EventToolResult, kestrel.EventRunCompleted,
	}, eventTypes(events))
	assert.Equal(t, false, events[1].Payload["cached"])

	run, err := session.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunCompleted, run.Status)
	assert.Equal(t, "It is sunny.", run.FinalText)

	// Identical call within TTL on a second run: served from cache.
	runID2, err := session.SubmitMessage("and now?")
	require.NoError(t, err)
	events2 := collectRun(t, sub, runID2)
	require.Equal(t, []kestrel.EventType{
		kestrel.EventRunStarted, kestrel.EventToolResult, kestrel.EventRunCompleted,
	}, eventTypes(events2))
	assert.Equal(t, true, events2[1].Payload["cached"])
	assert.Equal(t, 1, tool.Calls())
}

func writeToolCoordinator(t *testing.T, entries ...tt.ScriptEntry) (*kestrel.Coordinator, *tt.CountingTool) {
	t.Helper()
	tool := tt.NewCountingTool("deploy", "deployed to prod")
	registry := kestrel.NewRegistry()
	registry.MustRegister(tool, kestrel.ToolOptions{})
	coord := kestrel.NewCoordinator(tt.NewScriptedProvider(entries...), registry)
	return coord, tool
}

func TestScenarioApprovedWriteToolRun(t *testing.T) {
	coord, tool := writeToolCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "deploy", map[string]any{"env": "prod"})),
		tt.TextResponse("Deployed."),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("deploy to prod")
	require.NoError(t, err)

	proposed := waitForEvent(t, sub, runID, kestrel.EventToolCallProposed)
	approvalID := proposed.Payload["approval_id"].(string)

	// The run must be parked, not executing.
	require.Eventually(t, func() bool {
		run, err := session.Run(runID)
		return err == nil && run.Status == kestrel.RunWaitingApproval
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, tool.Calls())

	require.NoError(t, session.Approve(approvalID))

	events := collectRun(t, sub, runID)
	require.Equal(t, []kestrel.EventType{
		kestrel.EventToolCallApproved, kestrel.EventToolResult, kestrel.EventRunCompleted,
	}, eventTypes(events))
	assert.Equal(t, 1, tool.Calls())

	run, err := session.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunCompleted, run.Status)
	assert.Equal(t, "Deployed.", run.FinalText)
}

func TestScenarioRejectedWriteToolRun(t *testing.T) {
	coord, tool := writeToolCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "deploy", map[string]any{"env": "prod"})),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("deploy to prod")
	require.NoError(t, err)

	proposed := waitForEvent(t, sub, runID, kestrel.EventToolCallProposed)
	approvalID := proposed.Payload["approval_id"].(string)
	require.NoError(t, session.Reject(approvalID, "freeze window"))

	events := collectRun(t, sub, runID)
	require.Equal(t, []kestrel.EventType{
		kestrel.EventToolCallRejected, kestrel.EventRunCompleted,
	}, eventTypes(events))
	assert.Equal(t, "freeze window", events[0].Payload["reason"])
	assert.Equal(t, 0, tool.Calls())

	run, err := session.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunCompleted, run.Status)
	assert.Equal(t, "freeze window", run.Reason)
}

func TestApprovalSingleConsumption(t *testing.T) {
	coord, tool := writeToolCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "deploy", map[string]any{"env": "prod"})),
		tt.TextResponse("Deployed."),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("deploy")
	require.NoError(t, err)
	proposed := waitForEvent(t, sub, runID, kestrel.EventToolCallProposed)
	approvalID := proposed.Payload["approval_id"].(string)

	require.NoError(t, session.Approve(approvalID))
	assert.ErrorIs(t, session.Approve(approvalID), kestrel.ErrApprovalDecided)
	assert.ErrorIs(t, session.Reject(approvalID, "late"), kestrel.ErrApprovalDecided)

	collectRun(t, sub, runID)
	assert.Equal(t, 1, tool.Calls(), "second decision must never re-execute the tool")

	approval, err := session.Approval(approvalID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.ApprovalApproved, approval.Status)
}

func TestScenarioLoopGuardFailsRun(t *testing.T) {
	same := func(id string) tt.ScriptEntry {
		return tt.ToolCallResponse(tt.Call(id, "weather", map[string]any{"city": "loop"}))
	}
	tool := tt.NewCountingTool("weather", "same")
	registry := kestrel.NewRegistry()
	registry.MustRegister(tool, kestrel.ToolOptions{ReadOnly: true})
	// No cache: every repeat actually executes, the guard must still stop it.
	coord := kestrel.NewCoordinator(
		tt.NewScriptedProvider(same("c1"), same("c2"), same("c3"), same("c4")), registry)

	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("loop forever")
	require.NoError(t, err)

	events := collectRun(t, sub, runID)
	last := events[len(events)-1]
	require.Equal(t, kestrel.EventRunFailed, last.Type)
	assert.Contains(t, last.Payload["error"].(string), "loop guard")

	run, err := session.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunFailed, run.Status)
}

func TestRunTerminalityExactlyOneTerminalEvent(t *testing.T) {
	coord, _ := readOnlyCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "weather", map[string]any{"city": "oslo"})),
		tt.TextResponse("done"),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("go")
	require.NoError(t, err)
	collectRun(t, sub, runID)

	terminal := 0
	for _, event := range session.Events() {
		if event.RunID == runID && event.Type.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	// Interrupt after the terminal state is idempotent and emits nothing.
	logged := len(session.Events())
	status, err := session.Interrupt(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunCompleted, status)
	assert.Len(t, session.Events(), logged)
}

func TestEventIDsAreMonotonic(t *testing.T) {
	coord, _ := readOnlyCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "weather", map[string]any{"city": "a"})),
		tt.TextResponse("one"),
		tt.ToolCallResponse(tt.Call("c2", "weather", map[string]any{"city": "b"})),
		tt.TextResponse("two"),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	run1, err := session.SubmitMessage("first")
	require.NoError(t, err)
	collectRun(t, sub, run1)
	run2, err := session.SubmitMessage("second")
	require.NoError(t, err)
	collectRun(t, sub, run2)

	events := session.Events()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].EventID+1, events[i].EventID)
	}
}

func TestSubmitWhileRunningIsConflict(t *testing.T) {
	tool := tt.NewBlockingTool("slow")
	registry := kestrel.NewRegistry()
	registry.MustRegister(tool, kestrel.ToolOptions{ReadOnly: true})
	coord := kestrel.NewCoordinator(tt.NewScriptedProvider(
		tt.ToolCallResponse(tt.Call("c1", "slow", map[string]any{})),
		tt.TextResponse("done"),
	), registry)

	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("go")
	require.NoError(t, err)
	<-tool.Started

	_, err = session.SubmitMessage("another")
	assert.ErrorIs(t, err, kestrel.ErrSessionBusy)

	close(tool.Release)
	collectRun(t, sub, runID)

	// Terminal run frees the session.
	_, err = session.SubmitMessage("after")
	assert.NoError(t, err)
}

func TestInterruptParkedRunWinsOverApproval(t *testing.T) {
	coord, tool := writeToolCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "deploy", map[string]any{"env": "prod"})),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("deploy")
	require.NoError(t, err)
	proposed := waitForEvent(t, sub, runID, kestrel.EventToolCallProposed)
	approvalID := proposed.Payload["approval_id"].(string)

	status, err := session.Interrupt(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunInterrupting, status)

	events := collectRun(t, sub, runID)
	last := events[len(events)-1]
	assert.Equal(t, kestrel.EventRunInterrupted, last.Type)

	// No tool_call_rejected event: the terminal event covers the parked
	// approval, which is closed out and can no longer be decided.
	for _, event := range events {
		assert.NotEqual(t, kestrel.EventToolCallRejected, event.Type)
	}
	assert.ErrorIs(t, session.Approve(approvalID), kestrel.ErrApprovalDecided)
	assert.Equal(t, 0, tool.Calls())

	run, err := session.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunInterrupted, run.Status)
}

func TestInterruptDuringToolExecution(t *testing.T) {
	tool := tt.NewBlockingTool("slow")
	registry := kestrel.NewRegistry()
	registry.MustRegister(tool, kestrel.ToolOptions{ReadOnly: true})
	coord := kestrel.NewCoordinator(tt.NewScriptedProvider(
		tt.ToolCallResponse(tt.Call("c1", "slow", map[string]any{})),
		tt.TextResponse("never"),
	), registry)

	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("go")
	require.NoError(t, err)
	<-tool.Started

	_, err = session.Interrupt(runID)
	require.NoError(t, err)

	events := collectRun(t, sub, runID)
	assert.Equal(t, kestrel.EventRunInterrupted, events[len(events)-1].Type)

	run, err := session.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunInterrupted, run.Status)
}

func TestCoordinatorLevelControlSurface(t *testing.T) {
	coord, _ := writeToolCoordinator(t,
		tt.ToolCallResponse(tt.Call("c1", "deploy", map[string]any{"env": "prod"})),
		tt.TextResponse("Deployed."),
	)
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("deploy")
	require.NoError(t, err)
	proposed := waitForEvent(t, sub, runID, kestrel.EventToolCallProposed)
	approvalID := proposed.Payload["approval_id"].(string)

	// Addressing by id alone, without knowing the session.
	require.NoError(t, coord.Approve(approvalID))
	collectRun(t, sub, runID)

	_, err = coord.Interrupt("no-such-run")
	assert.ErrorIs(t, err, kestrel.ErrRunNotFound)
	assert.ErrorIs(t, coord.Approve("no-such-approval"), kestrel.ErrApprovalNotFound)
}

func TestUnknownIDsReturnNotFound(t *testing.T) {
	coord, _ := readOnlyCoordinator(t)
	session := coord.OpenSession()

	_, err := session.Run("missing")
	assert.ErrorIs(t, err, kestrel.ErrRunNotFound)
	_, err = session.Approval("missing")
	assert.ErrorIs(t, err, kestrel.ErrApprovalNotFound)
	_, err = coord.Session("missing")
	assert.ErrorIs(t, err, kestrel.ErrSessionNotFound)
}

// stallProvider blocks Generate until released, then returns its text
// without observing cancellation, so the response lands after an interrupt.
type stallProvider struct {
	started chan struct{}
	release chan struct{}
	text    string
}

func newStallProvider(text string) *stallProvider {
	return &stallProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		text:    text,
	}
}

func (p *stallProvider) Generate(context.Context, kestrel.GenerateRequest) (*kestrel.GenerateResponse, error) {
	p.started <- struct{}{}
	<-p.release
	return &kestrel.GenerateResponse{Text: p.text}, nil
}

func TestInterruptDuringFinalProviderCallTerminatesInterrupted(t *testing.T) {
	provider := newStallProvider("all done")
	coord := kestrel.NewCoordinator(provider, kestrel.NewRegistry())
	session := coord.OpenSession()
	sub := session.Subscribe()
	defer sub.Close()

	runID, err := session.SubmitMessage("hi")
	require.NoError(t, err)
	<-provider.started

	status, err := session.Interrupt(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunInterrupting, status)
	close(provider.release)

	// The provider response wins the race against cancellation, but an
	// interrupting run still terminates interrupted, never completed.
	events := collectRun(t, sub, runID)
	assert.Equal(t, kestrel.EventRunInterrupted, events[len(events)-1].Type)

	run, err := session.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, kestrel.RunInterrupted, run.Status)
	assert.Empty(t, run.FinalText)
}
