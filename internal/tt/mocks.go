// Package tt provides shared test fixtures: a scripted provider and canned
// tools.
package tt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-agents/kestrel"
)

// -----------------------------------------------------------------------------
// Scripted Provider
// -----------------------------------------------------------------------------

// ScriptedProvider replays a fixed sequence of responses. Each Generate call
// consumes the next entry; running past the script fails the call. Safe for
// concurrent use.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []ScriptEntry
	calls     int
	requests  []kestrel.GenerateRequest
}

// ScriptEntry is one scripted response or error.
type ScriptEntry struct {
	Response *kestrel.GenerateResponse
	Err      error
}

// NewScriptedProvider creates a provider replaying the given entries.
func NewScriptedProvider(entries ...ScriptEntry) *ScriptedProvider {
	return &ScriptedProvider{responses: entries}
}

// Generate implements kestrel.Provider.
func (p *ScriptedProvider) Generate(_ context.Context, req kestrel.GenerateRequest) (*kestrel.GenerateResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("tt: script exhausted after %d calls", p.calls)
	}
	entry := p.responses[p.calls]
	p.calls++
	if entry.Err != nil {
		return nil, entry.Err
	}
	return entry.Response, nil
}

// Calls returns how many times Generate ran.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns the requests Generate received, in order.
func (p *ScriptedProvider) Requests() []kestrel.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]kestrel.GenerateRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

var _ kestrel.Provider = (*ScriptedProvider)(nil)

// TextResponse builds a text-only scripted response.
func TextResponse(text string) ScriptEntry {
	return ScriptEntry{Response: &kestrel.GenerateResponse{Text: text}}
}

// ToolCallResponse builds a scripted response requesting the given calls.
func ToolCallResponse(calls ...kestrel.ToolCallRequest) ScriptEntry {
	return ScriptEntry{Response: &kestrel.GenerateResponse{ToolCalls: calls}}
}

// ErrorResponse builds a scripted failure.
func ErrorResponse(err error) ScriptEntry {
	return ScriptEntry{Err: err}
}

// Call builds a ToolCallRequest with canonical raw arguments.
func Call(id, name string, args map[string]any) kestrel.ToolCallRequest {
	return kestrel.ToolCallRequest{ID: id, Name: name, Arguments: args}
}

// StreamEntry scripts one streamed response: deltas pushed in order, then
// either the final response or a mid-stream failure.
type StreamEntry struct {
	Deltas   []string
	Response *kestrel.GenerateResponse
	Err      error
}

// ScriptedStreamProvider replays a fixed sequence of streamed responses.
// Safe for concurrent use.
type ScriptedStreamProvider struct {
	mu      sync.Mutex
	entries []StreamEntry
	calls   int
}

// NewScriptedStreamProvider creates a streaming provider replaying the given
// entries.
func NewScriptedStreamProvider(entries ...StreamEntry) *ScriptedStreamProvider {
	return &ScriptedStreamProvider{entries: entries}
}

func (p *ScriptedStreamProvider) next() (StreamEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.entries) {
		return StreamEntry{}, fmt.Errorf("tt: stream script exhausted after %d calls", p.calls)
	}
	entry := p.entries[p.calls]
	p.calls++
	return entry, nil
}

// Generate implements kestrel.Provider, consuming the next entry without
// streaming its deltas.
func (p *ScriptedStreamProvider) Generate(_ context.Context, _ kestrel.GenerateRequest) (*kestrel.GenerateResponse, error) {
	entry, err := p.next()
	if err != nil {
		return nil, err
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	return entry.Response, nil
}

// GenerateStream implements kestrel.StreamingProvider. Deltas are pushed
// before Finish records the scripted response or failure.
func (p *ScriptedStreamProvider) GenerateStream(_ context.Context, _ kestrel.GenerateRequest) (*kestrel.Stream, error) {
	entry, err := p.next()
	if err != nil {
		return nil, err
	}
	stream := kestrel.NewStream()
	for _, delta := range entry.Deltas {
		stream.Push(kestrel.StreamChunk{Type: kestrel.ChunkTextDelta, Text: delta})
	}
	stream.Finish(entry.Response, entry.Err)
	return stream, nil
}

// Calls returns how many scripted entries have been consumed.
func (p *ScriptedStreamProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ kestrel.StreamingProvider = (*ScriptedStreamProvider)(nil)

// -----------------------------------------------------------------------------
// Fixture Tools
// -----------------------------------------------------------------------------

// CountingTool records every invocation and returns a fixed output. Safe for
// concurrent use.
type CountingTool struct {
	ToolName string
	Output   string
	Fail     bool

	mu    sync.Mutex
	calls []map[string]any
}

// NewCountingTool creates a tool named name returning output.
func NewCountingTool(name, output string) *CountingTool {
	return &CountingTool{ToolName: name, Output: output}
}

// Name implements kestrel.Tool.
func (t *CountingTool) Name() string { return t.ToolName }

// Description implements kestrel.Tool.
func (t *CountingTool) Description() string { return "fixture tool " + t.ToolName }

// ParameterSchema implements kestrel.Tool. Accepts any object.
func (t *CountingTool) ParameterSchema() map[string]any {
	return map[string]any{"type": "object"}
}

// Call implements kestrel.Tool.
func (t *CountingTool) Call(_ context.Context, args map[string]any) (*kestrel.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, args)
	t.mu.Unlock()
	if t.Fail {
		return kestrel.FailedResult(fmt.Errorf("tt: %s failed", t.ToolName)), nil
	}
	return kestrel.TextResult(t.Output), nil
}

// Calls returns the number of invocations.
func (t *CountingTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Args returns the argument maps of all invocations, in order.
func (t *CountingTool) Args() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, len(t.calls))
	copy(out, t.calls)
	return out
}

var _ kestrel.Tool = (*CountingTool)(nil)

// BlockingTool blocks until released, for interrupt and concurrency tests.
type BlockingTool struct {
	ToolName string
	Started  chan struct{}
	Release  chan struct{}
}

// NewBlockingTool creates a blocking tool named name.
func NewBlockingTool(name string) *BlockingTool {
	return &BlockingTool{
		ToolName: name,
		Started:  make(chan struct{}, 16),
		Release:  make(chan struct{}),
	}
}

// Name implements kestrel.Tool.
func (t *BlockingTool) Name() string { return t.ToolName }

// Description implements kestrel.Tool.
func (t *BlockingTool) Description() string { return "fixture blocking tool" }

// ParameterSchema implements kestrel.Tool.
func (t *BlockingTool) ParameterSchema() map[string]any {
	return map[string]any{"type": "object"}
}

// Call implements kestrel.Tool. Signals Started, then waits for Release or
// ctx cancellation.
func (t *BlockingTool) Call(ctx context.Context, _ map[string]any) (*kestrel.ToolResult, error) {
	t.Started <- struct{}{}
	select {
	case <-t.Release:
		return kestrel.TextResult("released"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ kestrel.Tool = (*BlockingTool)(nil)

// FixedClock is a settable kestrel.Clock for TTL and timestamp tests.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at now.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

// Now implements kestrel.Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ kestrel.Clock = (*FixedClock)(nil)
