package kestrel

import (
	"context"
	"time"
)

// GenerateRequest is the vendor-neutral request shape. Adapters map it to
// their wire format; the Loop never sees provider-specific framing.
type GenerateRequest struct {
	// Messages is the conversation snapshot, oldest first.
	Messages []Message

	// Tools lists the schemas of every registered tool. Nil disables tool
	// calling for the request.
	Tools []ToolSchema

	// SystemPrompt is prepended as the system message when non-empty.
	SystemPrompt string

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int

	// Temperature controls sampling. Negative means provider default.
	Temperature float64
}

// ToolCallRequest is a structured request from the model to invoke a named
// tool. Arguments arrive both raw (for lossless echo into history) and
// parsed (for validation and execution).
type ToolCallRequest struct {
	// ID is the provider-assigned call id pairing the call with its
	// response message.
	ID string

	// Name is the tool to invoke.
	Name string

	// Arguments is the parsed argument map.
	Arguments map[string]any

	// RawArguments is the argument JSON exactly as the provider sent it.
	RawArguments string
}

// GenerateResponse is the vendor-neutral response shape.
type GenerateResponse struct {
	// Text is the assistant's textual reply. A text-only response (no tool
	// calls) terminates the loop.
	Text string

	// ToolCalls holds structured tool-call requests, in the order the model
	// issued them.
	ToolCalls []ToolCallRequest

	// Usage carries normalized token accounting, when the provider
	// reports it.
	Usage Usage
}

// Usage is normalized token accounting across providers.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Duration     time.Duration
}

// Provider is the contract every LLM vendor adapter satisfies. Any adapter
// implementing it is pluggable without core changes.
//
// Adapters classify their failures: transport and rate-limit failures as
// [TransientError], authentication/validation failures and unparsable vendor
// payloads as [PermanentError]. Unclassified errors are retried.
type Provider interface {
	// Generate produces one response for the request.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// StreamingProvider is implemented by providers that can stream.
type StreamingProvider interface {
	Provider

	// GenerateStream produces the response incrementally. The returned
	// Stream delivers chunks until the response completes, then closes.
	// The final accumulated response is available from Stream.Response
	// after the channel closes.
	GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error)
}

// StreamChunkType discriminates incremental stream chunks.
type StreamChunkType string

const (
	// ChunkTextDelta carries an incremental piece of assistant text.
	ChunkTextDelta StreamChunkType = "text_delta"

	// ChunkToolCallStart announces a tool call; Name and CallID are set.
	ChunkToolCallStart StreamChunkType = "tool_call_start"

	// ChunkToolCallDelta carries an incremental piece of argument JSON for
	// the call announced by the preceding ChunkToolCallStart.
	ChunkToolCallDelta StreamChunkType = "tool_call_delta"

	// ChunkToolCallEnd closes the current tool call.
	ChunkToolCallEnd StreamChunkType = "tool_call_end"
)

// StreamChunk is one incremental piece of a streamed response.
type StreamChunk struct {
	Type   StreamChunkType
	Text   string
	CallID string
	Name   string
}
