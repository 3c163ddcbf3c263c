package kestrel

import (
	"sync"

	"github.com/kestrel-agents/kestrel/internal/queue"
)

// Stream delivers a streamed provider response chunk by chunk. The producer
// side never blocks on a slow consumer: chunks are buffered internally
// without bound.
//
// Consume the chunk channel to completion, then read the accumulated
// response:
//
//	stream, err := provider.GenerateStream(ctx, req)
//	for chunk := range stream.Chunks() {
//	    // render chunk
//	}
//	resp, err := stream.Response()
type Stream struct {
	chunks *queue.Queue[StreamChunk]

	mu       sync.Mutex
	response *GenerateResponse
	err      error
}

// NewStream creates a Stream. Providers call Push for each chunk and Finish
// exactly once when the response completes or fails.
func NewStream() *Stream {
	return &Stream{chunks: queue.New[StreamChunk]()}
}

// Chunks returns the chunk channel. It closes after Finish once all buffered
// chunks have been consumed.
func (s *Stream) Chunks() <-chan StreamChunk { return s.chunks.Out() }

// Push appends a chunk. Never blocks.
func (s *Stream) Push(chunk StreamChunk) { s.chunks.Push(chunk) }

// Finish records the final response (or error) and closes the chunk channel.
func (s *Stream) Finish(resp *GenerateResponse, err error) {
	s.mu.Lock()
	s.response = resp
	s.err = err
	s.mu.Unlock()
	s.chunks.Close()
}

// Response returns the accumulated final response. Only meaningful after the
// chunk channel has closed.
func (s *Stream) Response() (*GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response, s.err
}
