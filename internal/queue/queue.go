// Package queue provides an unbounded FIFO used to decouple event producers
// from slow consumers. Producers never block; consumers read a channel.
package queue

import "sync"

// Queue is an unbounded FIFO with a channel-based consumer side.
// Push never blocks. The channel returned by Out closes once Close has been
// called and every pushed item has been delivered.
type Queue[T any] struct {
	mu      sync.Mutex
	ready   *sync.Cond
	pending []T
	closed  bool
	out     chan T
}

// New creates a Queue and starts its delivery goroutine.
func New[T any]() *Queue[T] {
	q := &Queue[T]{out: make(chan T)}
	q.ready = sync.NewCond(&q.mu)
	go q.deliver()
	return q
}

func (q *Queue[T]) deliver() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.ready.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			close(q.out)
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.out <- next
	}
}

// Push appends an item. Never blocks. Items pushed after Close are dropped.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, item)
	q.ready.Signal()
}

// Out returns the delivery channel. It closes after Close once all pending
// items have been consumed.
func (q *Queue[T]) Out() <-chan T { return q.out }

// Close stops the queue. Safe to call multiple times.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.ready.Signal()
}

// Len reports the number of undelivered items. Intended for tests.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
