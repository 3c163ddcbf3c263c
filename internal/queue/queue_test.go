package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	q.Close()

	var got []int
	for v := range q.Out() {
		got = append(got, v)
	}
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueuePushNeverBlocks(t *testing.T) {
	q := New[int]()
	done := make(chan struct{})
	go func() {
		// No consumer is reading; every push must still return.
		for i := 0; i < 10_000; i++ {
			q.Push(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("push blocked without a consumer")
	}
	q.Close()
}

func TestQueueCloseDrainsPending(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")
	q.Close()

	assert.Equal(t, "a", <-q.Out())
	assert.Equal(t, "b", <-q.Out())
	_, open := <-q.Out()
	assert.False(t, open)
}

func TestQueuePushAfterCloseIsDropped(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Push(1)

	_, open := <-q.Out()
	assert.False(t, open)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Close()
}
