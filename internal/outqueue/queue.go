// Package outqueue is the in-memory FIFO hand-off between message-capture
// entry points and the send worker. Entries are ephemeral: a crash loses
// them, and their continuations with them, by design of the capture path.
package outqueue

import (
	"sync"

	"github.com/pushbridge/pushbridge/internal/sender"
)

// Queue is a FIFO of captured outgoing messages. Put never blocks; the send
// worker waits on Ready and drains with Get.
type Queue struct {
	mu    sync.Mutex
	items []*sender.OutgoingMessage
	ready chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Put appends a message and signals the worker.
func (q *Queue) Put(m *sender.OutgoingMessage) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get removes and returns the oldest message, or nil when empty.
func (q *Queue) Get() *sender.OutgoingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m
}

// Ready returns the signal channel the send worker selects on. One signal
// may cover several queued messages; workers drain until Get returns nil.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
