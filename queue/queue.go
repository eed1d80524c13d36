// Package queue holds bulk embedding work between the stream consumer and
// the embedding workers.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/x-08/agentcloud/schema"
)

// DefaultCapacity bounds the queue when no capacity is configured.
const DefaultCapacity = 10000

var ErrClosed = errors.New("queue: closed")

// Queue is a bounded FIFO. Enqueue blocks while the queue is full and
// Dequeue blocks while it is empty. Items enqueued by one producer are
// dequeued in the order they were enqueued.
type Queue struct {
	mu       sync.RWMutex
	items    []schema.QueueItem
	capacity int
	closed   bool
	// changed is closed and replaced whenever items or closed change.
	changed chan struct{}
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]schema.QueueItem, 0, min(capacity, 1024)),
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Enqueue appends item, waiting for room when the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item schema.QueueItem) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dequeue removes the oldest item, waiting while the queue is empty. Items
// left in a closed queue are still handed out before ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (schema.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = schema.QueueItem{}
			q.items = q.items[1:]
			q.broadcast()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return schema.QueueItem{}, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return schema.QueueItem{}, ctx.Err()
		}
	}
}

// Peek returns the oldest item without removing it.
func (q *Queue) Peek() (schema.QueueItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return schema.QueueItem{}, false
	}
	return q.items[0], true
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *Queue) Cap() int {
	return q.capacity
}

// Close rejects further enqueues and wakes every waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// broadcast must be called with mu held.
func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}
