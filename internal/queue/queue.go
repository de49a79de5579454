// Package queue carries ready task ids from the upload path to workers.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is an at-least-once work queue of task ids.
type Queue interface {
	Enqueue(ctx context.Context, taskID string) error
	Dequeue(ctx context.Context) (string, error)
}

// Memory is a bounded in-process queue backed by a channel.
type Memory struct {
	items chan string

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

// NewMemory creates a queue holding up to size pending items.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 128
	}
	return &Memory{
		items: make(chan string, size),
		done:  make(chan struct{}),
	}
}

// Enqueue blocks while the queue is full, until ctx is done or the queue closes.
func (q *Memory) Enqueue(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.items <- taskID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Dequeue waits for the next task id.
func (q *Memory) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.items:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-q.done:
		return "", ErrClosed
	}
}

// Len reports the number of pending items.
func (q *Memory) Len() int {
	return len(q.items)
}

// Close wakes all blocked callers. Pending items are dropped.
func (q *Memory) Close() {
	q.once.Do(func() {
		close(q.done)

		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
	})
}
