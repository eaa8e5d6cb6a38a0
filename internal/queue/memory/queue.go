// Package memory provides the in-process job queue shared by the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned when enqueueing into a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by TryEnqueue when a bounded queue has no room.
	ErrFull = errors.New("queue full")
)

// Queue is a multi-producer, multi-consumer FIFO. A capacity <= 0 makes it
// unbounded; otherwise Enqueue blocks while the queue holds capacity items.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	head     int
	capacity int
	closed   bool
}

// New constructs a queue with the provided capacity.
func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Bounded reports whether Enqueue can block.
func (q *Queue[T]) Bounded() bool {
	return q.capacity > 0
}

// Enqueue appends item, waiting for room on a full bounded queue until the
// queue closes or ctx ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.full() && !q.closed {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		})
		defer stop()
		for q.full() && !q.closed && ctx.Err() == nil {
			q.notFull.Wait()
		}
	}
	if q.closed {
		return ErrClosed
	}
	if q.full() {
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
	q.push(item)
	return nil
}

// TryEnqueue appends item without blocking.
func (q *Queue[T]) TryEnqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.full() {
		return ErrFull
	}
	q.push(item)
	return nil
}

// Dequeue blocks until an item is available. It returns false once the queue
// is closed and fully drained.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size() == 0 {
		if q.closed {
			var zero T
			return zero, false
		}
		q.notEmpty.Wait()
	}
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 >= len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	if q.capacity > 0 {
		q.notFull.Signal()
	}
	return item, true
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Close stops accepting items and wakes every waiter. Items already queued
// remain available to Dequeue. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *Queue[T]) push(item T) {
	q.items = append(q.items, item)
	q.notEmpty.Signal()
}

func (q *Queue[T]) size() int {
	return len(q.items) - q.head
}

func (q *Queue[T]) full() bool {
	return q.capacity > 0 && q.size() >= q.capacity
}
