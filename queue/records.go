// Package queue provides the transports a conformance run talks through:
// bounded record queues for commands and replies, a byte ring for bulk data,
// and a wire transport carrying the same records over a byte stream.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Records is a bounded FIFO of fixed-size records. Put blocks while the
// queue is full and Get blocks while it is empty; both give up when the
// context ends or the queue is closed.
//
// Records buffered before Close can still be read.
type Records[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// NewRecords creates a queue holding up to capacity records (minimum 1).
func NewRecords[T any](capacity int) *Records[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Records[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Put appends v, waiting for room if needed.
func (q *Records[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes the oldest record, waiting for one if needed.
func (q *Records[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}
	select {
	case v := <-q.ch:
		return v, nil
	case <-q.done:
		select {
		case v := <-q.ch:
			return v, nil
		default:
		}
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of buffered records.
func (q *Records[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Records[T]) Cap() int {
	return cap(q.ch)
}

// Close wakes every blocked caller with ErrClosed. It is safe to call more
// than once.
func (q *Records[T]) Close() {
	q.once.Do(func() { close(q.done) })
}
