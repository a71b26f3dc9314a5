// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/newsloom/extractor/internal/extract"
)

// Queue is a bounded in-memory candidate queue with context-aware operations.
type Queue struct {
	ch      chan extract.Candidate
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan extract.Candidate, capacity),
	}
}

// Enqueue pushes a candidate into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, candidate extract.Candidate) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- candidate:
		return nil
	}
}

// Dequeue pops the next candidate, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (extract.Candidate, error) {
	select {
	case <-ctx.Done():
		return extract.Candidate{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case candidate, ok := <-q.ch:
		if !ok {
			return extract.Candidate{}, errors.New("queue closed")
		}
		return candidate, nil
	}
}

// TryDequeue returns the next candidate without blocking; ok is false when
// the queue is empty or closed.
func (q *Queue) TryDequeue() (extract.Candidate, bool) {
	select {
	case candidate, ok := <-q.ch:
		if !ok {
			return extract.Candidate{}, false
		}
		return candidate, true
	default:
		return extract.Candidate{}, false
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
