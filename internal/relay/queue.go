package relay

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Put after Close, and by Get once a closed queue is drained.
var ErrClosed = errors.New("relay: closed")

// Queue is a bounded FIFO hand-off. No item is ever dropped.
type Queue[T any] struct {
	items     chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue returns a queue holding up to capacity items. A capacity below 1 is
// treated as 1.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		items: make(chan T, max(capacity, 1)),
		done:  make(chan struct{}),
	}
}

// Put enqueues item, blocking while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the oldest item, blocking while the queue is empty. After Close it
// keeps returning queued items until none are left.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	select {
	case item := <-q.items:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.items:
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Close stops the queue from accepting items. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
