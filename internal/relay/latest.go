package relay

import (
	"context"
	"sync"
)

// Latest is a single-slot cell with overwrite semantics.
//
// Store never blocks and replaces whatever is in the cell. Readers get the newest
// value together with its version; a reader that falls behind skips the values it
// missed, and a reader that calls Load twice without a Store in between sees the same
// value twice. Drops counts values that were overwritten before anyone waited on them.
type Latest[T any] struct {
	mu       sync.Mutex
	value    T
	version  uint64
	consumed uint64
	drops    uint64
	notify   chan struct{}
	closed   bool
}

// NewLatest returns an empty cell.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{notify: make(chan struct{})}
}

// Store overwrites the cell and wakes any waiter.
func (l *Latest[T]) Store(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if l.version > l.consumed {
		l.drops++
	}
	l.value = v
	l.version++
	close(l.notify)
	l.notify = make(chan struct{})
}

// Load returns the current value and its version. ok is false until the first Store.
func (l *Latest[T]) Load() (v T, version uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.version, l.version > 0
}

// Wait blocks until the cell holds a version newer than after, then returns it.
func (l *Latest[T]) Wait(ctx context.Context, after uint64) (T, uint64, error) {
	for {
		l.mu.Lock()
		if l.version > after {
			v, version := l.value, l.version
			l.consumed = version
			l.mu.Unlock()
			return v, version, nil
		}
		if l.closed {
			l.mu.Unlock()
			var zero T
			return zero, after, ErrClosed
		}
		ch := l.notify
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			var zero T
			return zero, after, ctx.Err()
		}
	}
}

// Drops returns how many stored values were replaced before being waited on.
func (l *Latest[T]) Drops() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}

// Close wakes waiters; later Stores are ignored. The last value stays readable.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.notify)
}
