package util

import (
	"sync"
)

// Latest is a single-slot mailbox holding the most recent value of T.
// Send never blocks and overwrites older, unconsumed values; consumers
// wait on Channel and then pick up the value with Value. It decouples
// the synchronous protocol stack from the TUI without ever letting the
// TUI back-pressure a bus transaction.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	notify chan struct{}
}

// NewLatest creates an empty Latest slot.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{
		notify: make(chan struct{}, 1),
	}
}

// Send stores the value and raises the notification if none is pending.
func (l *Latest[T]) Send(value T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.value = value

	select {
	case l.notify <- struct{}{}:
	default:
		// A notification is already pending, the reader will pick up
		// the newest value anyway.
	}
}

// Channel returns the notification channel for use in select statements.
func (l *Latest[T]) Channel() <-chan struct{} {
	return l.notify
}

// Value returns the most recently sent value.
func (l *Latest[T]) Value() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}
