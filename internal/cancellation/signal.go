// Package cancellation provides the wait primitive a tail session sleeps on
// between polls.
package cancellation

import (
	"sync"
	"time"
)

// Reason tells why Wait returned.
type Reason int

const (
	// TimedOut means the wait elapsed without any signal.
	TimedOut Reason = iota
	// Woken means new data may be available.
	Woken
	// Cancelled means shutdown was requested.
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case TimedOut:
		return "timed-out"
	case Woken:
		return "woken"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Signal combines two wake conditions on one wait: "work may be available"
// (Notify, coalesced) and "shutdown requested" (Cancel, sticky).
// The zero value is not usable; call New.
type Signal struct {
	wake   chan struct{}
	done   chan struct{}
	cancel sync.Once
}

// New returns a Signal that is neither notified nor cancelled.
func New() *Signal {
	return &Signal{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Notify wakes a pending or the next Wait. Repeated notifications before
// a Wait collapse into one.
func (s *Signal) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel requests shutdown. Every current and future Wait returns
// Cancelled. Safe to call more than once and from any goroutine.
func (s *Signal) Cancel() {
	s.cancel.Do(func() { close(s.done) })
}

// Done is closed once Cancel has been called.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Cancelled reports whether Cancel has been called.
func (s *Signal) Cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until Cancel, Notify, or timeout, whichever comes first.
// Cancellation wins over a pending notification.
func (s *Signal) Wait(timeout time.Duration) Reason {
	if s.Cancelled() {
		return Cancelled
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return Cancelled
	case <-s.wake:
		if s.Cancelled() {
			return Cancelled
		}
		return Woken
	case <-timer.C:
		return TimedOut
	}
}
