// Package source turns tail sessions into channel based event streams.
package source

import (
	"context"

	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

// Event is a line or the terminal notification of one tail session.
type Event struct {
	// ID is the session identifier.
	ID string
	// Line is the line text without its terminator. Empty for terminal events.
	Line string
	// Terminal marks the last event of a session; Kind and Message are set.
	Terminal bool
	Kind     tail.TerminalKind
	Message  string
}

// Source defines the interface for event streams.
type Source interface {
	// Lines returns a channel that emits events. It is closed after Stop.
	Lines() <-chan Event
	// Errors returns a channel that emits errors encountered while starting sessions.
	Errors() <-chan error
	// Start begins tailing.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the source.
	Stop() error
}
