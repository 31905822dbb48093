package source

import (
	"sync"

	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

// DefaultBufferSize is the default capacity for the events channel.
const DefaultBufferSize = 1000

// BackpressureStrategy controls behaviour when the events channel is full.
type BackpressureStrategy int

const (
	// DropOldest discards the oldest unread event when the buffer is full.
	DropOldest BackpressureStrategy = iota
	// Block waits until a reader consumes an event before accepting more.
	Block
)

// ObserverOption configures a ChannelObserver.
type ObserverOption func(*ChannelObserver)

// WithBufferSize sets the capacity of the events channel.
func WithBufferSize(n int) ObserverOption {
	return func(o *ChannelObserver) { o.bufSize = n }
}

// WithBackpressure sets the backpressure strategy.
func WithBackpressure(bp BackpressureStrategy) ObserverOption {
	return func(o *ChannelObserver) { o.backpressure = bp }
}

// ChannelObserver is a tail.Observer that forwards everything it receives
// to a channel, so one reader can consume many sessions.
type ChannelObserver struct {
	bufSize      int
	backpressure BackpressureStrategy

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ tail.Observer = (*ChannelObserver)(nil)

// NewChannelObserver creates a ChannelObserver with the given options.
func NewChannelObserver(opts ...ObserverOption) *ChannelObserver {
	o := &ChannelObserver{
		bufSize:      DefaultBufferSize,
		backpressure: Block,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bufSize < 1 {
		o.bufSize = 1
	}
	o.events = make(chan Event, o.bufSize)
	return o
}

// Events returns the channel of events. It is closed by Close.
func (o *ChannelObserver) Events() <-chan Event { return o.events }

func (o *ChannelObserver) OnLine(id string, line []byte) {
	o.emit(Event{ID: id, Line: string(line)})
}

func (o *ChannelObserver) OnTerminal(id string, kind tail.TerminalKind, message string) {
	o.emit(Event{ID: id, Terminal: true, Kind: kind, Message: message})
}

// emit sends an event to the channel, respecting backpressure strategy.
// It reports false once the observer is closed.
func (o *ChannelObserver) emit(e Event) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}

	switch o.backpressure {
	case DropOldest:
		select {
		case o.events <- e:
		default:
			// Channel full, drop oldest.
			select {
			case <-o.events:
			default:
			}
			select {
			case o.events <- e:
			case <-o.done:
				return false
			}
		}
	default: // Block
		select {
		case o.events <- e:
		case <-o.done:
			return false
		}
	}
	return true
}

// Close unblocks pending sends, drops later events and closes the events
// channel. Safe to call more than once.
func (o *ChannelObserver) Close() {
	o.once.Do(func() {
		close(o.done)
		o.mu.Lock()
		o.closed = true
		close(o.events)
		o.mu.Unlock()
	})
}
