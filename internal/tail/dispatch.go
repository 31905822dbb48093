package tail

import (
	"sync"

	"go.uber.org/zap"
)

// Dispatcher hands observer callbacks over to the execution context the
// host expects. Sessions call Dispatch from their own goroutine.
type Dispatcher interface {
	Dispatch(fn func())
}

type inline struct{}

func (inline) Dispatch(fn func()) { fn() }

// Inline runs callbacks directly on the session goroutine. A panicking
// observer then ends its session with a ListenerFault event.
var Inline Dispatcher = inline{}

// Queue runs every callback, in submission order, on one goroutine.
// Use it when the host is single threaded. Because it is FIFO, events a
// replaced session queued are delivered before the replacement's first line.
type Queue struct {
	log *zap.Logger

	mu     sync.RWMutex
	closed bool
	fns    chan func()
	done   chan struct{}
}

// NewQueue starts a queue buffering up to size pending callbacks. Dispatch
// blocks while the buffer is full.
func NewQueue(size int, log *zap.Logger) *Queue {
	if size < 0 {
		size = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		log:  log,
		fns:  make(chan func(), size),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for fn := range q.fns {
		q.run(fn)
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("observer callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Dispatch enqueues fn. Callbacks submitted after Close are dropped.
func (q *Queue) Dispatch(fn func()) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	q.fns <- fn
}

// Close stops accepting callbacks and waits until the queued ones have run.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.fns)
	}
	q.mu.Unlock()
	<-q.done
}
