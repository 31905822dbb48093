package tail

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ZehViking/simple-io-plugin/internal/cancellation"
	"github.com/ZehViking/simple-io-plugin/internal/cursor"
	"github.com/ZehViking/simple-io-plugin/internal/linesplit"
)

// State is the position of a session in its lifecycle.
type State int32

const (
	StateInitializing State = iota
	StatePolling
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type sessionConfig struct {
	fs           afero.Fs
	pollInterval time.Duration
	bufferSize   int
	dispatcher   Dispatcher
	log          *zap.Logger
}

// session follows one file on its own goroutine. Besides the channels,
// the atomics and the callback flag, its fields are touched only by that
// goroutine.
type session struct {
	id         string
	path       string
	skipToEnd  bool
	generation string

	cfg      sessionConfig
	observer Observer
	log      *zap.Logger

	cur      *cursor.Cursor
	split    linesplit.Splitter
	buf      []byte
	lastSize int64

	sig      *cancellation.Signal
	state    atomic.Int32
	ready    chan struct{} // closed once Initializing is over; initErr is set on failure
	launched chan struct{} // closed by Start once the session is registered
	done     chan struct{}

	initErr   error
	abandoned atomic.Bool

	// cbMu orders observer callbacks against stop. inCallback is true
	// while an observer method of this session runs.
	cbMu       sync.Mutex
	inCallback bool
}

// newSession prepares a session. Nothing is opened until run.
func newSession(id, path string, skipToEnd bool, obs Observer, cfg sessionConfig) *session {
	s := &session{
		id:         id,
		path:       path,
		skipToEnd:  skipToEnd,
		generation: uuid.NewString(),
		cfg:        cfg,
		observer:   obs,
		sig:        cancellation.New(),
		ready:      make(chan struct{}),
		launched:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.log = cfg.log.With(zap.String("id", id), zap.String("path", path), zap.String("generation", s.generation))
	return s
}

// initialize performs the Initializing step. On error nothing is left open.
func (s *session) initialize() error {
	cur, err := cursor.Open(s.cfg.fs, s.path)
	if err != nil {
		return err
	}
	if s.skipToEnd {
		if _, err := cur.SeekToEnd(); err != nil {
			cur.Close()
			return err
		}
	}
	size, err := cur.CurrentSize()
	if err != nil {
		cur.Close()
		return err
	}

	s.cur = cur
	s.lastSize = size
	s.split.Reset()
	s.buf = make([]byte, s.cfg.bufferSize)
	return nil
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// run is the session goroutine. Once Initializing succeeds it always ends
// with the cursor closed and, unless Start gave up on it, exactly one
// terminal event.
func (s *session) run() {
	defer close(s.done)

	if err := s.initialize(); err != nil {
		s.initErr = err
		s.setState(StateStopped)
		close(s.ready)
		return
	}
	s.setState(StatePolling)
	close(s.ready)

	select {
	case <-s.launched:
	case <-s.sig.Done():
		s.finish(Stopped, "listening stopped")
		return
	}
	s.log.Debug("tailing started", zap.Bool("skip_to_end", s.skipToEnd), zap.Int64("size", s.lastSize))

	kind, msg := s.loop()
	s.finish(kind, msg)
}

func (s *session) loop() (TerminalKind, string) {
	for {
		// A file that never stops growing never reaches the wait below.
		if s.sig.Cancelled() {
			return Stopped, "listening stopped"
		}

		n, kind, msg, ended := s.poll()
		if ended {
			return kind, msg
		}
		if n > 0 {
			continue
		}

		s.setState(StateWaiting)
		if ok, err := s.cur.Exists(); err != nil {
			return ReadError, err.Error()
		} else if !ok {
			return Truncated, fmt.Sprintf("file removed: %s", s.path)
		}
		if s.sig.Wait(s.cfg.pollInterval) == cancellation.Cancelled {
			return Stopped, "listening stopped"
		}
		s.setState(StatePolling)
	}
}

// poll reads one chunk and delivers the complete lines in it. A panic
// anywhere in the step, including inside an inline observer, ends the
// session with ListenerFault.
func (s *session) poll() (n int, kind TerminalKind, msg string, ended bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("fault while reading", zap.Any("panic", r))
			n, kind, msg, ended = 0, ListenerFault, fmt.Sprintf("unexpected fault: %v", r), true
		}
	}()

	n, err := s.cur.ReadChunk(s.buf)
	if err != nil {
		return 0, ReadError, err.Error(), true
	}
	size, err := s.cur.CurrentSize()
	if err != nil {
		return 0, ReadError, err.Error(), true
	}
	if size < s.lastSize {
		return 0, Truncated, fmt.Sprintf("file truncated from %d to %d bytes", s.lastSize, size), true
	}
	s.lastSize = size

	if n > 0 {
		s.split.Feed(s.buf[:n], s.deliver)
	}
	return n, 0, "", false
}

func (s *session) deliver(line []byte) {
	if s.sig.Cancelled() {
		return
	}
	owned := bytes.Clone(line)
	if owned == nil {
		owned = []byte{}
	}
	s.cfg.dispatcher.Dispatch(func() {
		if !s.enterCallback(false) {
			return
		}
		defer s.leaveCallback()
		s.observer.OnLine(s.id, owned)
	})
}

// enterCallback marks an observer call as running. Lines are refused once
// the session is cancelled; the terminal event is always let through.
func (s *session) enterCallback(terminal bool) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if !terminal && s.sig.Cancelled() {
		return false
	}
	s.inCallback = true
	return true
}

func (s *session) leaveCallback() {
	s.cbMu.Lock()
	s.inCallback = false
	s.cbMu.Unlock()
}

func (s *session) finish(kind TerminalKind, msg string) {
	if err := s.cur.Close(); err != nil {
		s.log.Warn("closing file", zap.Error(err))
	}
	s.split.Reset()
	s.buf = nil
	s.setState(StateStopped)

	if kind == Stopped {
		s.log.Debug("tailing ended", zap.Stringer("kind", kind), zap.String("message", msg))
	} else {
		s.log.Info("tailing ended", zap.Stringer("kind", kind), zap.String("message", msg))
	}

	if s.abandoned.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("observer panicked on terminal event", zap.Any("panic", r))
		}
	}()
	s.cfg.dispatcher.Dispatch(func() {
		s.enterCallback(true)
		defer s.leaveCallback()
		s.observer.OnTerminal(s.id, kind, msg)
	})
}

// stop requests cancellation and waits for the goroutine to exit. While
// one of the session's observer callbacks is running, stop only requests
// cancellation: the callback may itself be the caller, and waiting would
// never end. No line is delivered after stop returns either way.
func (s *session) stop() {
	s.cbMu.Lock()
	s.sig.Cancel()
	reentrant := s.inCallback
	s.cbMu.Unlock()

	if reentrant {
		return
	}
	<-s.done
}

// abandon cancels a session whose Start failed. It reports nothing to its
// observer.
func (s *session) abandon() {
	s.abandoned.Store(true)
	s.sig.Cancel()
}
