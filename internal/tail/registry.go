// Package tail follows many files at once, each under a caller-chosen
// identifier, and reports their new lines to an Observer.
//
// Every session runs on its own goroutine and ends with exactly one
// terminal event. Failures while tailing are reported through that event;
// only start-time failures are returned as errors.
package tail

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is how long a caught-up session waits before
	// checking the file again.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultReadBufferSize is the size of each session's read buffer.
	DefaultReadBufferSize = 2 * 1024 * 1024
	// DefaultLaunchTimeout bounds how long Start waits for a session to
	// begin polling.
	DefaultLaunchTimeout = 5 * time.Second
)

var (
	// ErrFileOpenFailed wraps failures to open or position the file.
	ErrFileOpenFailed = errors.New("couldn't open the file for read access")
	// ErrSessionLaunchFailed is returned when a session doesn't start polling in time.
	ErrSessionLaunchFailed = errors.New("couldn't start file listening")
	// ErrRegistryClosed is returned by Start after Close.
	ErrRegistryClosed = errors.New("registry closed")
	// ErrEmptyIdentifier is returned by Start for an empty identifier.
	ErrEmptyIdentifier = errors.New("empty session identifier")
	// ErrNilObserver is returned by Start without an observer.
	ErrNilObserver = errors.New("nil observer")
)

// Option configures a Registry.
type Option func(*Registry)

// WithFs sets the file system sessions read from.
func WithFs(fs afero.Fs) Option {
	return func(r *Registry) { r.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithDispatcher sets how observer callbacks reach the host.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Registry) { r.dispatcher = d }
}

// WithPollInterval sets the wait between polls of a caught-up session.
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) { r.pollInterval = d }
}

// WithReadBufferSize sets the per-session read buffer size.
func WithReadBufferSize(n int) Option {
	return func(r *Registry) { r.bufferSize = n }
}

// WithLaunchTimeout bounds how long Start waits for the session to poll.
func WithLaunchTimeout(d time.Duration) Option {
	return func(r *Registry) { r.launchTimeout = d }
}

// WithWatch enables or disables file change notifications. When disabled
// or unavailable, sessions only poll.
func WithWatch(enabled bool) Option {
	return func(r *Registry) { r.watch = enabled }
}

type entry struct {
	session  *session
	observer Observer
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Registry maps identifiers to running sessions. It is safe for
// concurrent use. Call Close when done with it.
type Registry struct {
	fs            afero.Fs
	log           *zap.Logger
	dispatcher    Dispatcher
	pollInterval  time.Duration
	bufferSize    int
	launchTimeout time.Duration
	watch         bool

	watcher   *watcher
	closeOnce sync.Once
	closeErr  error

	// mu guards the maps and closed. It is never held across a blocking call.
	mu      sync.Mutex
	entries map[string]*entry
	keys    map[string]*keyLock
	closed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		fs:            afero.NewOsFs(),
		log:           zap.NewNop(),
		dispatcher:    Inline,
		pollInterval:  DefaultPollInterval,
		bufferSize:    DefaultReadBufferSize,
		launchTimeout: DefaultLaunchTimeout,
		watch:         true,
		entries:       map[string]*entry{},
		keys:          map[string]*keyLock{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.bufferSize <= 0 {
		r.bufferSize = DefaultReadBufferSize
	}
	if r.launchTimeout <= 0 {
		r.launchTimeout = DefaultLaunchTimeout
	}
	if r.watch {
		w, err := newWatcher(r.log)
		if err != nil {
			r.log.Warn("file change notifications unavailable, polling only", zap.Error(err))
		} else {
			r.watcher = w
		}
	}
	return r
}

// lockKey serializes Start and Stop per identifier so a new session never
// starts while the previous one for the same identifier is still shutting
// down. It returns the unlock function.
func (r *Registry) lockKey(id string) func() {
	r.mu.Lock()
	k := r.keys[id]
	if k == nil {
		k = &keyLock{}
		r.keys[id] = k
	}
	k.refs++
	r.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		r.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(r.keys, id)
		}
		r.mu.Unlock()
	}
}

// Start tails path under id and reports to obs. A session already running
// under id is stopped first and its observer receives its Stopped event
// before the new session opens the file. With skipToEnd only content
// appended after Start is reported.
//
// When Start returns an error, obs receives no event at all. A session
// that does not finish Initializing within the launch timeout is given up
// with ErrSessionLaunchFailed; it closes the file if the open completes
// later.
func (r *Registry) Start(id, path string, skipToEnd bool, obs Observer) error {
	if id == "" {
		return ErrEmptyIdentifier
	}
	if obs == nil {
		return ErrNilObserver
	}

	unlock := r.lockKey(id)
	defer unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	old := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if old != nil {
		r.log.Debug("replacing session", zap.String("id", id))
		r.release(old)
	}

	s := newSession(id, path, skipToEnd, obs, sessionConfig{
		fs:           r.fs,
		pollInterval: r.pollInterval,
		bufferSize:   r.bufferSize,
		dispatcher:   r.dispatcher,
		log:          r.log,
	})
	go s.run()

	select {
	case <-s.ready:
		if s.initErr != nil {
			return fmt.Errorf("%w: %v", ErrFileOpenFailed, s.initErr)
		}
	case <-time.After(r.launchTimeout):
		s.abandon()
		return fmt.Errorf("%w: %s did not start within %s", ErrSessionLaunchFailed, id, r.launchTimeout)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.abandon()
		return ErrRegistryClosed
	}
	r.entries[id] = &entry{session: s, observer: obs}
	r.mu.Unlock()

	if err := r.watcher.add(path, s.sig); err != nil {
		r.log.Warn("no change notifications for file", zap.String("path", path), zap.Error(err))
	}
	close(s.launched)
	return nil
}

// Stop cancels the session under id and waits until it has delivered its
// terminal event. Unknown identifiers are ignored.
//
// Stop may be called from the session's own observer callbacks. It then
// returns without waiting: the terminal event follows once the callback
// returns, and no further line is delivered. The same holds for a Stop from
// another goroutine that happens while such a callback runs.
func (r *Registry) Stop(id string) error {
	unlock := r.lockKey(id)
	defer unlock()

	r.mu.Lock()
	e := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if e != nil {
		r.release(e)
	}
	return nil
}

// StopAll stops every session that is running when it is called.
func (r *Registry) StopAll() {
	ids := r.IDs()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = r.Stop(id)
		}(id)
	}
	wg.Wait()
}

// Close stops all sessions, refuses further Starts and releases the
// change watcher. Later calls return the first result.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		r.StopAll()
		r.closeErr = r.watcher.close()
	})
	return r.closeErr
}

// IDs returns the identifiers in the registry, sorted. This includes
// sessions that ended on their own and wait in StateStopped for Stop.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of sessions in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// State reports the state of the session under id. A session that ended
// on its own stays in the registry in StateStopped until Stop or a
// replacing Start removes it.
func (r *Registry) State(id string) (State, bool) {
	r.mu.Lock()
	e := r.entries[id]
	r.mu.Unlock()
	if e == nil {
		return 0, false
	}
	return e.session.State(), true
}

// release stops the session and drops the observer reference. The caller
// must hold the key lock for the entry's identifier but not r.mu.
func (r *Registry) release(e *entry) {
	r.watcher.remove(e.session.path, e.session.sig)
	e.session.stop()
	e.observer = nil
}
