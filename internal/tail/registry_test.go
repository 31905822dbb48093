package tail

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type terminal struct {
	id      string
	kind    TerminalKind
	message string
}

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu    sync.Mutex
	lines []string
	terms []terminal

	lineCh chan string
	termCh chan terminal
}

func newRecorder() *recorder {
	return &recorder{
		lineCh: make(chan string, 1024),
		termCh: make(chan terminal, 16),
	}
}

func (r *recorder) OnLine(id string, line []byte) {
	r.mu.Lock()
	r.lines = append(r.lines, string(line))
	r.mu.Unlock()
	r.lineCh <- string(line)
}

func (r *recorder) OnTerminal(id string, kind TerminalKind, message string) {
	t := terminal{id: id, kind: kind, message: message}
	r.mu.Lock()
	r.terms = append(r.terms, t)
	r.mu.Unlock()
	r.termCh <- t
}

func (r *recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *recorder) Terminals() []terminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]terminal(nil), r.terms...)
}

func (r *recorder) waitLines(t *testing.T, n int) []string {
	t.Helper()
	var got []string
	timer := time.NewTimer(3 * time.Second)
	defer timer.Stop()
	for len(got) < n {
		select {
		case l := <-r.lineCh:
			got = append(got, l)
		case <-timer.C:
			t.Fatalf("timeout waiting for lines: got %v, want %d", got, n)
		}
	}
	return got
}

func (r *recorder) waitTerminal(t *testing.T) terminal {
	t.Helper()
	select {
	case term := <-r.termCh:
		return term
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for terminal event")
		return terminal{}
	}
}

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithPollInterval(20 * time.Millisecond),
	}, opts...)
	r := NewRegistry(opts...)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistry_TailFromStart(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "line1\nline2\n")
	r := newTestRegistry(t)
	rec := newRecorder()

	require.NoError(t, r.Start("app", path, false, rec))
	assert.Equal(t, []string{"line1", "line2"}, rec.waitLines(t, 2))

	appendLog(t, path, "line3\r\npart")
	assert.Equal(t, []string{"line3"}, rec.waitLines(t, 1))

	appendLog(t, path, "ial\n")
	assert.Equal(t, []string{"partial"}, rec.waitLines(t, 1))
}

func TestRegistry_SkipToEnd(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "old1\nold2\n")
	r := newTestRegistry(t)
	rec := newRecorder()

	require.NoError(t, r.Start("app", path, true, rec))
	appendLog(t, path, "new\n")

	assert.Equal(t, []string{"new"}, rec.waitLines(t, 1))
	assert.Equal(t, []string{"new"}, rec.Lines())
}

func TestRegistry_SmallBufferKeepsLinesWhole(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "hello world\r\nsecond line\n")
	r := newTestRegistry(t, WithReadBufferSize(3))
	rec := newRecorder()

	require.NoError(t, r.Start("app", path, false, rec))
	assert.Equal(t, []string{"hello world", "second line"}, rec.waitLines(t, 2))
}

func TestRegistry_PollingOnly(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "")
	r := newTestRegistry(t, WithWatch(false))
	rec := newRecorder()

	require.NoError(t, r.Start("app", path, false, rec))
	appendLog(t, path, "polled\n")
	assert.Equal(t, []string{"polled"}, rec.waitLines(t, 1))
}

func TestRegistry_StartMissingFile(t *testing.T) {
	r := newTestRegistry(t)
	rec := newRecorder()

	err := r.Start("app", filepath.Join(t.TempDir(), "missing.log"), false, rec)
	assert.ErrorIs(t, err, ErrFileOpenFailed)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, rec.Terminals())
}

func TestRegistry_StartValidation(t *testing.T) {
	r := newTestRegistry(t)

	assert.ErrorIs(t, r.Start("", "/tmp/x", false, newRecorder()), ErrEmptyIdentifier)
	assert.ErrorIs(t, r.Start("id", "/tmp/x", false, nil), ErrNilObserver)
}

func TestRegistry_Truncation(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "old1\nold2\n")
	r := newTestRegistry(t)
	rec := newRecorder()

	require.NoError(t, r.Start("app", path, false, rec))
	rec.waitLines(t, 2)

	require.NoError(t, os.Truncate(path, 0))
	term := rec.waitTerminal(t)
	assert.Equal(t, Truncated, term.kind)
	assert.Equal(t, "app", term.id)

	appendLog(t, path, "after\n")
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, []string{"old1", "old2"}, rec.Lines())
	assert.Len(t, rec.Terminals(), 1)

	state, ok := r.State("app")
	require.True(t, ok)
	assert.Equal(t, StateStopped, state)
	assert.Equal(t, []string{"app"}, r.IDs())

	// Stop on an already ended session succeeds and sends nothing more.
	require.NoError(t, r.Stop("app"))
	assert.Len(t, rec.Terminals(), 1)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Removal(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "x\n")
	r := newTestRegistry(t)
	rec := newRecorder()

	require.NoError(t, r.Start("app", path, false, rec))
	rec.waitLines(t, 1)

	require.NoError(t, os.Remove(path))
	term := rec.waitTerminal(t)
	assert.Equal(t, Truncated, term.kind)
	assert.Contains(t, term.message, "removed")
}

func TestRegistry_Stop(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "")
	r := newTestRegistry(t, WithPollInterval(time.Second))
	rec := newRecorder()

	require.NoError(t, r.Start("app", path, false, rec))

	start := time.Now()
	require.NoError(t, r.Stop("app"))
	// Cancellation interrupts the wait instead of sitting out the interval.
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	terms := rec.Terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, Stopped, terms[0].kind)
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.Stop("app"))
	assert.Len(t, rec.Terminals(), 1)
}

func TestRegistry_StopUnknown(t *testing.T) {
	r := newTestRegistry(t)
	assert.NoError(t, r.Stop("nobody"))
}

func TestRegistry_StopWhileFileKeepsGrowing(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "")
	r := newTestRegistry(t)
	rec := newRecorder()
	require.NoError(t, r.Start("app", path, false, ObserverFuncs{
		Terminal: rec.OnTerminal,
	}))

	stopWriting := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		for {
			select {
			case <-stopWriting:
				return
			default:
				f.WriteString("spam spam spam\n")
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		r.Stop("app")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while the file was growing")
	}
	close(stopWriting)
	<-writerDone

	require.Len(t, rec.Terminals(), 1)
	assert.Equal(t, Stopped, rec.Terminals()[0].kind)
}

func TestRegistry_ReplaceSameIdentifier(t *testing.T) {
	dir := t.TempDir()
	first := writeLog(t, dir, "first.log", "")
	second := writeLog(t, dir, "second.log", "")
	r := newTestRegistry(t)
	rec1, rec2 := newRecorder(), newRecorder()

	require.NoError(t, r.Start("app", first, false, rec1))
	appendLog(t, first, "from-first\n")
	rec1.waitLines(t, 1)

	require.NoError(t, r.Start("app", second, false, rec2))

	// The first observer was fully released before the second Start returned.
	terms := rec1.Terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, Stopped, terms[0].kind)
	assert.Equal(t, 1, r.Len())

	appendLog(t, first, "ignored\n")
	appendLog(t, second, "from-second\n")
	assert.Equal(t, []string{"from-second"}, rec2.waitLines(t, 1))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"from-first"}, rec1.Lines())
	assert.Empty(t, rec2.Terminals())
}

func TestRegistry_ConcurrentStartsSameIdentifier(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "")
	r := newTestRegistry(t)

	const n = 10
	recs := make([]*recorder, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		recs[i] = newRecorder()
		wg.Add(1)
		go func(rec *recorder) {
			defer wg.Done()
			assert.NoError(t, r.Start("app", path, false, rec))
		}(recs[i])
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	stopped := 0
	for _, rec := range recs {
		stopped += len(rec.Terminals())
	}
	assert.Equal(t, n-1, stopped)
}

func TestRegistry_StopAll(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t)

	const n = 5
	recs := make([]*recorder, n)
	for i := 0; i < n; i++ {
		recs[i] = newRecorder()
		path := writeLog(t, dir, fmt.Sprintf("app%d.log", i), "")
		require.NoError(t, r.Start(fmt.Sprintf("app%d", i), path, false, recs[i]))
	}
	assert.Equal(t, []string{"app0", "app1", "app2", "app3", "app4"}, r.IDs())

	r.StopAll()

	assert.Equal(t, 0, r.Len())
	for _, rec := range recs {
		terms := rec.Terminals()
		require.Len(t, terms, 1)
		assert.Equal(t, Stopped, terms[0].kind)
	}
}

func TestRegistry_StopAllWithFailedSessions(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t)
	failing := writeLog(t, dir, "failing.log", "abc\n")
	healthy := writeLog(t, dir, "healthy.log", "")
	recFail, recOK := newRecorder(), newRecorder()

	require.NoError(t, r.Start("failing", failing, false, recFail))
	require.NoError(t, r.Start("healthy", healthy, false, recOK))
	recFail.waitLines(t, 1)
	require.NoError(t, os.Truncate(failing, 0))
	assert.Equal(t, Truncated, recFail.waitTerminal(t).kind)

	r.StopAll()

	assert.Len(t, recFail.Terminals(), 1)
	require.Len(t, recOK.Terminals(), 1)
	assert.Equal(t, Stopped, recOK.Terminals()[0].kind)
}

func TestRegistry_ClosedRejectsStart(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "")
	r := newTestRegistry(t)
	rec := newRecorder()
	require.NoError(t, r.Start("app", path, false, rec))

	require.NoError(t, r.Close())
	assert.Len(t, rec.Terminals(), 1)
	assert.ErrorIs(t, r.Start("again", path, false, newRecorder()), ErrRegistryClosed)
}

func TestRegistry_ListenerFault(t *testing.T) {
	path := writeLog(t, t.TempDir(), "app.log", "boom\n")
	r := newTestRegistry(t)
	terms := make(chan terminal, 1)

	require.NoError(t, r.Start("app", path, false, ObserverFuncs{
		Line: func(string, []byte) { panic("observer exploded") },
		Terminal: func(id string, kind TerminalKind, msg string) {
			terms <- terminal{id: id, kind: kind, message: msg}
		},
	}))

	select {
	case term := <-terms:
		assert.Equal(t, ListenerFault, term.kind)
		assert.Contains(t, term.message, "observer exploded")
	case <-time.After(3 * time.Second):
		t.Fatal("no terminal event after observer panic")
	}
}

func TestRegistry_QueueDispatcher(t *testing.T) {
	dir := t.TempDir()
	first := writeLog(t, dir, "first.log", "a1\na2\n")
	second := writeLog(t, dir, "second.log", "b1\n")
	q := NewQueue(16, zaptest.NewLogger(t))
	r := newTestRegistry(t, WithDispatcher(q))

	var mu sync.Mutex
	var events []string
	obs := ObserverFuncs{
		Line: func(id string, line []byte) {
			mu.Lock()
			events = append(events, id+":"+string(line))
			mu.Unlock()
		},
		Terminal: func(id string, kind TerminalKind, _ string) {
			mu.Lock()
			events = append(events, id+":"+kind.String())
			mu.Unlock()
		},
	}

	require.NoError(t, r.Start("app", first, false, obs))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Start("app", second, false, obs))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 4
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Close())
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"app:a1", "app:a2", "app:stopped", "app:b1", "app:stopped"}, events)
}

func TestTerminalKind_String(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "truncated", Truncated.String())
	assert.Equal(t, "read-error", ReadError.String())
	assert.Equal(t, "listener-fault", ListenerFault.String())
	assert.Equal(t, "unknown", TerminalKind(9).String())
}
