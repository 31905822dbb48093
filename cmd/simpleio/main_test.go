package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, stdin string, out *syncBuffer, args ...string) error {
	t.Helper()
	cmd := newRootCmd(strings.NewReader(stdin), out, &bytes.Buffer{})
	cmd.SetArgs(append(args, "--log-level", "error"))
	return cmd.Execute()
}

func TestVersion(t *testing.T) {
	out := &syncBuffer{}
	require.NoError(t, run(t, "", out, "version"))
	assert.Equal(t, "simpleio dev (none) built unknown\n", out.String())
}

func TestInvalidConfig(t *testing.T) {
	out := &syncBuffer{}
	err := run(t, "", out, "host", "--log-encoding", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.encoding")

	err = run(t, "", out, "host", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestHostCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi\n"), 0o644))

	script := fmt.Sprintf("fileExists %s\nwriteLocalAppDataFile state.txt saved\nshutdown\n", path)
	out := &syncBuffer{}
	require.NoError(t, run(t, script, out, "host", "--sandbox-dir", filepath.Join(dir, "sandbox")))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `{"cmd":"fileExists","status":true,"data":true}`, lines[0])
	assert.Contains(t, lines[1], `"cmd":"writeLocalAppDataFile","status":true`)
	assert.Equal(t, `{"cmd":"shutdown","status":true,"data":null}`, lines[2])

	written, err := os.ReadFile(filepath.Join(dir, "sandbox", "state.txt"))
	require.NoError(t, err)
	assert.Equal(t, "saved", string(written))
}

func TestTailPlainEndsWhenFileTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\n"), 0o644))

	out := &syncBuffer{}
	errc := make(chan error, 1)
	go func() {
		errc <- run(t, "", out, "tail", path, "--from-start", "--plain", "--poll-interval", "10ms")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "second")
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, os.Truncate(path, 0))

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "app.log: truncated")
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not return after truncation")
	}

	assert.Equal(t, "first\nsecond\n[truncated] file truncated from 13 to 0 bytes\n", out.String())
}

func TestTailMissingFile(t *testing.T) {
	out := &syncBuffer{}
	err := run(t, "", out, "tail", filepath.Join(t.TempDir(), "*.log"), "--plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}
