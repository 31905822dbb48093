package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONAtLevel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")

	log, err := New("warn", "json", []string{out}, []string{"stderr"})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestNew_Console(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")

	log, err := New("debug", "console", []string{out}, []string{"stderr"})
	require.NoError(t, err)
	log.Debug("plain")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DEBUG")
	assert.Contains(t, string(data), "plain")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("loud", "json", []string{"stderr"}, []string{"stderr"})
	assert.Error(t, err)
}
