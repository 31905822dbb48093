package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrPathTraversal is returned for sandbox file names containing "..".
var ErrPathTraversal = errors.New(`can't use ".." in the filename parameter`)

// Files implements the one-shot file operations offered to scripts.
type Files struct {
	fs      afero.Fs
	sandbox string
}

// NewFiles returns file helpers on fs. Writes are confined to sandbox.
func NewFiles(fs afero.Fs, sandbox string) *Files {
	return &Files{fs: fs, sandbox: sandbox}
}

// ReadText returns the whole content of path.
func (f *Files) ReadText(path string) (string, error) {
	data, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// Exists reports whether path exists, file or directory.
func (f *Files) Exists(path string) bool {
	ok, err := afero.Exists(f.fs, path)
	return err == nil && ok
}

// IsDirectory reports whether path is an existing directory.
func (f *Files) IsDirectory(path string) bool {
	ok, err := afero.IsDir(f.fs, path)
	return err == nil && ok
}

// WriteSandboxed writes content to name inside the sandbox directory,
// creating parent directories, and returns the full path written.
func (f *Files) WriteSandboxed(name, content string) (string, error) {
	if name == "" {
		return "", errors.New("empty filename")
	}
	if strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	full := filepath.Join(f.sandbox, filepath.FromSlash(name))
	if err := f.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("unexpected error when trying to write to %s: %w", full, err)
	}
	if err := afero.WriteFile(f.fs, full, []byte(content), os.FileMode(0o644)); err != nil {
		return "", fmt.Errorf("unexpected error when trying to write to %s: %w", full, err)
	}
	return full, nil
}
