// Package cursor wraps one read-only file handle for incremental reading.
package cursor

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// ErrNotAccessible is returned when the file cannot be opened or the cursor
// has already been closed.
var ErrNotAccessible = errors.New("file not accessible")

// Cursor owns an open file and reads it forward chunk by chunk.
// It is not safe for concurrent use; the tail session that owns it
// serializes every call.
type Cursor struct {
	fs   afero.Fs
	path string
	f    afero.File
}

// Open opens path on fs for reading. Other writers and readers are not
// locked out.
func Open(fs afero.Fs, path string) (*Cursor, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrNotAccessible, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrNotAccessible, path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotAccessible, path)
	}
	return &Cursor{fs: fs, path: path, f: f}, nil
}

// Path returns the path the cursor was opened with.
func (c *Cursor) Path() string { return c.path }

// SeekToEnd moves the read offset to the current end of file and returns it.
func (c *Cursor) SeekToEnd() (int64, error) {
	if c.f == nil {
		return 0, ErrNotAccessible
	}
	off, err := c.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek to end of %s: %w", c.path, err)
	}
	return off, nil
}

// ReadChunk performs a single read into buf. Zero bytes with a nil error
// means the reader has caught up with the writer.
func (c *Cursor) ReadChunk(buf []byte) (int, error) {
	if c.f == nil {
		return 0, ErrNotAccessible
	}
	n, err := c.f.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("reading %s: %w", c.path, err)
	}
	return n, nil
}

// CurrentSize reports the size of the open file without moving the offset.
func (c *Cursor) CurrentSize() (int64, error) {
	if c.f == nil {
		return 0, ErrNotAccessible
	}
	info, err := c.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", c.path, err)
	}
	return info.Size(), nil
}

// Exists reports whether the path the cursor was opened with still
// resolves on the file system.
func (c *Cursor) Exists() (bool, error) {
	if c.f == nil {
		return false, ErrNotAccessible
	}
	return afero.Exists(c.fs, c.path)
}

// Close releases the handle. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}
