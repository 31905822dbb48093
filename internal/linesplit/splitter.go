// Package linesplit turns an arbitrarily chunked byte stream into lines.
package linesplit

import "bytes"

// Splitter accumulates partial lines across Feed calls and emits complete
// lines terminated by "\n" or "\r\n". A bare "\r" is ordinary content.
//
// Lines have no length cap: input that never contains a terminator keeps
// growing the pending fragment.
type Splitter struct {
	pending []byte
}

// Feed scans p for line terminators and calls emit once per complete line,
// without its terminator. The slice passed to emit is only valid for the
// duration of the call. Bytes after the last terminator are kept for the
// next Feed.
func (s *Splitter) Feed(p []byte, emit func(line []byte)) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			s.pending = append(s.pending, p...)
			return
		}

		var line []byte
		if len(s.pending) > 0 {
			s.pending = append(s.pending, p[:i]...)
			line = s.pending
		} else {
			line = p[:i]
		}
		// The '\r' of a "\r\n" pair may have arrived in an earlier chunk.
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		emit(line)

		s.pending = s.pending[:0]
		p = p[i+1:]
	}
}

// Pending returns the bytes held back waiting for a terminator.
func (s *Splitter) Pending() []byte {
	return s.pending
}

// Reset drops any accumulated fragment.
func (s *Splitter) Reset() {
	s.pending = nil
}
