package media

import (
	"bytes"
	"errors"
)

// ErrCapacityExceeded is returned by Sink.Write when the write would push the
// buffer past its capacity.
var ErrCapacityExceeded = errors.New("buffer capacity exceeded")

// Sink is an append-only in-memory byte sink with a hard capacity. A write
// that would exceed the capacity fails whole: nothing is retained from it and
// the previously accumulated bytes are unchanged. Every media-producing step
// funnels its output through a Sink so an untrusted input can never grow the
// process past the configured ceiling.
type Sink struct {
	limit int
	buf   bytes.Buffer
}

func NewSink(limit int) *Sink {
	return &Sink{limit: limit}
}

// Write implements io.Writer with all-or-nothing semantics.
func (s *Sink) Write(p []byte) (int, error) {
	if s.buf.Len()+len(p) > s.limit {
		return 0, ErrCapacityExceeded
	}
	return s.buf.Write(p)
}

// Bytes returns the accumulated bytes.
func (s *Sink) Bytes() []byte {
	return s.buf.Bytes()
}

// Len returns the number of accumulated bytes.
func (s *Sink) Len() int {
	return s.buf.Len()
}
