package media

import (
	"bytes"
	"errors"
	"testing"
)

func TestSinkWriteUpToLimit(t *testing.T) {
	s := NewSink(8)

	if _, err := s.Write([]byte("1234")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := s.Write([]byte("5678")); err != nil {
		t.Fatalf("write exactly up to the limit must succeed: %v", err)
	}
	if got := s.Bytes(); !bytes.Equal(got, []byte("12345678")) {
		t.Errorf("accumulated %q, want 12345678", got)
	}
}

func TestSinkRejectsOverflowWhole(t *testing.T) {
	s := NewSink(8)
	if _, err := s.Write([]byte("12345678")); err != nil {
		t.Fatalf("fill: %v", err)
	}

	_, err := s.Write([]byte("9"))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("one byte past the limit: got %v, want ErrCapacityExceeded", err)
	}

	// No partial write: prior contents unchanged, nothing beyond the limit kept.
	if got := s.Bytes(); !bytes.Equal(got, []byte("12345678")) {
		t.Errorf("buffer changed after failed write: %q", got)
	}
	if s.Len() != 8 {
		t.Errorf("Len = %d after failed write, want 8", s.Len())
	}
}

func TestSinkRejectsOversizedSingleWrite(t *testing.T) {
	s := NewSink(4)
	if _, err := s.Write(make([]byte, 5)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("got %v, want ErrCapacityExceeded", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after rejected write, want 0", s.Len())
	}
}
