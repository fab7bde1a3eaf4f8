// Package engine abstracts the speech-to-text capability: given a waveform
// file and options it produces a lazy, finite, non-restartable stream of
// timed segments plus summary info.
package engine

import "context"

// Options is the per-request option set. Decoding itself is deterministic
// (temperature 0, beam search width 6, best-of 1, patience 1.0) and segments
// are decoded without conditioning on prior text so an early recognition
// error cannot propagate through a long recording; those parameters are fixed
// in the backend.
type Options struct {
	Language       string
	VADFilter      bool
	MinSilenceMs   int // minimum silence gate for the VAD filter
	WordTimestamps bool
}

// Segment is one recognized span as emitted by the engine, untrimmed.
type Segment struct {
	Start      float64
	End        float64
	Text       string
	AvgLogProb float64
}

// Info is the engine's summary of the whole input.
type Info struct {
	Language string
	Duration float64 // seconds; 0 when unknown
}

// Stream is a pull cursor over the engine's segment output. Next returns
// io.EOF after the final segment. The stream cannot be rewound or restarted.
type Stream interface {
	Next() (*Segment, error)
	Info() Info
	Close() error
}

// Engine produces transcriptions from waveform files.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, error)
}
