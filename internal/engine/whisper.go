package engine

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/openscribe/api/internal/config"
)

//go:embed assets/faster_whisper.py
var helperScript []byte

// WhisperEngine runs faster-whisper through an embedded python helper that
// emits NDJSON: an info line first, then one line per segment as the model
// produces it. Reading the subprocess stdout line by line is what makes the
// stream lazy on the Go side.
type WhisperEngine struct {
	cfg *config.WhisperConfig
}

func NewWhisperEngine(cfg *config.WhisperConfig) *WhisperEngine {
	return &WhisperEngine{cfg: cfg}
}

func (e *WhisperEngine) Transcribe(ctx context.Context, audioPath string, opts Options) (Stream, error) {
	// One script copy per invocation so concurrent jobs never race on the
	// file's lifetime.
	script, err := os.CreateTemp("", "faster_whisper_*.py")
	if err != nil {
		return nil, fmt.Errorf("write helper script: %w", err)
	}
	scriptPath := script.Name()
	if _, err := script.Write(helperScript); err != nil {
		script.Close()
		os.Remove(scriptPath)
		return nil, fmt.Errorf("write helper script: %w", err)
	}
	if err := script.Close(); err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("write helper script: %w", err)
	}

	args := []string{
		scriptPath,
		"--audio", audioPath,
		"--model", e.cfg.Model,
		"--device", e.cfg.Device,
		"--compute-type", e.cfg.ComputeType,
		"--min-silence-ms", strconv.Itoa(opts.MinSilenceMs),
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.VADFilter {
		args = append(args, "--vad")
	}
	if opts.WordTimestamps {
		args = append(args, "--word-timestamps")
	}

	python := e.cfg.PythonPath
	if python == "" {
		python = "python3"
	}

	cmd := exec.CommandContext(ctx, python, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(scriptPath)
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		os.Remove(scriptPath)
		return nil, fmt.Errorf("start whisper helper: %w", err)
	}

	wait := func() error {
		defer os.Remove(scriptPath)
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("whisper: %s", engineFailure(stderr.String(), err))
		}
		return nil
	}
	kill := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	stream, err := newStream(stdout, wait, kill)
	if err != nil {
		kill()
		_ = wait()
		return nil, err
	}
	return stream, nil
}

func engineFailure(diag string, err error) string {
	lines := strings.Split(strings.TrimSpace(diag), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return err.Error()
}

// ndjsonLine is the wire format shared by info and segment lines.
type ndjsonLine struct {
	Type       string  `json:"type"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
}

type ndjsonStream struct {
	scanner *bufio.Scanner
	info    Info
	wait    func() error
	kill    func()
	done    bool
}

// newStream reads the leading info line eagerly (the consumer needs the
// duration before the segment loop starts) and leaves the rest of the output
// unread until Next is called.
func newStream(r io.Reader, wait func() error, kill func()) (*ndjsonStream, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, fmt.Errorf("engine produced no output")
	}
	var first ndjsonLine
	if err := json.Unmarshal(scanner.Bytes(), &first); err != nil {
		return nil, fmt.Errorf("parse engine output: %w", err)
	}
	if first.Type != "info" {
		return nil, fmt.Errorf("engine output started with %q, want info", first.Type)
	}

	return &ndjsonStream{
		scanner: scanner,
		info:    Info{Language: first.Language, Duration: first.Duration},
		wait:    wait,
		kill:    kill,
	}, nil
}

func (s *ndjsonStream) Info() Info {
	return s.info
}

// Next returns the following segment, or io.EOF after the stream ends. When
// the subprocess exited non-zero its diagnostics are surfaced instead of EOF.
func (s *ndjsonStream) Next() (*Segment, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var parsed ndjsonLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			s.finish()
			return nil, fmt.Errorf("parse engine output: %w", err)
		}
		if parsed.Type != "segment" {
			continue
		}
		return &Segment{
			Start:      parsed.Start,
			End:        parsed.End,
			Text:       parsed.Text,
			AvgLogProb: parsed.AvgLogProb,
		}, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.finish()
		return nil, err
	}

	// Output is exhausted; a non-zero exit turns into the job's failure.
	s.done = true
	if s.wait != nil {
		if err := s.wait(); err != nil {
			return nil, err
		}
		s.wait = nil
	}
	return nil, io.EOF
}

// finish reaps the subprocess after an unrecoverable read error.
func (s *ndjsonStream) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.kill != nil {
		s.kill()
	}
	if s.wait != nil {
		_ = s.wait()
		s.wait = nil
	}
}

// Close terminates the stream early. Safe to call after exhaustion.
func (s *ndjsonStream) Close() error {
	s.finish()
	return nil
}
