package media

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
)

// runResult is the captured output of a finished subprocess.
type runResult struct {
	Stdout []byte
	Stderr []byte
}

// commandRunner abstracts subprocess execution so the processor can be tested
// without ffmpeg installed.
type commandRunner interface {
	// run executes the command to completion and captures both streams.
	run(ctx context.Context, name string, args ...string) (runResult, error)
	// start launches the command and exposes its stdout for incremental reads.
	start(ctx context.Context, name string, args ...string) (mediaPipe, error)
}

// mediaPipe is a running subprocess producing media bytes on stdout.
type mediaPipe interface {
	io.Reader
	// Kill terminates the subprocess immediately.
	Kill() error
	// Wait reaps the subprocess after its output is drained.
	Wait() error
	// Stderr returns whatever diagnostics the subprocess wrote so far.
	Stderr() string
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) (runResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return runResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, err
}

func (execRunner) start(ctx context.Context, name string, args ...string) (mediaPipe, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execPipe{cmd: cmd, out: stdout, stderr: &stderr}, nil
}

type execPipe struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *bytes.Buffer
}

func (p *execPipe) Read(b []byte) (int, error) {
	return p.out.Read(b)
}

func (p *execPipe) Kill() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.out.Close()
	return p.cmd.Wait()
}

func (p *execPipe) Wait() error {
	return p.cmd.Wait()
}

func (p *execPipe) Stderr() string {
	return p.stderr.String()
}

// lastLine extracts the last non-empty line of subprocess diagnostics, which
// is where ffmpeg puts the actual failure reason.
func lastLine(diag string) string {
	lines := strings.Split(strings.TrimSpace(diag), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
