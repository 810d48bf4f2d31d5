package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ProcessResult is the exit status of a bridge process.
type ProcessResult struct {
	// ExitCode is the process exit code (-1 if killed by a signal).
	ExitCode int
	// Stderr is the captured diagnostic output.
	Stderr string
}

// process manages one bridge helper. Stdin and stdout carry ipc frames;
// stderr is captured for diagnostics.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *syncBuffer

	once   sync.Once
	result *ProcessResult
	err    error
}

// startProcess launches path with args. The helper's lifetime is not tied
// to any context: an erase or write in progress runs to completion, and the
// process only ends through stop.
func startProcess(path string, args []string) (*process, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start bridge %s: %w", path, err)
	}

	return &process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// stop closes stdin and waits for the process to exit, killing it after
// timeout. It is safe to call more than once.
func (p *process) stop(timeout time.Duration) (*ProcessResult, error) {
	p.once.Do(func() {
		_ = p.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()

		var err error
		select {
		case err = <-done:
		case <-time.After(timeout):
			_ = p.cmd.Process.Kill()
			err = <-done
		}

		p.result = &ProcessResult{Stderr: strings.TrimSpace(p.stderr.String())}
		if err == nil {
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				p.result.ExitCode = status.ExitStatus()
			} else {
				p.result.ExitCode = -1
			}
			return
		}
		p.err = fmt.Errorf("bridge wait failed: %w", err)
	})
	return p.result, p.err
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
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
