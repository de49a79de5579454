package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yokitheyo/segscribe/internal/model"
)

const maxLineBytes = 64 * 1024 * 1024

// Process talks to a helper that loads the models once and then answers
// one JSON request line with one JSON response line. The helper announces
// readiness with {"ready": true}.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *lockedBuffer

	mu        sync.Mutex
	broken    atomic.Bool
	closeOnce sync.Once
}

// lockedBuffer collects helper stderr written from the exec copy goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// StartProcess launches the helper and waits for its ready line.
func StartProcess(ctx context.Context, name string, args ...string) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = os.Environ()
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		stderr: stderr,
	}

	ready := make(chan error, 1)
	go func() {
		resp, err := p.readResponse()
		if err == nil && !resp.Ready {
			err = fmt.Errorf("unexpected first line from helper")
		}
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("helper not ready: %w%s", err, p.stderrTail())
		}
		return p, nil
	case <-ctx.Done():
		_ = p.Close()
		return nil, ctx.Err()
	}
}

// Transcribe sends one request and waits for its answer. Calls on one
// process are serialized.
func (p *Process) Transcribe(ctx context.Context, req Request) ([]model.Span, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, &Error{Stage: "transcribe", Message: "audio path is required"}
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, &Error{Stage: "transcribe", Message: fmt.Sprintf("cannot access audio: %s", req.AudioPath), Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	line, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')
	if _, err := p.stdin.Write(line); err != nil {
		p.broken.Store(true)
		return nil, &Error{Stage: "transcribe", Message: "write request" + p.stderrTail(), Err: err}
	}

	resp, err := p.readResponse()
	if err != nil {
		p.broken.Store(true)
		return nil, &Error{Stage: "transcribe", Message: "read response" + p.stderrTail(), Err: err}
	}
	if resp.Error != "" {
		return nil, &Error{Stage: "transcribe", Message: resp.Error}
	}
	return toSpans(resp.Segments), nil
}

func (p *Process) readResponse() (wireResponse, error) {
	var resp wireResponse
	var buf []byte
	for {
		chunk, isPrefix, err := p.stdout.ReadLine()
		if err != nil {
			return resp, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return resp, fmt.Errorf("response line exceeds %d bytes", maxLineBytes)
		}
		if !isPrefix {
			break
		}
	}
	if err := json.Unmarshal(buf, &resp); err != nil {
		return resp, fmt.Errorf("parse helper output: %w", err)
	}
	return resp, nil
}

func (p *Process) stderrTail() string {
	msg := strings.TrimSpace(p.stderr.String())
	if msg == "" {
		return ""
	}
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	return " (stderr: " + msg + ")"
}

// Alive reports whether the pipe to the helper is still usable. A failed
// write or read means the helper exited or its stream is out of sync.
func (p *Process) Alive() bool {
	return !p.broken.Load()
}

// Close stops the helper.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.broken.Store(true)
		_ = p.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = p.cmd.Process.Kill()
			<-done
		}
	})
	return nil
}
