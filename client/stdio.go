package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// StdioTransport talks to a single service over newline-delimited payloads,
// either on the stdio of a spawned process or on a pair of pipes.
// The service argument of Call and Notify is ignored: the peer serves
// exactly one service.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr io.ReadCloser

	writeMu sync.Mutex
	pending *pending
	readWG  sync.WaitGroup

	closeOnce sync.Once
}

// NewStdioTransport spawns command and talks to it over its stdin and stdout.
func NewStdioTransport(command string, args ...string) (*StdioTransport, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	t := NewPipeTransport(stdout, stdin)
	t.cmd = cmd
	t.stderr = stderr
	return t, nil
}

// NewPipeTransport talks over r and w, which must carry newline-delimited
// payloads.
func NewPipeTransport(r io.Reader, w io.WriteCloser) *StdioTransport {
	t := &StdioTransport{
		stdin:   w,
		pending: newPending(middleware.NopLogger{}, ""),
	}

	t.readWG.Add(1)
	go t.readResponses(bufio.NewScanner(r))

	return t
}

// SetLogger sets the logger for replies no caller is waiting for.
func (t *StdioTransport) SetLogger(l middleware.Logger) {
	t.pending.setLogger(l)
}

// Call writes payload and waits for the reply carrying id.
func (t *StdioTransport) Call(ctx context.Context, _ string, id protocol.ID, payload []byte) ([]byte, error) {
	ch, err := t.pending.add(id)
	if err != nil {
		return nil, err
	}
	defer t.pending.remove(id)

	if err := t.write(payload); err != nil {
		return nil, err
	}
	return t.pending.wait(ctx, ch)
}

// Notify writes payload.
func (t *StdioTransport) Notify(_ context.Context, _ string, payload []byte) error {
	return t.write(payload)
}

func (t *StdioTransport) write(payload []byte) error {
	var line bytes.Buffer
	if err := json.Compact(&line, payload); err != nil {
		return fmt.Errorf("compact payload: %w", err)
	}
	line.WriteByte('\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(line.Bytes()); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// Close closes the transport and terminates the subprocess, if any.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.pending.fail(ErrClosed)

		// Closing stdin signals EOF to the peer.
		_ = t.stdin.Close()

		if t.cmd == nil {
			return
		}
		t.readWG.Wait()

		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill() //nolint:errcheck // Process may have already exited
		}
		err = t.cmd.Wait()
	})
	return err
}

func (t *StdioTransport) readResponses(scanner *bufio.Scanner) {
	defer t.readWG.Done()

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		t.pending.deliver(line)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	t.pending.fail(fmt.Errorf("%w: %v", ErrClosed, err))
}

// Stderr returns the stderr reader of the subprocess, or nil for pipes.
func (t *StdioTransport) Stderr() io.Reader {
	if t.stderr == nil {
		return nil
	}
	return t.stderr
}
