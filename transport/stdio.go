package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// DefaultMaxLineSize bounds a single stdio payload.
const DefaultMaxLineSize = 4 * middleware.MB

// Stdio serves one fixed service over newline-delimited payloads on
// stdin and stdout.
type Stdio struct {
	service     string
	in          io.Reader
	out         io.Writer
	maxLineSize int

	mu sync.Mutex
}

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithStdin sets a custom stdin reader.
func WithStdin(r io.Reader) StdioOption {
	return func(s *Stdio) {
		s.in = r
	}
}

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) StdioOption {
	return func(s *Stdio) {
		s.out = w
	}
}

// WithMaxLineSize bounds the length of one input line.
func WithMaxLineSize(n int) StdioOption {
	return func(s *Stdio) {
		s.maxLineSize = n
	}
}

// NewStdio creates a stdio transport for service.
func NewStdio(service string, opts ...StdioOption) *Stdio {
	s := &Stdio{
		service:     service,
		in:          os.Stdin,
		out:         os.Stdout,
		maxLineSize: DefaultMaxLineSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Addr returns the transport address.
func (s *Stdio) Addr() string {
	return "stdio"
}

// Serve handles payloads from stdin until EOF or until ctx is canceled.
func (s *Stdio) Serve(ctx context.Context, handler Handler) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, min(64*1024, s.maxLineSize)), s.maxLineSize)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErr <- err
		}
	}()

	ctx = protocol.SetRequestMeta(ctx, protocol.MetaTransport, "stdio")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			s.handleLine(ctx, handler, line)
		}
	}
}

func (s *Stdio) handleLine(ctx context.Context, handler Handler, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	out := handler.HandleMessage(ctx, s.service, line)
	if out == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(out)
	_, _ = s.out.Write([]byte("\n"))
}
