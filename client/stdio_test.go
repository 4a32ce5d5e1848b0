package client_test

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/felixgeelhaar/jsonrpc-go/client"
	"github.com/felixgeelhaar/jsonrpc-go/transport"
)

// startPipeServer serves the arith router over in-memory pipes and returns a
// client transport connected to it.
func startPipeServer(t *testing.T) *client.StdioTransport {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	srv := transport.NewStdio("arith", transport.WithStdin(reqR), transport.WithStdout(respW))
	done := make(chan error, 1)
	go func() {
		err := srv.Serve(context.Background(), newArithRouter(t))
		_ = respW.Close()
		done <- err
	}()

	tr := client.NewPipeTransport(respR, reqW)
	t.Cleanup(func() {
		_ = tr.Close()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("server returned %v", err)
			}
		case <-time.After(time.Second):
			t.Error("server did not stop after the client closed")
		}
	})
	return tr
}

func TestStdioTransport_Pipes(t *testing.T) {
	c := client.New(startPipeServer(t), client.WithTimeout(5*time.Second))
	ctx := context.Background()
	svc := c.Service("arith")

	sum, err := client.Call[int](ctx, svc, "add", 20, 22)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 42 {
		t.Errorf("add = %d", sum)
	}

	if err := svc.Notify(ctx, "reset"); err != nil {
		t.Fatal(err)
	}

	// Notifications write no reply line, so the next read belongs to this call.
	doubled, err := client.Call[int](ctx, svc, "later", 5)
	if err != nil {
		t.Fatal(err)
	}
	if doubled != 10 {
		t.Errorf("later = %d", doubled)
	}
}

func TestStdioTransport_ClosedPeer(t *testing.T) {
	tr := startPipeServer(t)
	c := client.New(tr)

	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	err := c.Invoke(context.Background(), "arith", "add", nil, 1, 2)
	if !errors.Is(err, client.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestStdioTransport_Process(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	t.Run("peer echoing requests is a protocol error", func(t *testing.T) {
		tr, err := client.NewStdioTransport("cat")
		if err != nil {
			t.Fatalf("failed to create transport: %v", err)
		}
		defer tr.Close()

		c := client.New(tr, client.WithTimeout(5*time.Second))
		err = c.Invoke(context.Background(), "echo", "ping", nil)

		var perr *client.ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("expected *client.ProtocolError, got %v", err)
		}
		if !errors.Is(err, client.ErrMalformedResponse) {
			t.Errorf("expected ErrMalformedResponse, got %v", err)
		}
	})

	t.Run("handles process not found", func(t *testing.T) {
		_, err := client.NewStdioTransport("nonexistent-command-that-should-not-exist")
		if err == nil {
			t.Fatal("expected error for nonexistent command")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		tr, err := client.NewStdioTransport("cat")
		if err != nil {
			t.Fatalf("failed to create transport: %v", err)
		}

		if err := tr.Close(); err != nil {
			// cat may exit with a signal, which is expected
			t.Logf("close returned (expected): %v", err)
		}
		if err := tr.Close(); err != nil {
			t.Errorf("second close returned error: %v", err)
		}
	})
}
