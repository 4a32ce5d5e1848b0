package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

func TestTimeout(t *testing.T) {
	t.Run("allows fast calls", func(t *testing.T) {
		handler := Timeout(100 * time.Millisecond)(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			return okResponse(req), nil
		})

		resp, err := handler(context.Background(), addRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp == nil {
			t.Fatal("expected response")
		}
	})

	t.Run("sets deadline on context", func(t *testing.T) {
		var hasDeadline bool
		handler := Timeout(time.Second)(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			_, hasDeadline = ctx.Deadline()
			return okResponse(req), nil
		})

		_, _ = handler(context.Background(), addRequest())
		if !hasDeadline {
			t.Error("expected context to have deadline")
		}
	})

	t.Run("maps deadline exceeded to server error", func(t *testing.T) {
		handler := Timeout(10 * time.Millisecond)(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		_, err := handler(context.Background(), addRequest())
		rpcErr := protocol.AsError(err)
		if rpcErr.Code != protocol.ServerErrorCode() {
			t.Fatalf("Code = %d, want %d", rpcErr.Code, protocol.ServerErrorCode())
		}
		if rpcErr.Message != "Server error: "+MessageTimeout {
			t.Errorf("Message = %q", rpcErr.Message)
		}
		if !strings.HasPrefix(rpcErr.Internal(), "add: ") {
			t.Errorf("Internal() = %q", rpcErr.Internal())
		}
	})

	t.Run("leaves other errors alone", func(t *testing.T) {
		want := errors.New("other")
		handler := Timeout(time.Second)(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			return nil, want
		})

		if _, err := handler(context.Background(), addRequest()); !errors.Is(err, want) {
			t.Errorf("err = %v", err)
		}
	})
}
