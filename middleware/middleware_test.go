package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

func TestDefaultStack(t *testing.T) {
	logger := &mockLogger{}

	var requestID string
	var hasDeadline bool
	handler := Chain(DefaultStackWithTimeout(logger, time.Second)...)(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		requestID = RequestIDFromContext(ctx)
		_, hasDeadline = ctx.Deadline()
		panic("boom")
	})

	_, err := handler(context.Background(), addRequest())
	if protocol.AsError(err).Code != protocol.CodeInternalError {
		t.Fatalf("err = %v", err)
	}
	if requestID == "" || !hasDeadline {
		t.Errorf("requestID = %q, deadline = %v", requestID, hasDeadline)
	}
	if len(logger.entries) != 0 {
		t.Errorf("logging runs inside recover, got %d entries", len(logger.entries))
	}

	if n := len(DefaultStack(logger)); n != 3 {
		t.Errorf("DefaultStack has %d entries", n)
	}
}
