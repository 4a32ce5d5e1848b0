package client

import (
	"context"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
	"github.com/felixgeelhaar/jsonrpc-go/transport"
)

// InProcessTransport hands payloads straight to a server-side handler,
// such as a *server.Router, without any I/O.
type InProcessTransport struct {
	handler transport.Handler
}

// NewInProcessTransport creates a transport over h.
func NewInProcessTransport(h transport.Handler) *InProcessTransport {
	return &InProcessTransport{handler: h}
}

// Call runs payload through the handler and returns its reply.
func (t *InProcessTransport) Call(ctx context.Context, service string, _ protocol.ID, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.handler.HandleMessage(ctx, service, payload), nil
}

// Notify runs payload through the handler.
func (t *InProcessTransport) Notify(ctx context.Context, service string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.handler.HandleMessage(ctx, service, payload)
	return nil
}

// Close is a no-op.
func (t *InProcessTransport) Close() error {
	return nil
}
