// Package transport carries JSON-RPC payloads between clients and a Handler.
package transport

import (
	"context"
	"net/http"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// Handler processes one inbound payload addressed to service and returns
// the bytes to send back. A nil result means nothing is sent.
// *server.Router and *server.Server implement Handler.
type Handler interface {
	HandleMessage(ctx context.Context, service string, payload []byte) []byte
}

// HandlerFunc is an adapter to allow ordinary functions as handlers.
type HandlerFunc func(ctx context.Context, service string, payload []byte) []byte

// HandleMessage calls f(ctx, service, payload).
func (f HandlerFunc) HandleMessage(ctx context.Context, service string, payload []byte) []byte {
	return f(ctx, service, payload)
}

// Transport defines the communication layer interface.
type Transport interface {
	// Serve starts the transport, blocking until ctx is canceled or an error occurs.
	Serve(ctx context.Context, handler Handler) error

	// Addr returns the transport's address description.
	Addr() string
}

// serviceFromPath joins the {service} and optional {version} path values.
func serviceFromPath(r *http.Request) string {
	service := r.PathValue("service")
	if v := r.PathValue("version"); v != "" {
		service += "/" + v
	}
	return service
}

// requestMeta copies the first value of every header, plus the remote
// address and transport name, into request metadata.
func requestMeta(r *http.Request, transport string) protocol.RequestMeta {
	meta := make(protocol.RequestMeta, len(r.Header)+2)
	for k, vs := range r.Header {
		if len(vs) > 0 {
			meta[k] = vs[0]
		}
	}
	meta[protocol.MetaRemoteAddr] = r.RemoteAddr
	meta[protocol.MetaTransport] = transport
	return meta
}
