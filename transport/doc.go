// Package transport carries JSON-RPC payloads between clients and a Handler.
//
// Transports know nothing about the protocol: each one reads a payload,
// passes it to Handler.HandleMessage together with the name of the service
// it was addressed to, and writes back whatever bytes come out. A nil reply
// (a batch of notifications) means nothing is written.
//
// # HTTP Transport
//
//	t := transport.NewHTTP(":8080",
//	    transport.WithReadTimeout(30*time.Second),
//	    transport.WithMaxBodySize(1*middleware.MB),
//	    transport.WithDefaultCORS(),
//	)
//	err := t.Serve(ctx, router)
//
// Endpoints:
//   - POST /{service} and POST /{service}/{version}: 200 with the reply,
//     or 204 when there is none
//   - GET /health: health check
//
// Any other method on a service path gets 405. While shutting down, new
// requests get 503 and in-flight ones are allowed to finish.
//
// # WebSocket Transport
//
//	t := transport.NewWebSocket(":8081")
//	err := t.Serve(ctx, router)
//
// Clients connect to /{service}; every message is one payload.
//
// # Stdio Transport
//
//	t := transport.NewStdio("calculator")
//	err := t.Serve(ctx, router)
//
// One payload per line, for a single fixed service.
//
// # Echo
//
//	e := echo.New()
//	transport.MountEcho(e, "/rpc", router)
//
// Request headers, the remote address and the transport name are available
// to middleware through protocol.RequestMetaFromContext.
package transport
