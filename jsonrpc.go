// Package jsonrpc provides a framework for building JSON-RPC 2.0 services.
//
// Plain Go functions and methods are registered as named services; the
// framework decodes requests, binds parameters by position or by name,
// invokes the target and encodes the response, including batches and
// notifications:
//   - Reflection-checked registration that rejects types which cannot cross the wire
//   - Middleware chains applied per call
//   - Pluggable transports (HTTP, WebSocket, stdio, echo)
//   - A client that invokes remote services over the same transports
//
// Basic usage:
//
//	type Calculator struct{}
//
//	func (Calculator) Add(a, b int) int { return a + b }
//
//	srv := jsonrpc.NewServer(jsonrpc.ServerInfo{Name: "calc", Version: "1.0.0"})
//	srv.Register(jsonrpc.NewService("calc").Receiver(Calculator{}))
//
//	jsonrpc.ServeHTTP(ctx, srv, ":8080")
package jsonrpc

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/jsonrpc-go/client"
	"github.com/felixgeelhaar/jsonrpc-go/config"
	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
	"github.com/felixgeelhaar/jsonrpc-go/server"
	"github.com/felixgeelhaar/jsonrpc-go/transport"
)

// ErrNoTransport is returned by ServeConfig when no transport is enabled.
var ErrNoTransport = errors.New("jsonrpc: no transport configured")

// Re-export core types for convenience

// ServerInfo contains server metadata.
type ServerInfo = server.Info

// Server bundles a service registry with its router.
type Server = server.Server

// Option configures a Server.
type Option = server.Option

// ServiceBuilder describes a service before registration.
type ServiceBuilder = server.ServiceBuilder

// Wire types
type (
	Request  = protocol.Request
	Response = protocol.Response
	Error    = protocol.Error
	ID       = protocol.ID
)

// Standard error codes.
const (
	CodeParseError     = protocol.CodeParseError
	CodeInvalidRequest = protocol.CodeInvalidRequest
	CodeMethodNotFound = protocol.CodeMethodNotFound
	CodeInvalidParams  = protocol.CodeInvalidParams
	CodeInternalError  = protocol.CodeInternalError
)

// NewServerError creates an error in the server-defined range. Return it
// from a method to send msg to the caller.
var NewServerError = protocol.NewServerError

// SetServerErrorCode changes the code used for server errors. It must lie
// in [-32099, -32000].
var SetServerErrorCode = protocol.SetServerErrorCode

// Middleware types
type Middleware = middleware.Middleware
type MiddlewareHandlerFunc = middleware.HandlerFunc
type Logger = middleware.Logger
type LogField = middleware.Field
type RateLimitOption = middleware.RateLimitOption

// RateLimit re-exports for convenience.
var (
	RateLimit            = middleware.RateLimit
	RateLimitByMethod    = middleware.RateLimitByMethod
	RateLimitByService   = middleware.RateLimitByService
	RateLimitByClient    = middleware.RateLimitByClient
	WithRateLimitKeyFunc = middleware.WithRateLimitKeyFunc
	WithRateLimitLogger  = middleware.WithRateLimitLogger
)

// SizeLimit re-exports for convenience.
type SizeLimitOption = middleware.SizeLimitOption

var (
	SizeLimit           = middleware.SizeLimit
	WithSizeLimitLogger = middleware.WithSizeLimitLogger
)

// Size limit presets.
const (
	KB = middleware.KB
	MB = middleware.MB
)

// Client types
type (
	Client        = client.Client
	ServiceClient = client.ServiceClient
	Named         = client.Named
)

// HTTPOption configures the HTTP transport.
type HTTPOption = transport.HTTPOption

// WebSocketOption configures the WebSocket transport.
type WebSocketOption = transport.WebSocketOption

// ServeOption configures how the server is run.
type ServeOption func(*serveOptions)

type serveOptions struct {
	middleware []Middleware
	logger     Logger
}

// WithMiddleware adds middleware to the call chain.
func WithMiddleware(m ...Middleware) ServeOption {
	return func(o *serveOptions) {
		o.middleware = append(o.middleware, m...)
	}
}

// WithLogger installs the default middleware stack logging to l.
func WithLogger(l Logger) ServeOption {
	return func(o *serveOptions) {
		o.logger = l
	}
}

// NewServer creates a new server with the given info and options.
func NewServer(info ServerInfo, opts ...Option) *Server {
	return server.New(info, opts...)
}

// NewService starts describing a service called name.
func NewService(name string) *ServiceBuilder {
	return server.NewService(name)
}

// NewClient creates a client over t.
func NewClient(t client.Transport, opts ...client.Option) *Client {
	return client.New(t, opts...)
}

// prepare installs serve options on srv. Middleware is only honored before
// the first message is handled.
func prepare(srv *Server, opts []ServeOption) {
	options := &serveOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger != nil {
		srv.Use(middleware.DefaultStack(options.logger)...)
	}
	srv.Use(options.middleware...)
}

// ServeStdio serves service over stdin and stdout.
// This blocks until the context is canceled, input ends or an error occurs.
func ServeStdio(ctx context.Context, srv *Server, service string, opts ...ServeOption) error {
	prepare(srv, opts)
	return transport.NewStdio(service).Serve(ctx, srv)
}

// ServeHTTP runs the server using the HTTP transport.
// This blocks until the context is canceled or an error occurs.
func ServeHTTP(ctx context.Context, srv *Server, addr string, opts ...HTTPOption) error {
	return transport.NewHTTP(addr, opts...).Serve(ctx, srv)
}

// ServeHTTPWithMiddleware runs the server using the HTTP transport with middleware.
func ServeHTTPWithMiddleware(ctx context.Context, srv *Server, addr string, httpOpts []HTTPOption, serveOpts ...ServeOption) error {
	prepare(srv, serveOpts)
	return transport.NewHTTP(addr, httpOpts...).Serve(ctx, srv)
}

// WithReadTimeout sets the read timeout for HTTP requests.
func WithReadTimeout(d time.Duration) HTTPOption {
	return transport.WithReadTimeout(d)
}

// WithWriteTimeout sets the write timeout for HTTP responses.
func WithWriteTimeout(d time.Duration) HTTPOption {
	return transport.WithWriteTimeout(d)
}

// ServeWebSocket runs the server using the WebSocket transport.
// This blocks until the context is canceled or an error occurs.
func ServeWebSocket(ctx context.Context, srv *Server, addr string, opts ...WebSocketOption) error {
	return transport.NewWebSocket(addr, opts...).Serve(ctx, srv)
}

// ServeWebSocketWithMiddleware runs the server using the WebSocket transport with middleware.
func ServeWebSocketWithMiddleware(ctx context.Context, srv *Server, addr string, wsOpts []WebSocketOption, serveOpts ...ServeOption) error {
	prepare(srv, serveOpts)
	return transport.NewWebSocket(addr, wsOpts...).Serve(ctx, srv)
}

// WithWebSocketReadTimeout sets the read timeout for WebSocket messages.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return transport.WithWebSocketReadTimeout(d)
}

// WithWebSocketWriteTimeout sets the write timeout for WebSocket messages.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return transport.WithWebSocketWriteTimeout(d)
}

// ServeConfig runs every transport enabled in cfg until ctx is canceled or
// one of them fails, which stops the others. srv should come from
// cfg.NewServer so its middleware and limits match cfg.
func ServeConfig(ctx context.Context, cfg *config.Config, srv *Server, logger Logger) error {
	if err := cfg.Apply(); err != nil {
		return err
	}

	var transports []transport.Transport
	if cfg.HTTP.Addr != "" {
		transports = append(transports, transport.NewHTTP(cfg.HTTP.Addr, cfg.HTTPOptions(logger)...))
	}
	if cfg.WebSocket.Addr != "" {
		transports = append(transports, transport.NewWebSocket(cfg.WebSocket.Addr, cfg.WebSocketOptions(logger)...))
	}
	if cfg.Stdio.Service != "" {
		transports = append(transports, transport.NewStdio(cfg.Stdio.Service, cfg.StdioOptions()...))
	}
	if len(transports) == 0 {
		return ErrNoTransport
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range transports {
		g.Go(func() error {
			logger.Info("serving", middleware.F("transport", t.Addr()))
			return t.Serve(gctx, srv)
		})
	}
	return g.Wait()
}

// Middleware re-exports

// Chain composes multiple middleware into a single middleware.
func Chain(middlewares ...Middleware) Middleware {
	return middleware.Chain(middlewares...)
}

// Recover returns middleware that catches panics and converts them to internal errors.
func Recover() Middleware {
	return middleware.Recover()
}

// Timeout returns middleware that enforces a call deadline.
func Timeout(d time.Duration) Middleware {
	return middleware.Timeout(d)
}

// RequestID returns middleware that injects a unique request ID into the context.
func RequestID() Middleware {
	return middleware.RequestID()
}

// RequestIDFromContext returns the request ID from the context, or empty string if not set.
func RequestIDFromContext(ctx context.Context) string {
	return middleware.RequestIDFromContext(ctx)
}

// Logging returns middleware that logs call details.
func Logging(logger Logger) Middleware {
	return middleware.Logging(logger)
}

// DefaultMiddleware returns the recommended production middleware stack.
func DefaultMiddleware(logger Logger) []Middleware {
	return middleware.DefaultStack(logger)
}

// DefaultMiddlewareWithTimeout returns the default stack with a timeout middleware.
func DefaultMiddlewareWithTimeout(logger Logger, timeout time.Duration) []Middleware {
	return middleware.DefaultStackWithTimeout(logger, timeout)
}

// LogF creates a new log field with the given key and value.
func LogF(key string, value any) LogField {
	return middleware.F(key, value)
}
