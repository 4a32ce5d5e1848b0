// Package client invokes methods of remote JSON-RPC 2.0 services.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// Transport carries encoded payloads to a service endpoint.
type Transport interface {
	// Call sends payload, a request carrying id, and returns the raw reply.
	Call(ctx context.Context, service string, id protocol.ID, payload []byte) ([]byte, error)
	// Notify sends payload without waiting for any reply.
	Notify(ctx context.Context, service string, payload []byte) error
	// Close releases the transport's connections.
	Close() error
}

// Failure classes. A call fails with exactly one of: a *protocol.Error
// returned by the server, a *ProtocolError, a *TransportError or ErrTimeout.
var (
	ErrTimeout           = errors.New("client: call timed out")
	ErrIDMismatch        = errors.New("client: response id does not match request id")
	ErrResponseCount     = errors.New("client: expected exactly one response")
	ErrMalformedResponse = errors.New("client: malformed response")
	ErrUnexpectedResult  = errors.New("client: void method returned a result")
	ErrClosed            = errors.New("client: transport closed")
)

// ProtocolError reports a reply that does not follow the protocol.
type ProtocolError struct {
	Service string
	Method  string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the underlying transport.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to %s: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Named, passed as the only argument, sends params by name instead of by
// position.
type Named map[string]any

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
	logger  middleware.Logger
}

// WithTimeout sets the deadline applied to every call. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithLogger sets the logger for call failures.
func WithLogger(l middleware.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// Client invokes methods over a Transport. It is safe for concurrent use.
type Client struct {
	transport Transport
	opts      clientOptions
	nextID    atomic.Uint32
}

// New creates a client over transport.
func New(transport Transport, opts ...Option) *Client {
	options := clientOptions{
		timeout: 30 * time.Second,
		logger:  middleware.NopLogger{},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Client{
		transport: transport,
		opts:      options,
	}
}

// Service returns a handle for calling the methods of one service.
func (c *Client) Service(name string) *ServiceClient {
	return &ServiceClient{client: c, name: name}
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Invoke calls method on service and decodes the result into result, which
// must be a pointer. A nil result means the method is void and the server
// must answer null.
func (c *Client) Invoke(ctx context.Context, service, method string, result any, args ...any) error {
	id := protocol.NumberID(int64(c.nextID.Add(1)))

	payload, err := encodeCall(id, method, args)
	if err != nil {
		return fmt.Errorf("%s.%s: encode params: %w", service, method, err)
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	body, err := c.roundTrip(ctx, service, id, payload)
	if err != nil {
		return c.transportFailure(ctx, service, method, err)
	}

	resp, perr := expectResponse(body, id)
	if perr != nil {
		c.opts.logger.Warn("invalid response",
			middleware.F("service", service),
			middleware.F("method", method),
			middleware.F("error", perr.Error()),
		)
		return &ProtocolError{Service: service, Method: method, Err: perr}
	}

	if resp.Error != nil {
		return resp.Error
	}

	if result == nil {
		if !isNull(resp.Result) {
			return &ProtocolError{Service: service, Method: method, Err: ErrUnexpectedResult}
		}
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return &ProtocolError{Service: service, Method: method, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return nil
}

// Notify calls method on service as a notification. It never waits for a
// reply and cannot observe the outcome.
func (c *Client) Notify(ctx context.Context, service, method string, args ...any) error {
	payload, err := encodeCall(nil, method, args)
	if err != nil {
		return fmt.Errorf("%s.%s: encode params: %w", service, method, err)
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	if err := c.notify(ctx, service, payload); err != nil {
		return c.transportFailure(ctx, service, method, err)
	}
	return nil
}

// roundTrip returns as soon as ctx ends, even when the transport ignores it.
func (c *Client) roundTrip(ctx context.Context, service string, id protocol.ID, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := c.transport.Call(ctx, service, id, payload)
		done <- reply{body, err}
	}()

	select {
	case r := <-done:
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) notify(ctx context.Context, service string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- c.transport.Notify(ctx, service, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) transportFailure(ctx context.Context, service, method string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s.%s", ErrTimeout, service, method)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.opts.logger.Warn("transport failure",
		middleware.F("service", service),
		middleware.F("method", method),
		middleware.F("error", err.Error()),
	)
	return &TransportError{Service: service, Err: err}
}

func encodeCall(id protocol.ID, method string, args []any) ([]byte, error) {
	var params any
	switch {
	case len(args) == 0:
	case len(args) == 1:
		if named, ok := args[0].(Named); ok {
			params = map[string]any(named)
			break
		}
		params = args
	default:
		params = args
	}

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeRequests([]*protocol.Request{req})
}

func expectResponse(body []byte, id protocol.ID) (*protocol.Response, error) {
	resps, err := protocol.DecodeResponses(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resps) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrResponseCount, len(resps))
	}
	resp := resps[0]
	if !resp.ID.Equal(id) {
		return nil, fmt.Errorf("%w: sent %s, got %s", ErrIDMismatch, id, resp.ID)
	}
	return resp, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// ServiceClient is a handle bound to one service.
type ServiceClient struct {
	client *Client
	name   string
}

// Name returns the service name.
func (s *ServiceClient) Name() string {
	return s.name
}

// Call invokes method and decodes its result into result.
func (s *ServiceClient) Call(ctx context.Context, method string, result any, args ...any) error {
	return s.client.Invoke(ctx, s.name, method, result, args...)
}

// Notify sends method as a notification.
func (s *ServiceClient) Notify(ctx context.Context, method string, args ...any) error {
	return s.client.Notify(ctx, s.name, method, args...)
}

// Call invokes method on sc and returns its result as an R.
func Call[R any](ctx context.Context, sc *ServiceClient, method string, args ...any) (R, error) {
	var result R
	err := sc.Call(ctx, method, &result, args...)
	return result, err
}
