package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// ErrHTTPStatus is returned for replies with an unexpected status code.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// HTTPTransport posts every payload to "{baseURL}/{service}".
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	header  http.Header
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

// WithHeader adds a header sent with every request, such as Authorization.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.header.Add(key, value)
	}
}

// NewHTTPTransport creates a transport for the http:// or https:// base URL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		header:  make(http.Header),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Call posts payload and returns the reply body. A 204 reply yields no bytes.
func (t *HTTPTransport) Call(ctx context.Context, service string, _ protocol.ID, payload []byte) ([]byte, error) {
	return t.post(ctx, service, payload)
}

// Notify posts payload and discards any reply body.
func (t *HTTPTransport) Notify(ctx context.Context, service string, payload []byte) error {
	_, err := t.post(ctx, service, payload)
	return err
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, service string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+service, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, vs := range t.header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	case http.StatusOK:
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return append([]byte(nil), buf.B...), nil
}
