// Package testutil provides testing utilities for JSON-RPC services.
//
// It drives a transport.Handler (usually a *server.Router) in memory, so
// tests exercise the full decode, dispatch and encode path without I/O,
// and offers a scripted client-side transport for testing callers.
//
// Example usage:
//
//	func TestCalculator(t *testing.T) {
//	    reg := server.NewRegistry()
//	    reg.MustRegister(server.NewService("calc").Receiver(&Calculator{}))
//
//	    tc := testutil.NewTestClient(t, server.NewRouter(reg), "calc")
//
//	    var sum int
//	    if err := tc.Call("add", &sum, 1, 2); err != nil {
//	        t.Fatal(err)
//	    }
//	    tc.AssertMethodExists("add")
//	}
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/felixgeelhaar/jsonrpc-go/client"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
	"github.com/felixgeelhaar/jsonrpc-go/server"
	"github.com/felixgeelhaar/jsonrpc-go/transport"
)

// TestClient sends payloads for one service straight to a handler.
type TestClient struct {
	t       testing.TB
	handler transport.Handler
	service string
	client  *client.Client
	reqID   atomic.Int64
}

// NewTestClient creates a test client calling service on handler.
func NewTestClient(t testing.TB, handler transport.Handler, service string) *TestClient {
	t.Helper()
	return &TestClient{
		t:       t,
		handler: handler,
		service: service,
		client:  client.New(client.NewInProcessTransport(handler)),
	}
}

// Service returns a test client for another service on the same handler.
func (tc *TestClient) Service(name string) *TestClient {
	return NewTestClient(tc.t, tc.handler, name)
}

// Close releases the client.
func (tc *TestClient) Close() {
	_ = tc.client.Close()
}

// Send hands a raw payload to the handler and returns the raw reply.
func (tc *TestClient) Send(payload string) []byte {
	tc.t.Helper()
	return tc.handler.HandleMessage(context.Background(), tc.service, []byte(payload))
}

// SendRequest sends one request with a fresh numeric id and returns the
// decoded response. Malformed or missing replies fail the test.
func (tc *TestClient) SendRequest(method string, params any) *protocol.Response {
	tc.t.Helper()

	req, err := protocol.NewRequest(protocol.NumberID(tc.reqID.Add(1)), method, params)
	if err != nil {
		tc.t.Fatalf("build request: %v", err)
	}
	resps := tc.Batch(req)
	if len(resps) != 1 {
		tc.t.Fatalf("expected 1 response to %s, got %d", method, len(resps))
	}
	if !resps[0].ID.Equal(req.ID) {
		tc.t.Fatalf("response id %s does not match request id %s", resps[0].ID, req.ID)
	}
	return resps[0]
}

// Batch encodes reqs as one payload and decodes the reply.
func (tc *TestClient) Batch(reqs ...*protocol.Request) []*protocol.Response {
	tc.t.Helper()

	payload, err := protocol.EncodeRequests(reqs)
	if err != nil {
		tc.t.Fatalf("encode requests: %v", err)
	}
	out := tc.handler.HandleMessage(context.Background(), tc.service, payload)
	resps, err := protocol.DecodeResponses(out)
	if err != nil {
		tc.t.Fatalf("decode responses %s: %v", out, err)
	}
	return resps
}

// Call invokes method through a client.Client and decodes the result.
func (tc *TestClient) Call(method string, result any, args ...any) error {
	tc.t.Helper()
	return tc.client.Invoke(context.Background(), tc.service, method, result, args...)
}

// Notify sends method as a notification and fails the test if the handler
// replies with anything.
func (tc *TestClient) Notify(method string, params any) {
	tc.t.Helper()

	req, err := protocol.NewRequest(nil, method, params)
	if err != nil {
		tc.t.Fatalf("build notification: %v", err)
	}
	payload, _ := protocol.EncodeRequests([]*protocol.Request{req})
	if out := tc.handler.HandleMessage(context.Background(), tc.service, payload); out != nil {
		tc.t.Errorf("notification %s produced a reply: %s", method, out)
	}
}

// AssertResult fails the test unless resp succeeded with a result equal,
// as JSON, to want.
func AssertResult(t testing.TB, resp *protocol.Response, want any) {
	t.Helper()

	if resp.Error != nil {
		t.Fatalf("expected result, got error %d %q", resp.Error.Code, resp.Error.Message)
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal expected result: %v", err)
	}
	if !jsonEqual(resp.Result, wantJSON) {
		t.Errorf("result = %s, want %s", resp.Result, wantJSON)
	}
}

// AssertErrorCode fails the test unless resp carries an error with code.
func AssertErrorCode(t testing.TB, resp *protocol.Response, code int) {
	t.Helper()

	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("error code = %d (%q), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

// AssertNoReply fails the test if out is not empty.
func AssertNoReply(t testing.TB, out []byte) {
	t.Helper()
	if out != nil {
		t.Errorf("expected no reply, got %s", out)
	}
}

// AssertJSONEqual fails the test unless got and want are equal JSON texts.
func AssertJSONEqual(t testing.TB, got []byte, want string) {
	t.Helper()
	if !jsonEqual(got, []byte(want)) {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

// AssertMethodExists fails the test unless the service is registered with
// method. The handler must expose its registry, as *server.Router and
// *server.Server do.
func (tc *TestClient) AssertMethodExists(method string) {
	tc.t.Helper()

	withRegistry, ok := tc.handler.(interface{ Registry() *server.Registry })
	if !ok {
		tc.t.Fatalf("handler %T does not expose a registry", tc.handler)
	}
	svc, ok := withRegistry.Registry().Lookup(tc.service)
	if !ok {
		tc.t.Fatalf("service %q is not registered", tc.service)
	}
	if _, ok := svc.Method(method); !ok {
		tc.t.Errorf("service %q has no method %q", tc.service, method)
	}
}

func jsonEqual(a, b []byte) bool {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return bytes.Equal(ja, jb)
}

// MockTransport is a scripted client.Transport. Replies are returned in
// order; every payload sent is recorded.
type MockTransport struct {
	mu       sync.Mutex
	replies  []mockReply
	sent     []Sent
	closed   bool
	fallback func(service string, id protocol.ID, payload []byte) ([]byte, error)
}

type mockReply struct {
	body []byte
	err  error
}

// Sent is one payload recorded by MockTransport.
type Sent struct {
	Service string
	ID      protocol.ID
	Payload []byte
	Notify  bool
}

// NewMockTransport creates an empty mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Reply queues a raw reply body.
func (m *MockTransport) Reply(body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{body: []byte(body)})
	return m
}

// Fail queues a transport failure.
func (m *MockTransport) Fail(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{err: err})
	return m
}

// Respond answers every call without a queued reply by calling fn.
func (m *MockTransport) Respond(fn func(service string, id protocol.ID, payload []byte) ([]byte, error)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
	return m
}

// Call implements client.Transport.
func (m *MockTransport) Call(ctx context.Context, service string, id protocol.ID, payload []byte) ([]byte, error) {
	m.mu.Lock()
	m.sent = append(m.sent, Sent{Service: service, ID: id, Payload: payload})

	if len(m.replies) > 0 {
		r := m.replies[0]
		m.replies = m.replies[1:]
		m.mu.Unlock()
		return r.body, r.err
	}
	fallback := m.fallback
	m.mu.Unlock()

	if fallback != nil {
		return fallback(service, id, payload)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// Notify implements client.Transport.
func (m *MockTransport) Notify(_ context.Context, service string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Sent{Service: service, Payload: payload, Notify: true})
	return nil
}

// Close implements client.Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Sent returns every recorded payload.
func (m *MockTransport) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// LastRequest decodes the most recently sent payload.
func (m *MockTransport) LastRequest() (*protocol.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sent) == 0 {
		return nil, fmt.Errorf("nothing sent")
	}
	reqs, err := protocol.DecodeRequests(m.sent[len(m.sent)-1].Payload)
	if err != nil {
		return nil, err
	}
	return reqs[0], nil
}
