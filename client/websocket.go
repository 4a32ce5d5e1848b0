package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// WebSocketTransport keeps one WebSocket connection per service, dialled on
// first use at "{baseURL}/{service}". Replies are routed to callers by id,
// so calls on one connection may be in flight concurrently.
type WebSocketTransport struct {
	baseURL      string
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
	logger       middleware.Logger

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending *pending
}

// WebSocketOption configures a WebSocketTransport.
type WebSocketOption func(*WebSocketTransport)

// WithDialer sets the dialer used to open connections.
func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.dialer = d
	}
}

// WithWebSocketHeader adds a header sent with every handshake.
func WithWebSocketHeader(key, value string) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.header.Add(key, value)
	}
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.writeTimeout = d
	}
}

// WithWebSocketLogger sets the logger for replies no caller is waiting for.
func WithWebSocketLogger(l middleware.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.logger = l
	}
}

// NewWebSocketTransport creates a transport for the ws:// or wss:// base URL.
func NewWebSocketTransport(baseURL string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		baseURL:      strings.TrimRight(baseURL, "/"),
		dialer:       websocket.DefaultDialer,
		header:       make(http.Header),
		writeTimeout: 10 * time.Second,
		logger:       middleware.NopLogger{},
		conns:        make(map[string]*wsConn),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Call sends payload on the service connection and waits for the reply
// carrying id.
func (t *WebSocketTransport) Call(ctx context.Context, service string, id protocol.ID, payload []byte) ([]byte, error) {
	c, err := t.connFor(ctx, service)
	if err != nil {
		return nil, err
	}

	ch, err := c.pending.add(id)
	if err != nil {
		return nil, err
	}
	defer c.pending.remove(id)

	if err := t.write(c, payload); err != nil {
		return nil, err
	}
	return c.pending.wait(ctx, ch)
}

// Notify sends payload on the service connection.
func (t *WebSocketTransport) Notify(ctx context.Context, service string, payload []byte) error {
	c, err := t.connFor(ctx, service)
	if err != nil {
		return err
	}
	return t.write(c, payload)
}

// Close closes every open connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for service, c := range t.conns {
		c.close()
		delete(t.conns, service)
	}
	return nil
}

// connFor dials without holding t.mu. When two callers dial the same
// service concurrently the first stored connection wins.
func (t *WebSocketTransport) connFor(ctx context.Context, service string) (*wsConn, error) {
	if c, err := t.lookup(service); c != nil || err != nil {
		return c, err
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.baseURL+"/"+service, t.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", service, err)
	}
	c := &wsConn{conn: conn, pending: newPending(t.logger, service)}

	t.mu.Lock()
	existing, ok := t.conns[service]
	closed := t.closed
	if !closed && !ok {
		t.conns[service] = c
		go t.readLoop(service, c)
	}
	t.mu.Unlock()

	switch {
	case closed:
		c.close()
		return nil, ErrClosed
	case ok:
		c.close()
		return existing, nil
	}
	return c, nil
}

func (t *WebSocketTransport) lookup(service string) (*wsConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	return t.conns[service], nil
}

func (t *WebSocketTransport) write(c *wsConn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLoop forgets the connection when it breaks so the next call redials.
func (t *WebSocketTransport) readLoop(service string, c *wsConn) {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.pending.fail(fmt.Errorf("%w: %v", ErrClosed, err))

			t.mu.Lock()
			if t.conns[service] == c {
				delete(t.conns, service)
			}
			t.mu.Unlock()
			_ = c.conn.Close()
			return
		}
		c.pending.deliver(msg)
	}
}

func (c *wsConn) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}
