package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

func dialTestServer(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocket_Handler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &recordingHandler{}
	srv := httptest.NewServer(NewWebSocket(":0").Handler(ctx, handler))
	defer srv.Close()

	t.Run("replies on the same connection", func(t *testing.T) {
		conn := dialTestServer(t, srv, "/calc/v1")

		if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
			t.Fatal(err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if msgType != websocket.TextMessage {
			t.Errorf("message type = %d", msgType)
		}
		if string(msg) != `{"service":"calc/v1","payload":"ping"}` {
			t.Errorf("reply = %s", msg)
		}
		if handler.meta[protocol.MetaTransport] != "websocket" {
			t.Errorf("Transport = %q", handler.meta[protocol.MetaTransport])
		}
	})

	t.Run("sends nothing for notifications", func(t *testing.T) {
		conn := dialTestServer(t, srv, "/calc")

		_ = conn.WriteMessage(websocket.TextMessage, []byte("notify"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("after"))

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if msgType != websocket.BinaryMessage || !strings.Contains(string(msg), `"after"`) {
			t.Errorf("first reply should answer the second message, got %d %s", msgType, msg)
		}
	})
}

func TestWebSocket_Serve(t *testing.T) {
	ws := NewWebSocket("127.0.0.1:0",
		WithWebSocketReadTimeout(time.Second),
		WithWebSocketWriteTimeout(time.Second),
	)
	if ws.Addr() != "127.0.0.1:0" {
		t.Errorf("Addr() = %q", ws.Addr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Serve(ctx, &recordingHandler{}) }()

	var addr string
	for i := 0; i < 100 && addr == ""; i++ {
		time.Sleep(10 * time.Millisecond)
		addr = ws.ListenAddr()
	}
	if addr == "" {
		t.Fatal("server did not start")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/calc", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}
