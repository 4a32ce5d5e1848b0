package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

type logEntry struct {
	level  string
	msg    string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(level, msg string, fields []middleware.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: m})
}

func (l *recordingLogger) Info(msg string, fields ...middleware.Field)  { l.log("info", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...middleware.Field) { l.log("error", msg, fields) }
func (l *recordingLogger) Debug(msg string, fields ...middleware.Field) { l.log("debug", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...middleware.Field)  { l.log("warn", msg, fields) }

func (l *recordingLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

type counterService struct {
	hits atomic.Int64
}

func newTestRouter(t *testing.T, opts ...RouterOption) (*Router, *counterService, *recordingLogger) {
	t.Helper()
	counter := &counterService{}
	logger := &recordingLogger{}

	reg := NewRegistry()
	reg.MustRegister(NewService("calc").
		Method("add", func(x, y int) int { return x + y }, "x", "y").
		Method("touch", func(x, y int) { counter.hits.Add(1) }).
		Method("noop", func() {}).
		Method("fail", func() (int, error) { return 0, errors.New("db password is hunter2") }).
		Method("reject", func() error {
			return (&protocol.Error{Code: -32010, Message: "quota exceeded"}).WithData(map[string]int{"limit": 5})
		}).
		Method("explode", func() int { panic("nil map") }).
		Method("echo", func(s string) string { return s }).
		Method("sleep", func(ms int) int {
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return ms
		}))

	opts = append([]RouterOption{WithLogger(logger)}, opts...)
	return NewRouter(reg, opts...), counter, logger
}

func TestRouter_HandleMessage(t *testing.T) {
	router, _, _ := newTestRouter(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		service string
		input   string
		want    string
	}{
		{
			name:    "positional call",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`,
			want:    `{"jsonrpc":"2.0","result":3,"id":1}`,
		},
		{
			name:    "named call with string id",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"add","params":{"x":40,"y":2},"id":"abc"}`,
			want:    `{"jsonrpc":"2.0","result":42,"id":"abc"}`,
		},
		{
			name:    "service name is case-insensitive",
			service: "Calc",
			input:   `{"jsonrpc":"2.0","method":"add","params":[1,1],"id":1}`,
			want:    `{"jsonrpc":"2.0","result":2,"id":1}`,
		},
		{
			name:    "void method yields null result",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"noop","id":7}`,
			want:    `{"jsonrpc":"2.0","result":null,"id":7}`,
		},
		{
			name:    "unknown method",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"pow","params":[2,3],"id":5}`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32601,"message":"The method does not exist / is not available."},"id":5}`,
		},
		{
			name:    "malformed json",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"add",`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32700,"message":"` + protocol.MessageParseError + `"},"id":null}`,
		},
		{
			name:    "invalid request",
			service: "calc",
			input:   `{"jsonrpc":"1.0","method":"add","id":1}`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32600,"message":"The JSON sent is not a valid Request object."},"id":null}`,
		},
		{
			name:    "notification then call",
			service: "calc",
			input:   `[{"jsonrpc":"2.0","method":"noop"},{"jsonrpc":"2.0","method":"add","params":[2,2],"id":2}]`,
			want:    `{"jsonrpc":"2.0","result":4,"id":2}`,
		},
		{
			name:    "batch keeps order",
			service: "calc",
			input:   `[{"jsonrpc":"2.0","method":"echo","params":["a"],"id":1},{"jsonrpc":"2.0","method":"missing","id":2},{"jsonrpc":"2.0","method":"echo","params":"c","id":3}]`,
			want:    `[{"jsonrpc":"2.0","result":"a","id":1},{"jsonrpc":"2.0","error":{"code":-32601,"message":"The method does not exist / is not available."},"id":2},{"jsonrpc":"2.0","result":"c","id":3}]`,
		},
		{
			name:    "argument count mismatch",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"add","params":[1],"id":1}`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid method parameter(s)."},"id":1}`,
		},
		{
			name:    "internal error hides diagnostic",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"fail","id":1}`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal JSON-RPC error."},"id":1}`,
		},
		{
			name:    "rpc error passes through",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"reject","id":1}`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32010,"message":"quota exceeded","data":{"limit":5}},"id":1}`,
		},
		{
			name:    "panic becomes internal error",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"explode","id":1}`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal JSON-RPC error."},"id":1}`,
		},
		{
			name:    "unknown service",
			service: "nope",
			input:   `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`,
			want:    `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Server error: Service does not exist."},"id":1}`,
		},
		{
			name:    "trailing commas",
			service: "calc",
			input:   `{"jsonrpc":"2.0","method":"add","params":[1,2,],"id":1,}`,
			want:    `{"jsonrpc":"2.0","result":3,"id":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := router.HandleMessage(ctx, tt.service, []byte(tt.input))
			if string(got) != tt.want {
				t.Errorf("HandleMessage() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestRouter_Notifications(t *testing.T) {
	router, counter, _ := newTestRouter(t)
	ctx := context.Background()

	inputs := []struct {
		service string
		input   string
	}{
		{"calc", `{"jsonrpc":"2.0","method":"touch","params":[1,2]}`},
		{"calc", `{"jsonrpc":"2.0","method":"missing"}`},
		{"calc", `{"jsonrpc":"2.0","method":"fail"}`},
		{"calc", `{"jsonrpc":"2.0","method":"explode"}`},
		{"calc", `{"jsonrpc":"2.0","method":"add","params":[1]}`},
		{"nope", `{"jsonrpc":"2.0","method":"add"}`},
		{"calc", `[{"jsonrpc":"2.0","method":"touch","params":[1,2]},{"jsonrpc":"2.0","method":"noop"}]`},
	}

	for _, in := range inputs {
		if got := router.HandleMessage(ctx, in.service, []byte(in.input)); got != nil {
			t.Errorf("notification %s produced %s", in.input, got)
		}
	}

	if got := counter.hits.Load(); got != 2 {
		t.Errorf("touch ran %d times, want 2", got)
	}
}

func TestRouter_CountMismatchHasNoSideEffects(t *testing.T) {
	router, counter, _ := newTestRouter(t)

	out := router.HandleMessage(context.Background(), "calc", []byte(`{"jsonrpc":"2.0","method":"touch","params":[1,2,3],"id":1}`))
	if !strings.Contains(string(out), `"code":-32602`) {
		t.Errorf("got %s, want invalid params", out)
	}
	if counter.hits.Load() != 0 {
		t.Error("method must not run on argument count mismatch")
	}
}

func TestRouter_LogsDiagnostics(t *testing.T) {
	router, _, logger := newTestRouter(t)

	out := router.HandleMessage(context.Background(), "calc", []byte(`{"jsonrpc":"2.0","method":"fail","id":9}`))
	if strings.Contains(string(out), "hunter2") {
		t.Fatalf("diagnostic leaked to wire: %s", out)
	}

	entry, ok := logger.find("error", "call failed")
	if !ok {
		t.Fatal("expected error log entry")
	}
	if entry.fields["diagnostic"] != "db password is hunter2" {
		t.Errorf("diagnostic = %v", entry.fields["diagnostic"])
	}
	if entry.fields["id"] != "9" || entry.fields["method"] != "fail" {
		t.Errorf("fields = %v", entry.fields)
	}

	router.HandleMessage(context.Background(), "calc", []byte(`not json`))
	if _, ok := logger.find("warn", "decode failed"); !ok {
		t.Error("expected decode failure to be logged")
	}
}

func TestRouter_Middleware(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	record := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			mu.Lock()
			seen = append(seen, protocol.ServiceFromContext(ctx)+"."+req.Method)
			mu.Unlock()
			return next(ctx, req)
		}
	}
	deny := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if req.Method == "echo" {
				return nil, protocol.NewUnauthorized("no echo for you")
			}
			return next(ctx, req)
		}
	}

	router, _, _ := newTestRouter(t, WithMiddleware(record, deny))
	out := router.HandleMessage(context.Background(), "calc", []byte(`[{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1},{"jsonrpc":"2.0","method":"echo","params":["x"],"id":2}]`))

	want := `[{"jsonrpc":"2.0","result":3,"id":1},{"jsonrpc":"2.0","error":{"code":-32002,"message":"no echo for you"},"id":2}]`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
	if len(seen) != 2 || seen[0] != "calc.add" || seen[1] != "calc.echo" {
		t.Errorf("middleware saw %v", seen)
	}
}

func TestRouter_ConcurrentBatches(t *testing.T) {
	router, _, _ := newTestRouter(t, WithConcurrentBatches())

	start := time.Now()
	out := router.HandleMessage(context.Background(), "calc", []byte(`[
		{"jsonrpc":"2.0","method":"sleep","params":[60],"id":1},
		{"jsonrpc":"2.0","method":"sleep","params":[5]},
		{"jsonrpc":"2.0","method":"sleep","params":[30],"id":2},
		{"jsonrpc":"2.0","method":"sleep","params":[1],"id":3}
	]`))

	want := `[{"jsonrpc":"2.0","result":60,"id":1},{"jsonrpc":"2.0","result":30,"id":2},{"jsonrpc":"2.0","result":1,"id":3}]`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
	if elapsed := time.Since(start); elapsed > 85*time.Millisecond {
		t.Logf("concurrent batch took %v", elapsed)
	}
}

func TestRouter_Dispatch(t *testing.T) {
	router, _, _ := newTestRouter(t)
	reqs := []*protocol.Request{
		{JSONRPC: "2.0", Method: "add", Params: json.RawMessage(`[2,3]`), ID: protocol.NumberID(1)},
		{JSONRPC: "2.0", Method: "noop"},
	}

	resps := router.Dispatch(context.Background(), "calc", reqs)
	defer protocol.ReleaseResponses(resps)

	if len(resps) != 1 {
		t.Fatalf("len = %d, want 1", len(resps))
	}
	if string(resps[0].Result) != "5" || !resps[0].ID.Equal(protocol.NumberID(1)) {
		t.Errorf("resp = %+v", resps[0])
	}
}

func TestRouter_ServerErrorCode(t *testing.T) {
	if err := protocol.SetServerErrorCode(-32050); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = protocol.SetServerErrorCode(protocol.DefaultServerErrorCode) })

	router, _, _ := newTestRouter(t)
	out := router.HandleMessage(context.Background(), "missing", []byte(`{"jsonrpc":"2.0","method":"x","id":1}`))
	if !strings.Contains(string(out), `"code":-32050`) {
		t.Errorf("got %s", out)
	}
}

func TestServer(t *testing.T) {
	srv := New(Info{Name: "test", Version: "1.0.0"}, WithRegistryOptions(WithMaxDepth(8)))

	var calls atomic.Int32
	srv.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			calls.Add(1)
			return next(ctx, req)
		}
	})
	if err := srv.Register(NewService("math").Method("neg", func(x int) int { return -x })); err != nil {
		t.Fatal(err)
	}

	out := srv.HandleMessage(context.Background(), "math", []byte(`{"jsonrpc":"2.0","method":"neg","params":[4],"id":1}`))
	if string(out) != `{"jsonrpc":"2.0","result":-4,"id":1}` {
		t.Errorf("got %s", out)
	}
	if calls.Load() != 1 {
		t.Errorf("middleware ran %d times", calls.Load())
	}
	if srv.Router() != srv.Router() {
		t.Error("Router() should be built once")
	}
	if srv.Info().Name != "test" {
		t.Errorf("Info() = %+v", srv.Info())
	}
	if len(srv.Services()) != 1 {
		t.Errorf("Services() = %v", srv.Services())
	}
}

func BenchmarkRouter_HandleMessage(b *testing.B) {
	reg := NewRegistry()
	reg.MustRegister(NewService("calc").Method("add", func(x, y int) int { return x + y }))
	router := NewRouter(reg)
	payload := []byte(`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.HandleMessage(ctx, "calc", payload)
	}
}
