package jsonrpc_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/felixgeelhaar/jsonrpc-go"
	"github.com/felixgeelhaar/jsonrpc-go/client"
	"github.com/felixgeelhaar/jsonrpc-go/middleware"
)

type benchService struct{}

func (benchService) Add(a, b int) int { return a + b }

func (benchService) Echo(ctx context.Context, s string) (string, error) { return s, nil }

func newBenchServer(b *testing.B, mw ...jsonrpc.Middleware) *jsonrpc.Server {
	b.Helper()
	srv := jsonrpc.NewServer(jsonrpc.ServerInfo{Name: "benchmark-test", Version: "1.0.0"})
	srv.Use(mw...)
	if err := srv.Register(jsonrpc.NewService("bench").Receiver(benchService{})); err != nil {
		b.Fatal(err)
	}
	return srv
}

// BenchmarkHandleMessage measures a single call from payload to payload.
func BenchmarkHandleMessage(b *testing.B) {
	srv := newBenchServer(b)
	payload := []byte(`{"jsonrpc":"2.0","method":"add","params":[2,3],"id":1}`)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if out := srv.HandleMessage(ctx, "bench", payload); out == nil {
			b.Fatal("no reply")
		}
	}
}

// BenchmarkHandleMessage_WithMiddleware measures the default stack overhead.
func BenchmarkHandleMessage_WithMiddleware(b *testing.B) {
	srv := newBenchServer(b, jsonrpc.DefaultMiddleware(middleware.NopLogger{})...)
	payload := []byte(`{"jsonrpc":"2.0","method":"echo","params":["hello"],"id":"a"}`)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		srv.HandleMessage(ctx, "bench", payload)
	}
}

// BenchmarkHandleMessage_Batch measures batches of increasing size.
func BenchmarkHandleMessage_Batch(b *testing.B) {
	for _, size := range []int{1, 10, 100} {
		b.Run(strconv.Itoa(size), func(b *testing.B) {
			srv := newBenchServer(b)
			elems := make([]string, size)
			for i := range elems {
				elems[i] = `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":` + strconv.Itoa(i) + `}`
			}
			payload := []byte("[" + strings.Join(elems, ",") + "]")
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				srv.HandleMessage(ctx, "bench", payload)
			}
		})
	}
}

// BenchmarkClientCall measures a typed client call over the in-process transport.
func BenchmarkClientCall(b *testing.B) {
	srv := newBenchServer(b)
	svc := client.New(client.NewInProcessTransport(srv)).Service("bench")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.Call[int](ctx, svc, "add", i, 1); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkClientCall_Parallel measures concurrent calls sharing one client.
func BenchmarkClientCall_Parallel(b *testing.B) {
	srv := newBenchServer(b)
	svc := client.New(client.NewInProcessTransport(srv)).Service("bench")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := client.Call[string](ctx, svc, "echo", "x"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
