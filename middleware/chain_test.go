package middleware

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

func okResponse(req *protocol.Request) *protocol.Response {
	return protocol.NewResponse(req.ID, json.RawMessage(`"ok"`))
}

func addRequest() *protocol.Request {
	return &protocol.Request{JSONRPC: "2.0", Method: "add", Params: json.RawMessage(`[1,2]`), ID: protocol.NumberID(1)}
}

func tracing(name string, order *[]string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			*order = append(*order, name+"-before")
			resp, err := next(ctx, req)
			*order = append(*order, name+"-after")
			return resp, err
		}
	}
}

func TestChain(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  []string
	}{
		{
			name: "empty chain returns handler unchanged",
			want: []string{"handler"},
		},
		{
			name:  "single middleware wraps handler",
			names: []string{"m1"},
			want:  []string{"m1-before", "handler", "m1-after"},
		},
		{
			name:  "multiple middleware execute in order",
			names: []string{"m1", "m2", "m3"},
			want:  []string{"m1-before", "m2-before", "m3-before", "handler", "m3-after", "m2-after", "m1-after"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			mws := make([]Middleware, len(tt.names))
			for i, n := range tt.names {
				mws[i] = tracing(n, &order)
			}
			handler := HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
				order = append(order, "handler")
				return okResponse(req), nil
			})

			resp, err := Chain(mws...)(handler)(context.Background(), addRequest())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(resp.Result) != `"ok"` {
				t.Errorf("Result = %s", resp.Result)
			}
			if !reflect.DeepEqual(order, tt.want) {
				t.Errorf("order = %v, want %v", order, tt.want)
			}
		})
	}

	t.Run("middleware can short-circuit chain", func(t *testing.T) {
		handlerCalled := false

		blocking := func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
				return nil, protocol.NewUnauthorized("blocked")
			}
		}
		handler := HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			handlerCalled = true
			return okResponse(req), nil
		})

		_, err := Chain(blocking)(handler)(context.Background(), addRequest())
		if err == nil {
			t.Error("expected error from blocking middleware")
		}
		if handlerCalled {
			t.Error("handler should not have been called")
		}
	})
}

func TestUse(t *testing.T) {
	var order []string
	handler := HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		order = append(order, "handler")
		return okResponse(req), nil
	})

	chain := Use(tracing("m1", &order)).Append(tracing("m2", &order))
	if got := len(chain.Middlewares()); got != 2 {
		t.Fatalf("Middlewares() has %d entries, want 2", got)
	}

	_, _ = chain.Then(handler)(context.Background(), addRequest())

	want := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}
