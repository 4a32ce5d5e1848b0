package e2e

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/labstack/echo/v4"

	"github.com/felixgeelhaar/jsonrpc-go/client"
	"github.com/felixgeelhaar/jsonrpc-go/transport"
)

// callJSON2 sends one request encoded by the gorilla json2 codec and decodes
// the reply with it.
func callJSON2(t *testing.T, url, method string, params, reply any) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	return json2.DecodeClientResponse(resp.Body, reply)
}

func TestInterop_JSON2Client(t *testing.T) {
	ts := httptest.NewServer(transport.NewHTTP("").Handler(newServer(t)))
	defer ts.Close()

	t.Run("positional", func(t *testing.T) {
		var sum int
		if err := callJSON2(t, ts.URL+"/calc", "add", []int{20, 22}, &sum); err != nil {
			t.Fatal(err)
		}
		if sum != 42 {
			t.Errorf("add = %d, want 42", sum)
		}
	})

	t.Run("named", func(t *testing.T) {
		params := struct {
			Minuend    int `json:"minuend"`
			Subtrahend int `json:"subtrahend"`
		}{Minuend: 42, Subtrahend: 23}

		var diff int
		if err := callJSON2(t, ts.URL+"/calc", "subtract", params, &diff); err != nil {
			t.Fatal(err)
		}
		if diff != 19 {
			t.Errorf("subtract = %d, want 19", diff)
		}
	})

	t.Run("error codes", func(t *testing.T) {
		tests := []struct {
			method string
			params any
			code   json2.ErrorCode
		}{
			{"nosuch", []int{}, json2.E_NO_METHOD},
			{"add", []string{"a", "b"}, json2.E_BAD_PARAMS},
			{"div", []float64{1, 0}, json2.E_SERVER},
			{"boom", nil, json2.E_INTERNAL},
		}
		for _, tt := range tests {
			var reply int
			err := callJSON2(t, ts.URL+"/calc", tt.method, tt.params, &reply)
			var jerr *json2.Error
			if !errors.As(err, &jerr) {
				t.Fatalf("%s: expected *json2.Error, got %T %v", tt.method, err, err)
			}
			if jerr.Code != tt.code {
				t.Errorf("%s: code = %d, want %d", tt.method, jerr.Code, tt.code)
			}
		}
	})
}

func TestInterop_Echo(t *testing.T) {
	e := echo.New()
	transport.MountEcho(e, "/rpc", newServer(t))
	ts := httptest.NewServer(e)
	defer ts.Close()

	var sum int
	if err := callJSON2(t, ts.URL+"/rpc/calc/v2", "add", []int{1, 2}, &sum); err != nil {
		t.Fatal(err)
	}
	if sum != 30 {
		t.Errorf("add = %d, want 30", sum)
	}

	c := client.New(client.NewHTTPTransport(ts.URL + "/rpc"))
	defer c.Close()
	got, err := client.Call[float64](context.Background(), c.Service("calc"), "div", 9, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4.5 {
		t.Errorf("div = %v, want 4.5", got)
	}
}

type ArithArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type ArithReply struct {
	Result int `json:"result"`
}

type Arith struct{}

func (Arith) Add(_ *http.Request, args *ArithArgs, reply *ArithReply) error {
	reply.Result = args.A + args.B
	return nil
}

func (Arith) Mul(_ *http.Request, args *ArithArgs, reply *ArithReply) error {
	reply.Result = args.A * args.B
	return nil
}

func TestInterop_JSON2Server(t *testing.T) {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(Arith{}, ""); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/arith", rpcServer)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := client.New(client.NewHTTPTransport(ts.URL))
	defer c.Close()
	svc := c.Service("arith")

	tests := []struct {
		method string
		want   int
	}{
		{"Arith.Add", 7},
		{"Arith.Mul", 12},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			reply, err := client.Call[ArithReply](context.Background(), svc, tt.method, client.Named{"a": 3, "b": 4})
			if err != nil {
				t.Fatal(err)
			}
			if reply.Result != tt.want {
				t.Errorf("%s = %d, want %d", tt.method, reply.Result, tt.want)
			}
		})
	}
}
