package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// DefaultMaxBodySize bounds request bodies unless WithMaxBodySize says otherwise.
const DefaultMaxBodySize = 4 * middleware.MB

// HTTP serves every service at POST /{service} and POST /{service}/{version}.
type HTTP struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxBodySize  int64
	logger       middleware.Logger

	corsConfig      *CORSConfig
	shutdownTimeout time.Duration
	drainDelay      time.Duration

	mu         sync.RWMutex
	listenAddr string
	server     *http.Server
	shutdown   *ShutdownManager
}

// HTTPOption configures the HTTP transport.
type HTTPOption func(*HTTP)

// WithReadTimeout sets the read timeout for HTTP requests.
func WithReadTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.readTimeout = d
	}
}

// WithWriteTimeout sets the write timeout for HTTP responses.
func WithWriteTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.writeTimeout = d
	}
}

// WithMaxBodySize bounds the size of request bodies. Larger bodies are
// rejected with 413 before decoding.
func WithMaxBodySize(n int64) HTTPOption {
	return func(h *HTTP) {
		h.maxBodySize = n
	}
}

// WithHTTPLogger sets the logger for transport failures.
func WithHTTPLogger(l middleware.Logger) HTTPOption {
	return func(h *HTTP) {
		h.logger = l
	}
}

// NewHTTP creates a new HTTP transport.
func NewHTTP(addr string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		addr:            addr,
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		maxBodySize:     DefaultMaxBodySize,
		logger:          middleware.NopLogger{},
		shutdownTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.shutdown = NewShutdownManager(ShutdownConfig{
		Timeout:    h.shutdownTimeout,
		DrainDelay: h.drainDelay,
	})
	return h
}

// Addr returns the configured address.
func (h *HTTP) Addr() string {
	return h.addr
}

// ListenAddr returns the actual address the server is listening on.
func (h *HTTP) ListenAddr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listenAddr
}

// ShutdownManager returns the manager tracking in-flight requests.
func (h *HTTP) ShutdownManager() *ShutdownManager {
	return h.shutdown
}

// Serve starts the HTTP server and handles requests. When ctx is canceled
// it drains in-flight requests before closing the listener.
func (h *HTTP) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	h.mu.Lock()
	h.listenAddr = listener.Addr().String()
	h.server = &http.Server{
		Handler:      h.Handler(handler),
		ReadTimeout:  h.readTimeout,
		WriteTimeout: h.writeTimeout,
	}
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout+h.drainDelay)
		defer cancel()
		if err := h.shutdown.Shutdown(drainCtx); err != nil {
			h.logger.Warn("shutdown with requests in flight",
				middleware.F("in_flight", h.shutdown.InFlightRequests()),
			)
		}
		if err := h.server.Shutdown(drainCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler returns the http.Handler serving handler, for mounting on an
// existing server or in tests.
func (h *HTTP) Handler(handler Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	rpc := func(w http.ResponseWriter, r *http.Request) {
		h.handleRPC(w, r, handler)
	}
	mux.HandleFunc("/{service}", rpc)
	mux.HandleFunc("/{service}/{version}", rpc)

	if h.corsConfig != nil {
		return CORSHandler(*h.corsConfig, mux)
	}
	return mux
}

func (h *HTTP) handleRPC(w http.ResponseWriter, r *http.Request, handler Handler) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.shutdown.TrackRequest() {
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer h.shutdown.CompleteRequest()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	body := http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if _, err := buf.ReadFrom(body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("request body too large",
				middleware.F("limit_bytes", h.maxBodySize),
				middleware.F("remote_addr", r.RemoteAddr),
			)
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Warn("read request body", middleware.F("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := protocol.ContextWithRequestMeta(r.Context(), requestMeta(r, "http"))
	out := handler.HandleMessage(ctx, serviceFromPath(r), buf.B)
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
