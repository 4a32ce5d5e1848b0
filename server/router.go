package server

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// MessageServiceNotFound is the public text of the error returned for an
// unknown service.
const MessageServiceNotFound = "Service does not exist."

// Router resolves services and drives decoding, dispatch and encoding for
// every inbound payload.
type Router struct {
	registry      *Registry
	middleware    []middleware.Middleware
	handler       middleware.HandlerFunc
	logger        middleware.Logger
	concurrent    bool
	debugPayloads bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMiddleware adds middleware run around every individual call.
func WithMiddleware(m ...middleware.Middleware) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, m...)
	}
}

// WithLogger sets the logger that receives internal diagnostics.
func WithLogger(l middleware.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// WithConcurrentBatches dispatches the requests of a batch concurrently.
// Responses still follow request order, but side effects may interleave.
func WithConcurrentBatches() RouterOption {
	return func(r *Router) {
		r.concurrent = true
	}
}

// WithDebugPayloads logs raw inbound and outbound payloads at debug level.
func WithDebugPayloads() RouterOption {
	return func(r *Router) {
		r.debugPayloads = true
	}
}

// NewRouter creates a router over reg and freezes reg.
func NewRouter(reg *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: reg,
		logger:   middleware.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	reg.Freeze()
	r.handler = middleware.Use(r.middleware...).Then(r.call)
	return r
}

// Registry returns the registry the router dispatches to.
func (r *Router) Registry() *Registry {
	return r.registry
}

// HandleMessage processes one inbound payload addressed to service and
// returns the bytes to send back. A nil result means nothing must be sent.
func (r *Router) HandleMessage(ctx context.Context, service string, payload []byte) []byte {
	if r.debugPayloads {
		r.logger.Debug("request payload", middleware.F("service", service), middleware.F("payload", string(payload)))
	}

	reqs, err := protocol.DecodeRequests(payload)
	if err != nil {
		rpcErr := protocol.AsError(err)
		r.logger.Warn("decode failed",
			middleware.F("service", service),
			middleware.F("code", rpcErr.Code),
			middleware.F("diagnostic", rpcErr.Internal()),
		)
		return r.encode(service, []*protocol.Response{protocol.NewErrorResponse(nil, rpcErr)})
	}

	resps := r.Dispatch(ctx, service, reqs)
	defer protocol.ReleaseResponses(resps)
	return r.encode(service, resps)
}

func (r *Router) encode(service string, resps []*protocol.Response) []byte {
	out, err := protocol.EncodeResponses(resps)
	if err != nil {
		r.logger.Error("encode failed", middleware.F("service", service), middleware.F("error", err.Error()))
		out, _ = protocol.EncodeResponses([]*protocol.Response{
			protocol.NewErrorResponse(nil, protocol.NewInternalError(err.Error())),
		})
	}
	if r.debugPayloads && out != nil {
		r.logger.Debug("response payload", middleware.F("service", service), middleware.F("payload", string(out)))
	}
	return out
}

// Dispatch runs already-decoded requests against service and returns the
// responses of the non-notification requests in request order. The caller
// may hand the responses back with protocol.ReleaseResponses.
func (r *Router) Dispatch(ctx context.Context, service string, reqs []*protocol.Request) []*protocol.Response {
	svc, _ := r.registry.Lookup(service)

	if !r.concurrent || len(reqs) < 2 {
		resps := make([]*protocol.Response, 0, len(reqs))
		for _, req := range reqs {
			if resp := r.dispatchOne(ctx, service, svc, req); resp != nil {
				resps = append(resps, resp)
			}
		}
		return resps
	}

	slots := make([]*protocol.Response, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slots[i] = r.dispatchOne(ctx, service, svc, req)
		}()
	}
	wg.Wait()

	resps := slots[:0]
	for _, resp := range slots {
		if resp != nil {
			resps = append(resps, resp)
		}
	}
	return resps
}

// dispatchOne never returns a response for a notification.
func (r *Router) dispatchOne(ctx context.Context, service string, svc *Service, req *protocol.Request) (resp *protocol.Response) {
	var err error
	if svc == nil {
		err = protocol.NewServerError(MessageServiceNotFound, "unknown service "+service)
	} else {
		ctx = protocol.ContextWithService(ctx, svc.Name())
		ctx = contextWithService(ctx, svc)
		resp, err = r.safeCall(ctx, req)
	}

	if err != nil {
		rpcErr := protocol.AsError(err)
		r.logFailure(service, req, rpcErr)
		if resp != nil {
			protocol.ReleaseResponse(resp)
		}
		resp = protocol.AcquireResponse()
		resp.Error = rpcErr
	}

	if req.IsNotification() {
		protocol.ReleaseResponse(resp)
		return nil
	}
	if resp == nil {
		resp = protocol.AcquireResponse()
	}
	resp.ID = req.ID
	return resp
}

func (r *Router) safeCall(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			resp = nil
			err = protocol.NewInternalError(fmt.Sprintf("panic: %v\n%s", p, debug.Stack()))
		}
	}()
	return r.handler(ctx, req)
}

// call is the innermost handler of the middleware chain.
func (r *Router) call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	svc := serviceFromContext(ctx)
	if svc == nil {
		return nil, protocol.NewServerError(MessageServiceNotFound, "no service in context")
	}

	m, ok := svc.Method(req.Method)
	if !ok {
		return nil, protocol.NewMethodNotFound(fmt.Sprintf("%s has no method %q", svc.Name(), req.Method))
	}

	args, bindErr := m.bind(req.Params)
	if bindErr != nil {
		return nil, bindErr
	}

	result, err := m.call(ctx, args)
	if err != nil {
		return nil, err
	}

	resp := protocol.AcquireResponse()
	if m.ReturnType != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			protocol.ReleaseResponse(resp)
			return nil, protocol.NewInternalError(fmt.Sprintf("encode result of %s: %v", req.Method, err))
		}
		resp.Result = raw
	}
	return resp, nil
}

func (r *Router) logFailure(service string, req *protocol.Request, e *protocol.Error) {
	fields := []middleware.Field{
		middleware.F("service", service),
		middleware.F("method", req.Method),
		middleware.F("id", req.ID.String()),
		middleware.F("code", e.Code),
	}
	if diag := e.Internal(); diag != "" {
		fields = append(fields, middleware.F("diagnostic", diag))
	}

	switch {
	case e.Code == protocol.CodeInternalError,
		e.Code >= protocol.CodeServerErrorMin && e.Code <= protocol.CodeServerErrorMax:
		r.logger.Error("call failed", fields...)
	default:
		r.logger.Debug("call rejected", fields...)
	}
}

type serviceCtxKey struct{}

func contextWithService(ctx context.Context, svc *Service) context.Context {
	return context.WithValue(ctx, serviceCtxKey{}, svc)
}

func serviceFromContext(ctx context.Context) *Service {
	svc, _ := ctx.Value(serviceCtxKey{}).(*Service)
	return svc
}
