package protocol

import (
	"context"
	"maps"
)

// requestMetaKey is the context key for request metadata.
type requestMetaKey struct{}

// RequestMeta holds metadata associated with a request.
// This is typically used to pass HTTP headers or other transport-level
// information to middleware and handlers.
type RequestMeta map[string]string

// ContextWithRequestMeta returns a new context with the request metadata attached.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns the request metadata from the context.
// Returns nil if no metadata is present.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return nil
}

// GetRequestMeta returns a specific metadata value from the context.
// Returns empty string if the key is not found or no metadata is present.
func GetRequestMeta(ctx context.Context, key string) string {
	meta := RequestMetaFromContext(ctx)
	if meta == nil {
		return ""
	}
	return meta[key]
}

// SetRequestMeta returns a context whose metadata is a copy of ctx's with
// key set to value.
func SetRequestMeta(ctx context.Context, key, value string) context.Context {
	meta := maps.Clone(RequestMetaFromContext(ctx))
	if meta == nil {
		meta = make(RequestMeta, 1)
	}
	meta[key] = value
	return ContextWithRequestMeta(ctx, meta)
}

type serviceKey struct{}

// ContextWithService returns a context carrying the name of the service a
// request was routed to.
func ContextWithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, serviceKey{}, service)
}

// ServiceFromContext returns the service name, or "" if none is set.
func ServiceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(serviceKey{}).(string)
	return s
}

// Metadata keys set by the bundled transports.
const (
	MetaRemoteAddr = "Remote-Addr"
	MetaTransport  = "Transport"
)
