// Package server provides the service registry and call dispatcher.
package server

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
)

// Info contains server metadata.
type Info struct {
	Name    string
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithRegistryOptions passes options to the server's registry.
func WithRegistryOptions(opts ...RegistryOption) Option {
	return func(s *Server) {
		s.registryOpts = append(s.registryOpts, opts...)
	}
}

// WithRouterOptions passes options to the server's router.
func WithRouterOptions(opts ...RouterOption) Option {
	return func(s *Server) {
		s.routerOpts = append(s.routerOpts, opts...)
	}
}

// Server bundles a registry with the router built over it. Services and
// middleware are added during startup; the first message freezes both.
type Server struct {
	mu sync.RWMutex

	info         Info
	registry     *Registry
	registryOpts []RegistryOption
	routerOpts   []RouterOption
	middleware   []middleware.Middleware
	router       *Router
}

// New creates a new server with the given info and options.
func New(info Info, opts ...Option) *Server {
	s := &Server{info: info}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(s.registryOpts...)
	return s
}

// Info returns the server info.
func (s *Server) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Use registers middleware to be executed around every call. Middleware
// added after the first message has been handled is ignored.
func (s *Server) Use(m ...middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, m...)
}

// Register adds a service. See Registry.Register.
func (s *Server) Register(b *ServiceBuilder) error {
	return s.registry.Register(b)
}

// Registry returns the underlying registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Services returns every registered service.
func (s *Server) Services() []*Service {
	return s.registry.Services()
}

// Router returns the router, building it on first use.
func (s *Server) Router() *Router {
	s.mu.RLock()
	r := s.router
	s.mu.RUnlock()
	if r != nil {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router == nil {
		opts := append([]RouterOption{WithMiddleware(s.middleware...)}, s.routerOpts...)
		s.router = NewRouter(s.registry, opts...)
	}
	return s.router
}

// HandleMessage routes payload to service. See Router.HandleMessage.
func (s *Server) HandleMessage(ctx context.Context, service string, payload []byte) []byte {
	return s.Router().HandleMessage(ctx, service, payload)
}
