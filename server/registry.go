package server

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/felixgeelhaar/jsonrpc-go/schema"
)

// Registration errors. All of them are fatal configuration errors.
var (
	ErrServiceExists    = errors.New("server: service already registered")
	ErrDuplicateMethod  = errors.New("server: duplicate method name")
	ErrNotExported      = errors.New("server: method is not exported")
	ErrInvalidSignature = errors.New("server: unsupported method signature")
	ErrInvalidName      = errors.New("server: invalid name")
	ErrRegistryFrozen   = errors.New("server: registry is frozen")
)

// Service is a registered service: a name and its callable methods.
// It is read-only after registration.
type Service struct {
	name    string
	version string
	methods map[string]*MethodDescriptor
}

// Name returns the lookup key of the service, "name" or "name/version".
func (s *Service) Name() string {
	return serviceKey(s.name, s.version)
}

// Version returns the service version, or "" if unversioned.
func (s *Service) Version() string {
	return s.version
}

// Method returns the descriptor registered under name.
func (s *Service) Method(name string) (*MethodDescriptor, bool) {
	m, ok := s.methods[name]
	return m, ok
}

// Methods returns every method descriptor ordered by name.
func (s *Service) Methods() []*MethodDescriptor {
	result := make([]*MethodDescriptor, 0, len(s.methods))
	for _, m := range s.methods {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

type methodDef struct {
	name       string
	fn         reflect.Value
	paramNames []string
	err        error
}

// ServiceBuilder provides a fluent API for describing a service.
// Nothing is validated until the builder is passed to Registry.Register.
type ServiceBuilder struct {
	name    string
	version string
	defs    []methodDef
	err     error
}

// NewService starts building a service with the given name.
// Service names are case-insensitive.
func NewService(name string) *ServiceBuilder {
	b := &ServiceBuilder{name: strings.ToLower(name)}
	if b.name == "" || strings.ContainsAny(b.name, "/ ") {
		b.err = fmt.Errorf("%w: service %q", ErrInvalidName, name)
	}
	return b
}

// Version sets the service version. A versioned service is looked up as
// "name/version".
func (b *ServiceBuilder) Version(v string) *ServiceBuilder {
	if b.err != nil {
		return b
	}
	if strings.ContainsAny(v, "/ ") {
		b.err = fmt.Errorf("%w: version %q", ErrInvalidName, v)
		return b
	}
	b.version = strings.ToLower(v)
	return b
}

// Method adds fn under the given method name. paramNames, when given, must
// name every wire parameter and enable by-name binding.
func (b *ServiceBuilder) Method(name string, fn any, paramNames ...string) *ServiceBuilder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.defs = append(b.defs, methodDef{name: name, err: fmt.Errorf("%w: %s has a nil handler", ErrInvalidSignature, name)})
		return b
	}
	b.defs = append(b.defs, methodDef{name: name, fn: reflect.ValueOf(fn), paramNames: paramNames})
	return b
}

// Bind adds the method goName of rcvr under the wire name name.
func (b *ServiceBuilder) Bind(rcvr any, goName, name string, paramNames ...string) *ServiceBuilder {
	if b.err != nil {
		return b
	}
	def := methodDef{name: name, paramNames: paramNames}
	if !isExported(goName) {
		def.err = fmt.Errorf("%w: %s", ErrNotExported, goName)
	} else if m := reflect.ValueOf(rcvr).MethodByName(goName); !m.IsValid() {
		def.err = fmt.Errorf("%w: %T has no method %s", ErrInvalidSignature, rcvr, goName)
	} else {
		def.fn = m
	}
	b.defs = append(b.defs, def)
	return b
}

// Receiver adds every exported method of rcvr. Wire names are the Go names
// with the first letter lowercased, so Add is exposed as "add".
func (b *ServiceBuilder) Receiver(rcvr any) *ServiceBuilder {
	if b.err != nil {
		return b
	}
	v := reflect.ValueOf(rcvr)
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		b.defs = append(b.defs, methodDef{name: lowerFirst(t.Method(i).Name), fn: v.Method(i)})
	}
	return b
}

// Registry holds every registered service. Registration happens at startup;
// once frozen, lookups take no locks.
type Registry struct {
	mu       sync.Mutex
	frozen   atomic.Bool
	services map[string]*Service
	checker  *schema.Checker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithChecker sets the type checker used during registration.
func WithChecker(c *schema.Checker) RegistryOption {
	return func(r *Registry) {
		r.checker = c
	}
}

// WithMaxDepth sets the nesting bound of the type checker.
func WithMaxDepth(depth int) RegistryOption {
	return func(r *Registry) {
		r.checker = &schema.Checker{MaxDepth: depth}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		services: make(map[string]*Service),
		checker:  schema.NewChecker(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and adds a service. It fails if the service name is
// taken, a method name repeats, a target is not exported, or any parameter
// or result type cannot cross the wire.
func (r *Registry) Register(b *ServiceBuilder) error {
	if b.err != nil {
		return b.err
	}

	svc := &Service{
		name:    b.name,
		version: b.version,
		methods: make(map[string]*MethodDescriptor, len(b.defs)),
	}
	for _, def := range b.defs {
		if def.err != nil {
			return fmt.Errorf("service %s: %w", svc.Name(), def.err)
		}
		if def.name == "" {
			return fmt.Errorf("service %s: %w: empty method name", svc.Name(), ErrInvalidName)
		}
		if _, dup := svc.methods[def.name]; dup {
			return fmt.Errorf("service %s: %w: %s", svc.Name(), ErrDuplicateMethod, def.name)
		}
		desc, err := compileMethod(def.name, def.fn, def.paramNames, r.checker)
		if err != nil {
			return fmt.Errorf("service %s: %w", svc.Name(), err)
		}
		svc.methods[def.name] = desc
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	key := svc.Name()
	if _, exists := r.services[key]; exists {
		return fmt.Errorf("%w: %s", ErrServiceExists, key)
	}
	r.services[key] = svc
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(b *ServiceBuilder) {
	if err := r.Register(b); err != nil {
		panic(err)
	}
}

// Freeze ends registration. It is called implicitly by the first Lookup.
func (r *Registry) Freeze() {
	if r.frozen.Load() {
		return
	}
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Lookup returns the service registered under name ("name" or
// "name/version", case-insensitive).
func (r *Registry) Lookup(name string) (*Service, bool) {
	r.Freeze()
	svc, ok := r.services[strings.ToLower(name)]
	return svc, ok
}

// Services returns every registered service ordered by name.
func (r *Registry) Services() []*Service {
	r.Freeze()
	result := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

func serviceKey(name, version string) string {
	if version == "" {
		return name
	}
	return name + "/" + version
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
