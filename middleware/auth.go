package middleware

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// Identity is the caller established by an Authenticator.
type Identity struct {
	ID   string
	Name string
	// Services restricts the identity to the named services ("name" or
	// "name/version"). Empty means every service.
	Services []string
	Metadata map[string]any
}

// CanAccess reports whether the identity may call service.
func (id *Identity) CanAccess(service string) bool {
	if len(id.Services) == 0 {
		return true
	}
	return slices.ContainsFunc(id.Services, func(s string) bool {
		return strings.EqualFold(s, service)
	})
}

type identityContextKey struct{}

// IdentityFromContext returns the identity attached by Auth, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

// ContextWithIdentity attaches identity to ctx.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// Authenticator resolves the caller of req. It returns a nil identity when
// the call carries no acceptable credential, and an error only when the
// credential could not be checked at all.
type Authenticator func(ctx context.Context, req *protocol.Request) (*Identity, error)

// AuthOption configures Auth.
type AuthOption func(*authConfig)

type authConfig struct {
	logger  Logger
	skip    map[string]bool
	realm   string
	message string
}

// WithAuthLogger sets the logger for rejected calls.
func WithAuthLogger(l Logger) AuthOption {
	return func(c *authConfig) {
		c.logger = l
	}
}

// WithAuthSkipMethods lets methods through without credentials. Entries
// are either a bare method name, matching it in every service, or
// "service.method".
func WithAuthSkipMethods(methods ...string) AuthOption {
	return func(c *authConfig) {
		for _, m := range methods {
			c.skip[m] = true
		}
	}
}

// WithAuthRealm names the protected realm in log entries.
func WithAuthRealm(realm string) AuthOption {
	return func(c *authConfig) {
		c.realm = realm
	}
}

// WithAuthErrorMessage replaces the public message of rejected calls.
func WithAuthErrorMessage(msg string) AuthOption {
	return func(c *authConfig) {
		c.message = msg
	}
}

// Auth rejects calls whose caller authenticate cannot identify, or whose
// identity may not use the addressed service, with CodeUnauthorized. The
// reason for a rejection is logged but never sent to the caller.
func Auth(authenticate Authenticator, opts ...AuthOption) Middleware {
	cfg := &authConfig{
		logger:  NopLogger{},
		skip:    make(map[string]bool),
		realm:   "jsonrpc",
		message: "authentication required",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			service := protocol.ServiceFromContext(ctx)
			if cfg.skip[req.Method] || cfg.skip[service+"."+req.Method] {
				return next(ctx, req)
			}

			reject := func(reason string) error {
				cfg.logger.Warn("authentication failed",
					F("service", service),
					F("method", req.Method),
					F("realm", cfg.realm),
					F("error", reason),
				)
				return protocol.NewUnauthorized(cfg.message).WithInternal(reason)
			}

			identity, err := authenticate(ctx, req)
			switch {
			case err != nil:
				return nil, reject(err.Error())
			case identity == nil:
				return nil, reject("")
			case !identity.CanAccess(service):
				return nil, reject(fmt.Sprintf("identity %s may not call service %s", identity.ID, service))
			}

			cfg.logger.Debug("authenticated",
				F("service", service),
				F("method", req.Method),
				F("identity", identity.ID),
			)
			return next(ContextWithIdentity(ctx, identity), req)
		}
	}
}

// HeaderAuthenticator reads the credential from the transport header named
// header, matched case-insensitively. When scheme is set the header must
// read "<scheme> <credential>". validate maps a credential to its identity,
// or nil when it is unknown.
func HeaderAuthenticator(header, scheme string, validate func(credential string) *Identity) Authenticator {
	return func(ctx context.Context, _ *protocol.Request) (*Identity, error) {
		value := metaValue(ctx, header)
		if scheme != "" {
			got, rest, ok := strings.Cut(value, " ")
			if !ok || !strings.EqualFold(got, scheme) {
				return nil, nil
			}
			value = strings.TrimSpace(rest)
		}
		if value == "" {
			return nil, nil
		}
		return validate(value), nil
	}
}

// APIKeyAuthenticator reads a bare key from header.
func APIKeyAuthenticator(header string, validate func(key string) *Identity) Authenticator {
	return HeaderAuthenticator(header, "", validate)
}

// BearerTokenAuthenticator reads "Authorization: Bearer <token>".
func BearerTokenAuthenticator(validate func(token string) *Identity) Authenticator {
	return HeaderAuthenticator("Authorization", "Bearer", validate)
}

// StaticCredentials validates against a fixed credential to identity table.
func StaticCredentials(table map[string]*Identity) func(string) *Identity {
	return func(credential string) *Identity {
		return table[credential]
	}
}

// ChainAuthenticators tries each authenticator in turn and returns the first
// identity found. An error stops the chain.
func ChainAuthenticators(authenticators ...Authenticator) Authenticator {
	return func(ctx context.Context, req *protocol.Request) (*Identity, error) {
		for _, authenticate := range authenticators {
			if identity, err := authenticate(ctx, req); err != nil || identity != nil {
				return identity, err
			}
		}
		return nil, nil
	}
}

func metaValue(ctx context.Context, key string) string {
	meta := protocol.RequestMetaFromContext(ctx)
	if v, ok := meta[key]; ok {
		return v
	}
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
