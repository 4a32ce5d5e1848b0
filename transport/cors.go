package transport

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access to the HTTP transport.
type CORSConfig struct {
	// AllowOrigins lists exact origins, or "*" for any origin.
	AllowOrigins []string
	// AllowMethods defaults to POST, OPTIONS.
	AllowMethods []string
	// AllowHeaders defaults to Content-Type, Authorization, X-Request-ID.
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds. Default: 86400.
	MaxAge int
}

var (
	defaultCORSMethods = []string{http.MethodPost, http.MethodOptions}
	defaultCORSHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
)

// DefaultCORSConfig returns a permissive configuration for development.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: slices.Clone(defaultCORSMethods),
		AllowHeaders: slices.Clone(defaultCORSHeaders),
		MaxAge:       86400,
	}
}

// CORSHandler wraps next with CORS headers. Preflight requests from an
// allowed origin are answered with 204 and never reach next.
func CORSHandler(config CORSConfig, next http.Handler) http.Handler {
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = defaultCORSMethods
	}
	if len(config.AllowHeaders) == 0 {
		config.AllowHeaders = defaultCORSHeaders
	}
	if config.MaxAge == 0 {
		config.MaxAge = 86400
	}

	anyOrigin := slices.Contains(config.AllowOrigins, "*")
	methods := strings.Join(config.AllowMethods, ", ")
	headers := strings.Join(config.AllowHeaders, ", ")
	exposed := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		var allowOrigin string
		switch {
		case anyOrigin && !config.AllowCredentials:
			allowOrigin = "*"
		case origin != "" && (anyOrigin || slices.Contains(config.AllowOrigins, origin)):
			allowOrigin = origin
			w.Header().Add("Vary", "Origin")
		}

		if allowOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowOrigin)
		if config.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			if config.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if exposed != "" {
			h.Set("Access-Control-Expose-Headers", exposed)
		}
		next.ServeHTTP(w, r)
	})
}

// WithCORS configures CORS for the HTTP transport.
func WithCORS(config CORSConfig) HTTPOption {
	return func(h *HTTP) {
		h.corsConfig = &config
	}
}

// WithDefaultCORS enables CORS with DefaultCORSConfig.
func WithDefaultCORS() HTTPOption {
	return WithCORS(DefaultCORSConfig())
}
