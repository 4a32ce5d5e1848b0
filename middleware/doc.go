// Package middleware provides per-call middleware for JSON-RPC services.
//
// Middleware wraps the handler of a single decoded request. Inside a batch
// each request runs through the chain on its own, so a rate limiter counts
// every request and a logger records one line per call.
//
// # Basic Usage
//
//	router := server.NewRouter(reg, server.WithMiddleware(
//	    middleware.Recover(),
//	    middleware.RequestID(),
//	    middleware.Logging(middleware.NewSlogLogger(slog.Default())),
//	))
//
// # Available Middleware
//
//   - Recover: Catches panics and converts them to internal errors
//   - RequestID: Injects a ULID request ID into the context
//   - Timeout: Gives every call a deadline
//   - Logging: Logs call details and timing
//   - SizeLimit: Rejects oversized params
//   - RateLimit, RateLimitByMethod, RateLimitByService, RateLimitByClient:
//     token bucket limits backed by fortify
//   - Auth: API key or bearer token authentication from transport metadata
//   - OTel: OpenTelemetry spans and metrics
//
// # Default Stacks
//
//	// Recover + RequestID + Logging
//	stack := middleware.DefaultStack(logger)
//
//	// Recover + RequestID + Timeout + Logging
//	stack := middleware.DefaultStackWithTimeout(logger, 30*time.Second)
//
// # Custom Middleware
//
//	func Audit(log Logger) middleware.Middleware {
//	    return func(next middleware.HandlerFunc) middleware.HandlerFunc {
//	        return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
//	            log.Info("call", middleware.F("method", req.Method))
//	            return next(ctx, req)
//	        }
//	    }
//	}
package middleware
