package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// MessageTimeout is the public text of the error returned when a call
// overruns its deadline.
const MessageTimeout = "Request timed out."

// Timeout returns middleware that gives every call a deadline.
// The call is not interrupted; methods that accept a context observe the
// cancellation themselves. A call that fails because its deadline passed is
// reported as a server error.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next(ctx, req)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, protocol.NewServerError(MessageTimeout, req.Method+": "+err.Error())
			}
			return resp, err
		}
	}
}
