package middleware

import (
	"context"
	"time"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// Logger is the interface for structured logging.
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logging returns middleware that logs every call.
// Successful calls are logged at info level, failed ones at error level.
// Notifications are logged at debug level whatever their outcome.
func Logging(logger Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			start := time.Now()

			resp, err := next(ctx, req)

			fields := []Field{
				F("service", protocol.ServiceFromContext(ctx)),
				F("method", req.Method),
				F("duration", time.Since(start)),
			}
			if !req.IsNotification() {
				fields = append(fields, F("id", req.ID.String()))
			}
			if requestID := RequestIDFromContext(ctx); requestID != "" {
				fields = append(fields, F("request_id", requestID))
			}

			switch {
			case err != nil:
				rpcErr := protocol.AsError(err)
				fields = append(fields, F("code", rpcErr.Code), F("error", err.Error()))
				if req.IsNotification() {
					logger.Debug("notification failed", fields...)
				} else {
					logger.Error("request failed", fields...)
				}
			case req.IsNotification():
				logger.Debug("notification handled", fields...)
			default:
				logger.Info("request completed", fields...)
			}

			return resp, err
		}
	}
}

// NopLogger is a logger that discards all log entries.
type NopLogger struct{}

func (NopLogger) Info(msg string, fields ...Field)  {}
func (NopLogger) Error(msg string, fields ...Field) {}
func (NopLogger) Debug(msg string, fields ...Field) {}
func (NopLogger) Warn(msg string, fields ...Field)  {}
