// Package protocol implements the JSON-RPC 2.0 wire layer.
package protocol

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server-defined error range, inclusive.
const (
	CodeServerErrorMin     = -32099
	CodeServerErrorMax     = -32000
	DefaultServerErrorCode = CodeServerErrorMax
)

// Server-defined codes used by the bundled middleware.
const (
	CodeUnauthorized = -32002
	CodeRateLimited  = -32003
)

// Public messages. These are the only texts that reach the wire for the
// standard error variants.
const (
	MessageParseError     = "Invalid JSON was received by the server. An error occurred on the server while parsing the JSON text."
	MessageInvalidRequest = "The JSON sent is not a valid Request object."
	MessageMethodNotFound = "The method does not exist / is not available."
	MessageInvalidParams  = "Invalid method parameter(s)."
	MessageInternalError  = "Internal JSON-RPC error."
	serverErrorPrefix     = "Server error: "
)

// ErrServerErrorCodeRange is returned when a server error code outside
// [-32099, -32000] is configured.
var ErrServerErrorCodeRange = errors.New("jsonrpc: server error code out of range [-32099, -32000]")

var serverErrorCode atomic.Int64

func init() {
	serverErrorCode.Store(DefaultServerErrorCode)
}

// SetServerErrorCode changes the code used by NewServerError.
func SetServerErrorCode(code int) error {
	if err := ValidateServerErrorCode(code); err != nil {
		return err
	}
	serverErrorCode.Store(int64(code))
	return nil
}

// ValidateServerErrorCode reports whether code lies in the server-defined range.
func ValidateServerErrorCode(code int) error {
	if code < CodeServerErrorMin || code > CodeServerErrorMax {
		return fmt.Errorf("%w: %d", ErrServerErrorCodeRange, code)
	}
	return nil
}

// ServerErrorCode returns the code currently used by NewServerError.
func ServerErrorCode() int {
	return int(serverErrorCode.Load())
}

// Error represents a JSON-RPC 2.0 error.
//
// Message is wire-visible. The internal diagnostic is kept for logging and
// is never serialized.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	internal string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %s (code: %d)", e.Message, e.Code)
}

// Internal returns the diagnostic text attached to the error.
func (e *Error) Internal() string {
	return e.internal
}

// Is implements errors.Is comparison by error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithData returns a copy of the error with additional data attached.
func (e *Error) WithData(data any) *Error {
	return &Error{
		Code:     e.Code,
		Message:  e.Message,
		Data:     data,
		internal: e.internal,
	}
}

// WithInternal returns a copy of the error carrying the given diagnostic.
func (e *Error) WithInternal(diag string) *Error {
	return &Error{
		Code:     e.Code,
		Message:  e.Message,
		Data:     e.Data,
		internal: diag,
	}
}

// NewParseError creates a parse error (-32700).
func NewParseError(diag string) *Error {
	return &Error{Code: CodeParseError, Message: MessageParseError, internal: diag}
}

// NewInvalidRequest creates an invalid request error (-32600).
func NewInvalidRequest(diag string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: MessageInvalidRequest, internal: diag}
}

// NewMethodNotFound creates a method not found error (-32601).
func NewMethodNotFound(diag string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: MessageMethodNotFound, internal: diag}
}

// NewInvalidParams creates an invalid params error (-32602).
func NewInvalidParams(diag string) *Error {
	return &Error{Code: CodeInvalidParams, Message: MessageInvalidParams, internal: diag}
}

// NewInternalError creates an internal error (-32603).
func NewInternalError(diag string) *Error {
	return &Error{Code: CodeInternalError, Message: MessageInternalError, internal: diag}
}

// NewServerError creates a server error using the configured server code.
// The public message is prefixed with "Server error: ".
func NewServerError(msg, diag string) *Error {
	return &Error{Code: ServerErrorCode(), Message: serverErrorPrefix + msg, internal: diag}
}

// NewUnauthorized creates an unauthorized error (-32002).
func NewUnauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// AsError converts err to a wire error. RPC errors pass through unchanged;
// anything else becomes an internal error whose diagnostic is err's text.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewInternalError(err.Error())
}
