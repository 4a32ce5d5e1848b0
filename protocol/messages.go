package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// JSONRPCVersion is the JSON-RPC protocol version.
const JSONRPCVersion = "2.0"

// ID is the raw JSON text of a request id: a string or a number.
// It is echoed back verbatim. An empty ID means the id was absent.
type ID []byte

// NumberID returns an ID holding the integer n.
func NumberID(n int64) ID {
	return ID(strconv.AppendInt(nil, n, 10))
}

// StringID returns an ID holding the string s.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID(b)
}

// IsZero reports whether the id is absent.
func (id ID) IsZero() bool {
	return len(id) == 0
}

// Equal reports whether two ids have identical JSON text.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id, other)
}

// String returns the JSON text of the id, or "null" if absent.
func (id ID) String() string {
	if len(id) == 0 {
		return "null"
	}
	return string(id)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = nil
		return nil
	}
	*id = append((*id)[:0], data...)
	return nil
}

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id,omitempty"`
}

// IsNotification returns true if this request has no ID (is a notification).
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// NewRequest builds a request, marshaling params unless they are already raw.
// A zero id produces a notification.
func NewRequest(id ID, method string, params any) (*Request, error) {
	req := &Request{JSONRPC: JSONRPCVersion, Method: method, ID: id}
	switch p := params.(type) {
	case nil:
	case json.RawMessage:
		req.Params = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		req.Params = b
	}
	return req, nil
}

// MarshalJSON writes the request with members in wire order.
func (r Request) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.writeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Response represents a JSON-RPC 2.0 response.
// Result holds the already-encoded result; exactly one of Result and Error
// is meaningful, and Result encodes as null when empty.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// NewResponse creates a successful response.
func NewResponse(id ID, result json.RawMessage) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}

// IsError reports whether the response carries an error.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// MarshalJSON writes the response with members in wire order. A success
// always carries a result member, even when null.
func (r Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.writeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
