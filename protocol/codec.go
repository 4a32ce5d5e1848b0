package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// ErrInvalidResponse is returned by DecodeResponses for bodies that are not
// valid JSON-RPC 2.0 responses.
var ErrInvalidResponse = errors.New("jsonrpc: invalid response")

var (
	versionLiteral = []byte(`"2.0"`)
	nullLiteral    = []byte("null")
)

type wireWriter interface {
	io.Writer
	io.ByteWriter
	io.StringWriter
}

// wireRequest keeps every member raw so kinds can be checked before binding.
type wireRequest struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type wireResponse struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// DecodeRequests parses a single request object or a batch array.
//
// Malformed JSON yields a *Error with CodeParseError. A structurally valid
// payload containing any invalid element yields a single *Error for the
// whole payload, usually CodeInvalidRequest. Trailing commas before a
// closing bracket or brace are accepted.
func DecodeRequests(data []byte) ([]*Request, error) {
	elems, batch, err := splitPayload(data)
	if err != nil {
		return nil, err
	}
	if batch && len(elems) == 0 {
		return nil, NewInvalidRequest("empty batch")
	}

	reqs := make([]*Request, 0, len(elems))
	for i, raw := range elems {
		req, err := decodeRequest(raw)
		if err != nil {
			if batch {
				return nil, err.WithInternal(fmt.Sprintf("batch element %d: %s", i, err.Internal()))
			}
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// DecodeRequestsFrom reads r to EOF and decodes its contents.
func DecodeRequestsFrom(r io.Reader) ([]*Request, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if _, err := buf.ReadFrom(r); err != nil {
		return nil, NewParseError(err.Error())
	}
	return DecodeRequests(buf.B)
}

func splitPayload(data []byte) ([]json.RawMessage, bool, *Error) {
	data = stripTrailingCommas(bytes.TrimSpace(data))
	if len(data) == 0 {
		return nil, false, NewParseError("empty payload")
	}
	if !json.Valid(data) {
		return nil, false, NewParseError("malformed JSON")
	}

	switch data[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, true, NewParseError(err.Error())
		}
		return elems, true, nil
	case '{':
		return []json.RawMessage{data}, false, nil
	default:
		return nil, false, NewInvalidRequest("payload is neither an object nor an array")
	}
}

func decodeRequest(raw json.RawMessage) (*Request, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, NewInvalidRequest("request is not an object")
	}

	var w wireRequest
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, NewInvalidRequest(err.Error())
	}

	if !isJSONString(w.JSONRPC) {
		return nil, NewInvalidRequest(`"jsonrpc" must be "2.0"`)
	}
	var version string
	if err := json.Unmarshal(w.JSONRPC, &version); err != nil || version != JSONRPCVersion {
		return nil, NewInvalidRequest(`"jsonrpc" must be "2.0"`)
	}

	if len(w.Method) == 0 {
		return nil, NewInvalidRequest(`missing "method"`)
	}
	if !isJSONString(w.Method) {
		return nil, NewInvalidRequest(`"method" must be a string`)
	}
	req := &Request{JSONRPC: JSONRPCVersion}
	if err := json.Unmarshal(w.Method, &req.Method); err != nil {
		return nil, NewInvalidRequest(err.Error())
	}

	if len(w.ID) > 0 {
		if !isJSONString(w.ID) && !isJSONNumber(w.ID) {
			return nil, NewInvalidRequest(`"id" must be a string or a number`)
		}
		req.ID = ID(w.ID)
	}

	if len(w.Params) > 0 && !bytes.Equal(w.Params, nullLiteral) {
		req.Params = w.Params
	}
	return req, nil
}

func isJSONString(raw []byte) bool {
	return len(raw) > 0 && raw[0] == '"'
}

func isJSONNumber(raw []byte) bool {
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}

// EncodeResponses serializes responses for the wire. No responses yields
// nil, one yields a bare object and more yield an array.
func EncodeResponses(resps []*Response) ([]byte, error) {
	if len(resps) == 0 {
		return nil, nil
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if len(resps) == 1 {
		if err := resps[0].writeTo(buf); err != nil {
			return nil, err
		}
		return append([]byte(nil), buf.B...), nil
	}

	buf.WriteByte('[')
	for i, r := range resps {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := r.writeTo(buf); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(']')
	return append([]byte(nil), buf.B...), nil
}

// EncodeRequests serializes requests with the same shape rules as
// EncodeResponses.
func EncodeRequests(reqs []*Request) ([]byte, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if len(reqs) > 1 {
		buf.WriteByte('[')
	}
	for i, r := range reqs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := r.writeTo(buf); err != nil {
			return nil, err
		}
	}
	if len(reqs) > 1 {
		buf.WriteByte(']')
	}
	return append([]byte(nil), buf.B...), nil
}

// DecodeResponses parses a single response object or an array of them.
func DecodeResponses(data []byte) ([]*Response, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var elems []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	case '{':
		elems = []json.RawMessage{data}
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidResponse, data[0])
	}

	resps := make([]*Response, 0, len(elems))
	for _, raw := range elems {
		resp, err := decodeResponse(raw)
		if err != nil {
			return nil, err
		}
		resps = append(resps, resp)
	}
	return resps, nil
}

func decodeResponse(raw json.RawMessage) (*Response, error) {
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !bytes.Equal(w.JSONRPC, versionLiteral) {
		return nil, fmt.Errorf("%w: missing jsonrpc version", ErrInvalidResponse)
	}

	hasError := len(w.Error) > 0 && !bytes.Equal(w.Error, nullLiteral)
	hasResult := len(w.Result) > 0
	if hasError == hasResult {
		return nil, fmt.Errorf("%w: exactly one of result and error must be present", ErrInvalidResponse)
	}

	resp := &Response{JSONRPC: JSONRPCVersion}
	if len(w.ID) > 0 && !bytes.Equal(w.ID, nullLiteral) {
		resp.ID = ID(w.ID)
	}
	if hasError {
		var e Error
		if err := json.Unmarshal(w.Error, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		resp.Error = &e
		return resp, nil
	}
	resp.Result = w.Result
	return resp, nil
}

func (r *Request) writeTo(w wireWriter) error {
	method, err := json.Marshal(r.Method)
	if err != nil {
		return err
	}
	w.WriteString(`{"jsonrpc":"2.0","method":`)
	w.Write(method)
	if len(r.Params) > 0 {
		w.WriteString(`,"params":`)
		w.Write(r.Params)
	}
	if len(r.ID) > 0 {
		w.WriteString(`,"id":`)
		w.Write(r.ID)
	}
	w.WriteByte('}')
	return nil
}

func (r *Response) writeTo(w wireWriter) error {
	w.WriteString(`{"jsonrpc":"2.0",`)
	if r.Error != nil {
		w.WriteString(`"error":`)
		if err := r.Error.writeTo(w); err != nil {
			return err
		}
	} else {
		w.WriteString(`"result":`)
		if len(r.Result) == 0 {
			w.Write(nullLiteral)
		} else {
			w.Write(r.Result)
		}
	}
	w.WriteString(`,"id":`)
	if len(r.ID) == 0 {
		w.Write(nullLiteral)
	} else {
		w.Write(r.ID)
	}
	w.WriteByte('}')
	return nil
}

// writeTo omits data that cannot be marshaled rather than failing the
// whole response.
func (e *Error) writeTo(w wireWriter) error {
	msg, err := json.Marshal(e.Message)
	if err != nil {
		return err
	}
	w.WriteString(`{"code":`)
	w.WriteString(strconv.Itoa(e.Code))
	w.WriteString(`,"message":`)
	w.Write(msg)
	if e.Data != nil {
		if data, err := json.Marshal(e.Data); err == nil {
			w.WriteString(`,"data":`)
			w.Write(data)
		}
	}
	w.WriteByte('}')
	return nil
}
