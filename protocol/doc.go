// Package protocol defines the JSON-RPC 2.0 message types, error codes and
// the wire codec.
//
// Most users should use the higher-level jsonrpc package instead.
//
// # Decoding
//
// DecodeRequests accepts a single request object or a batch array:
//
//	reqs, err := protocol.DecodeRequests(body)
//	if err != nil {
//	    // err is a *protocol.Error (parse error or invalid request)
//	}
//
// Ids are kept as raw JSON text and echoed verbatim. A request without an id
// is a notification. Trailing commas are tolerated.
//
// # Encoding
//
// EncodeResponses writes nothing for an empty set, a bare object for one
// response and an array for more:
//
//	body, err := protocol.EncodeResponses(resps)
//
// # Error Codes
//
//	CodeParseError     = -32700
//	CodeInvalidRequest = -32600
//	CodeMethodNotFound = -32601
//	CodeInvalidParams  = -32602
//	CodeInternalError  = -32603
//
// Server errors use a configurable code in [-32099, -32000]:
//
//	if err := protocol.SetServerErrorCode(-32050); err != nil {
//	    log.Fatal(err)
//	}
//
// Every error carries a fixed public message and an internal diagnostic,
// available through Internal, which is never written to the wire.
package protocol
