package protocol

import "sync"

var responsePool = sync.Pool{
	New: func() any { return new(Response) },
}

// AcquireResponse returns an empty response from the pool.
func AcquireResponse() *Response {
	r := responsePool.Get().(*Response)
	r.JSONRPC = JSONRPCVersion
	return r
}

// ReleaseResponse resets r and returns it to the pool. r must not be used
// after this call.
func ReleaseResponse(r *Response) {
	if r == nil {
		return
	}
	r.Reset()
	responsePool.Put(r)
}

// ReleaseResponses releases every response in rs.
func ReleaseResponses(rs []*Response) {
	for _, r := range rs {
		ReleaseResponse(r)
	}
}

// Reset clears every field so no state from a previous call survives.
func (r *Response) Reset() {
	r.JSONRPC = ""
	r.ID = nil
	r.Result = nil
	r.Error = nil
}
