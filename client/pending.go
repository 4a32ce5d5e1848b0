package client

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/jsonrpc-go/middleware"
	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// pending routes replies arriving on a shared connection to the caller
// waiting on the matching request id.
type pending struct {
	mu      sync.Mutex
	calls   map[string]chan []byte
	err     error
	logger  middleware.Logger
	service string
}

func newPending(logger middleware.Logger, service string) *pending {
	return &pending{
		calls:   make(map[string]chan []byte),
		logger:  logger,
		service: service,
	}
}

func (p *pending) setLogger(l middleware.Logger) {
	p.mu.Lock()
	p.logger = l
	p.mu.Unlock()
}

func (p *pending) add(id protocol.ID) (chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan []byte, 1)
	p.calls[id.String()] = ch
	return ch, nil
}

func (p *pending) remove(id protocol.ID) {
	p.mu.Lock()
	delete(p.calls, id.String())
	p.mu.Unlock()
}

// deliver hands msg to its caller and reports whether one was found.
// A reply whose id cannot be read goes to the only waiting caller, if any,
// so the caller can report the protocol violation.
func (p *pending) deliver(msg []byte) bool {
	key := ""
	if resps, err := protocol.DecodeResponses(msg); err == nil && len(resps) == 1 && !resps[0].ID.IsZero() {
		key = resps[0].ID.String()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.calls[key]
	if !ok && len(p.calls) == 1 {
		for k, only := range p.calls {
			key, ch, ok = k, only, true
		}
	}
	if !ok {
		// With several calls in flight the caller whose reply this was
		// cannot be told apart, so it only sees its deadline expire.
		p.logger.Warn("dropped reply with no waiting call",
			middleware.F("service", p.service),
			middleware.F("id", key),
			middleware.F("waiting", len(p.calls)),
		)
		return false
	}
	delete(p.calls, key)
	ch <- append([]byte(nil), msg...)
	return true
}

// fail wakes every waiting caller with err and rejects later calls.
func (p *pending) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return
	}
	p.err = err
	for k, ch := range p.calls {
		close(ch)
		delete(p.calls, k)
	}
}

func (p *pending) wait(ctx context.Context, ch chan []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			p.mu.Lock()
			defer p.mu.Unlock()
			return nil, p.err
		}
		return msg, nil
	}
}
