package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ShutdownConfig configures graceful shutdown.
type ShutdownConfig struct {
	// Timeout bounds the wait for in-flight requests. Default: 30 seconds.
	Timeout time.Duration

	// DrainDelay is how long new requests are still accepted after shutdown
	// begins, so load balancers can take the server out of rotation.
	DrainDelay time.Duration

	OnShutdownStart    func()
	OnDrainStart       func()
	OnShutdownComplete func(err error)
}

// DefaultShutdownConfig returns a 30 second timeout and no drain delay.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{Timeout: 30 * time.Second}
}

// ShutdownManager counts in-flight requests and rejects new ones once
// draining has started.
type ShutdownManager struct {
	config ShutdownConfig

	draining atomic.Bool
	inFlight atomic.Int64
	idle     chan struct{} // signalled when inFlight drops to zero while draining
	doneCh   chan struct{}
	doneOnce sync.Once
}

// NewShutdownManager creates a new shutdown manager.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &ShutdownManager{
		config: config,
		idle:   make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

// IsDraining reports whether new requests are being rejected.
func (sm *ShutdownManager) IsDraining() bool {
	return sm.draining.Load()
}

// InFlightRequests returns the number of requests being handled.
func (sm *ShutdownManager) InFlightRequests() int64 {
	return sm.inFlight.Load()
}

// TrackRequest registers a new request. It returns false while draining,
// in which case the request must be rejected and CompleteRequest not called.
func (sm *ShutdownManager) TrackRequest() bool {
	sm.inFlight.Add(1)
	if sm.draining.Load() {
		sm.CompleteRequest()
		return false
	}
	return true
}

// CompleteRequest marks a tracked request as finished.
func (sm *ShutdownManager) CompleteRequest() {
	if sm.inFlight.Add(-1) == 0 && sm.draining.Load() {
		select {
		case sm.idle <- struct{}{}:
		default:
		}
	}
}

// Shutdown waits out the drain delay, stops accepting requests and waits
// for in-flight ones to finish. It returns the context error if requests
// were still running when the timeout passed.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	if sm.config.OnShutdownStart != nil {
		sm.config.OnShutdownStart()
	}

	if sm.config.DrainDelay > 0 {
		timer := time.NewTimer(sm.config.DrainDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	sm.draining.Store(true)
	if sm.config.OnDrainStart != nil {
		sm.config.OnDrainStart()
	}

	err := sm.waitIdle(ctx)

	sm.doneOnce.Do(func() { close(sm.doneCh) })
	if sm.config.OnShutdownComplete != nil {
		sm.config.OnShutdownComplete(err)
	}
	return err
}

func (sm *ShutdownManager) waitIdle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.config.Timeout)
	defer cancel()

	for sm.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			if sm.inFlight.Load() > 0 {
				return ctx.Err()
			}
			return nil
		case <-sm.idle:
		}
	}
	return nil
}

// Done is closed once Shutdown has finished.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.doneCh
}

// WithShutdownTimeout sets how long the HTTP transport waits for in-flight
// requests when its context is canceled.
func WithShutdownTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.shutdownTimeout = d
	}
}

// WithShutdownDrainDelay keeps accepting requests for d after shutdown
// begins.
func WithShutdownDrainDelay(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.drainDelay = d
	}
}
