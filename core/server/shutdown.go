package server

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// drainPollInterval is how often the drain loop re-checks the in-flight
// counter.
const drainPollInterval = 100 * time.Millisecond

// Coordinator broadcasts the shutdown signal and tracks in-flight requests
// for graceful drain. Shutdown is idempotent and monotonic: the first
// caller wins, later calls (from any signal source) are no-ops, and the
// shutting-down state is never un-set.
type Coordinator struct {
	done         chan struct{}
	initiated    atomic.Bool
	active       atomic.Int64
	drainTimeout time.Duration
	logger       *zap.Logger
}

// NewCoordinator creates a coordinator with the given drain budget.
func NewCoordinator(drainTimeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		done:         make(chan struct{}),
		drainTimeout: drainTimeout,
		logger:       logger.With(zap.String("component", "shutdown")),
	}
}

// Done returns the broadcast channel, closed once shutdown is initiated.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Shutdown initiates the Active -> ShuttingDown transition exactly once.
func (c *Coordinator) Shutdown() {
	if c.initiated.CompareAndSwap(false, true) {
		close(c.done)
	}
}

// IsShuttingDown reports whether shutdown has been initiated.
func (c *Coordinator) IsShuttingDown() bool { return c.initiated.Load() }

// RequestStarted pairs with RequestFinished around each dispatched request.
func (c *Coordinator) RequestStarted() { c.active.Add(1) }

// RequestFinished marks one in-flight request complete.
func (c *Coordinator) RequestFinished() { c.active.Add(-1) }

// ActiveRequests returns the in-flight request count.
func (c *Coordinator) ActiveRequests() int64 { return c.active.Load() }

// Drain waits for in-flight requests to finish, polling every 100ms. When
// the drain budget elapses first, it logs a warning and returns anyway:
// shutdown completes regardless, trading completeness for availability.
func (c *Coordinator) Drain(ctx context.Context) {
	start := time.Now()
	for c.ActiveRequests() > 0 {
		if time.Since(start) > c.drainTimeout {
			c.logger.Warn("drain timeout elapsed with requests still active",
				zap.Int64("active_requests", c.ActiveRequests()),
				zap.Duration("drain_timeout", c.drainTimeout),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(drainPollInterval):
		}
	}
}
