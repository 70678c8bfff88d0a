package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Pinger renews a project's lease. *backend.Client satisfies it.
type Pinger interface {
	Heartbeat(ctx context.Context, projectID string) error
}

// Heartbeat renews a project's lease on a fixed interval until stopped.
// Failures are logged and counted; they never stop the loop.
type Heartbeat struct {
	pinger    Pinger
	projectID string
	interval  time.Duration
	logger    Logger

	beats    atomic.Int64
	failures atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartHeartbeat pings once immediately and then every interval.
func StartHeartbeat(ctx context.Context, pinger Pinger, projectID string, interval time.Duration, logger Logger) *Heartbeat {
	if logger == nil {
		logger = nopLogger{}
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{
		pinger:    pinger,
		projectID: projectID,
		interval:  interval,
		logger:    logger,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

// Stop ends renewals and waits for the loop to exit. It is idempotent.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

// Beats counts successful renewals.
func (h *Heartbeat) Beats() int64 {
	return h.beats.Load()
}

// Failures counts failed renewals.
func (h *Heartbeat) Failures() int64 {
	return h.failures.Load()
}

func (h *Heartbeat) run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.ping(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ping(ctx)
		}
	}
}

func (h *Heartbeat) ping(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	if err := h.pinger.Heartbeat(pingCtx, h.projectID); err != nil {
		if ctx.Err() != nil {
			return
		}
		h.failures.Add(1)
		h.logger.Printf("session: heartbeat for %s failed: %v", h.projectID, err)
		return
	}
	h.beats.Add(1)
}
