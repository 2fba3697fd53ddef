package overlay

import (
	"context"
	"time"
)

// FitTarget is the part of a host map view that can frame an extent.
type FitTarget interface {
	Fit(req FitRequest) error
}

// ReadySignaler is implemented by hosts that can announce when their map is
// attached and ready. The channel is closed once ready. A nil channel means
// the host has no signal to offer, and the fallback delay applies.
type ReadySignaler interface {
	Ready() <-chan struct{}
}

// DefaultFitDelay is the fallback wait for hosts without a ready signal.
// It is a heuristic, not a guarantee that the host is ready.
const DefaultFitDelay = 100 * time.Millisecond

// ScheduleFit delivers req to host once it is ready. Hosts implementing
// ReadySignaler are waited on; others get the request after fallback.
// A cancelled ctx discards the request. The returned channel yields the
// outcome exactly once and is then closed.
func ScheduleFit(ctx context.Context, host FitTarget, req FitRequest, fallback time.Duration) <-chan error {
	out := make(chan error, 1)
	if fallback <= 0 {
		fallback = DefaultFitDelay
	}

	var ready <-chan struct{}
	if rs, ok := host.(ReadySignaler); ok {
		ready = rs.Ready() // may be nil
	}

	go func() {
		defer close(out)

		var timeout <-chan time.Time
		if ready == nil {
			t := time.NewTimer(fallback)
			defer t.Stop()
			timeout = t.C
		}

		select {
		case <-ctx.Done():
			out <- ctx.Err()
		case <-ready:
			out <- host.Fit(req)
		case <-timeout:
			out <- host.Fit(req)
		}
	}()
	return out
}
