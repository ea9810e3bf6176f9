package lock

import (
	"context"
	"sync"
	"time"

	"github.com/mirkobrombin/go-warplock/v1/metrics"
)

// renewer extends a handle's lease every interval until stopped or until
// ownership can no longer be vouched for.
//
// Transient store errors are tolerated while the lease may still be alive.
// The lease is assumed to end ttl after the last confirmed extend was sent;
// once that instant passes without a new confirmation the handle is marked
// lost, whether or not the key actually expired.
type renewer struct {
	h        *Handle
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu                  sync.Mutex
	lastRenewalAt       time.Time
	consecutiveFailures int
	renewals            int
}

func startRenewer(h *Handle, interval time.Duration) *renewer {
	r := &renewer{
		h:             h,
		interval:      interval,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		lastRenewalAt: h.acquiredAt,
	}
	go r.run()
	return r
}

// stop signals the loop and blocks until it has exited, including any
// extend call that was in flight.
func (r *renewer) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

func (r *renewer) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Renewals:            r.renewals,
		ConsecutiveFailures: r.consecutiveFailures,
		LastRenewalAt:       r.lastRenewalAt,
	}
}

// confirm records an extend sent at sentAt that the store acknowledged.
// Refresh and the loop both report here; the later send wins.
func (r *renewer) confirm(sentAt time.Time, counted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sentAt.After(r.lastRenewalAt) {
		r.lastRenewalAt = sentAt
	}
	r.consecutiveFailures = 0
	if counted {
		r.renewals++
	}
}

func (r *renewer) leaseEnd() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRenewalAt.Add(r.h.ttl)
}

func (r *renewer) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	expiry := time.NewTimer(time.Until(r.leaseEnd()))
	defer expiry.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-expiry.C:
			if d := time.Until(r.leaseEnd()); d > 0 {
				expiry.Reset(d)
				continue
			}
			r.h.markLost("lease may have expired without a confirmed renewal")
			return
		case <-ticker.C:
			select {
			case <-r.stopCh:
				return
			default:
			}
			if !r.renewOnce() {
				return
			}
			expiry.Reset(time.Until(r.leaseEnd()))
		}
	}
}

// renewOnce runs one extend and reports whether the loop should go on.
func (r *renewer) renewOnce() bool {
	h := r.h
	end := r.leaseEnd()
	if !time.Now().Before(end) {
		h.markLost("lease may have expired without a confirmed renewal")
		return false
	}

	ctx, cancel := context.WithDeadline(context.Background(), end)
	defer cancel()
	ctx, span := h.m.startSpan(ctx, "Handle.Renew", h.key)

	sentAt := time.Now()
	ok, err := h.m.store.CompareAndExtend(ctx, h.key, h.token.String(), h.ttl)
	endSpan(span, err)

	switch {
	case err != nil:
		r.mu.Lock()
		r.consecutiveFailures++
		failures := r.consecutiveFailures
		r.mu.Unlock()
		h.m.metrics.ObserveRenewal(metrics.ResultError)
		h.m.logger.Warn("warplock: lease renewal failed", "key", h.key, "consecutive_failures", failures, "lease_left", time.Until(end), "error", err)
		if !time.Now().Before(end) {
			h.markLost("lease may have expired without a confirmed renewal")
			return false
		}
		return true
	case !ok:
		h.m.metrics.ObserveRenewal(metrics.ResultMismatch)
		h.markLost("key gone or owned by another holder")
		return false
	default:
		r.confirm(sentAt, true)
		h.m.metrics.ObserveRenewal(metrics.ResultExtended)
		h.m.logger.Debug("warplock: lease renewed", "key", h.key)
		return true
	}
}
