package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-warplock/v1/metrics"
)

// State is the lifecycle state of a Handle. StateReleased and StateLost are
// terminal.
type State int32

const (
	StateHeld State = iota
	StateReleased
	StateLost
)

func (s State) String() string {
	switch s {
	case StateHeld:
		return "held"
	case StateReleased:
		return "released"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of a handle's renewal activity.
type Stats struct {
	Renewals            int
	ConsecutiveFailures int
	LastRenewalAt       time.Time
}

// Handle is one successful acquisition. It is owned by the caller that
// acquired it and must be released exactly once on every exit path;
// further Release calls are no-ops.
type Handle struct {
	m          *Manager
	key        string
	token      Token
	ttl        time.Duration
	acquiredAt time.Time
	onLost     func(*Handle)

	state  atomic.Int32
	lost   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	renew  *renewer

	// mu serialises Release and Refresh. The renewer never takes it.
	mu       sync.Mutex
	released bool
}

func newHandle(m *Manager, key string, token Token, o Options, acquiredAt time.Time) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		m:          m,
		key:        key,
		token:      token,
		ttl:        o.TTL,
		acquiredAt: acquiredAt,
		onLost:     o.OnLost,
		lost:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	if o.AutoRenew {
		h.renew = startRenewer(h, o.renewInterval())
	}
	return h
}

// Key returns the store key of the lock.
func (h *Handle) Key() string { return h.key }

// Token returns the ownership token written under the key.
func (h *Handle) Token() Token { return h.token }

// TTL returns the lease duration.
func (h *Handle) TTL() time.Duration { return h.ttl }

// AcquiredAt returns the time the winning write was sent.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// State returns the current state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Held is shorthand for State() == StateHeld.
func (h *Handle) Held() bool { return h.State() == StateHeld }

// Renewing reports whether the background renewal is running.
func (h *Handle) Renewing() bool {
	if h.renew == nil {
		return false
	}
	select {
	case <-h.renew.done:
		return false
	default:
		return true
	}
}

// Lost returns a channel closed when the handle detects it lost the lock.
func (h *Handle) Lost() <-chan struct{} { return h.lost }

// Context returns a context cancelled when the lock is lost or released.
func (h *Handle) Context() context.Context { return h.ctx }

// Stats returns the renewal counters. Without auto-renew only
// LastRenewalAt is set, to the acquisition time.
func (h *Handle) Stats() Stats {
	if h.renew == nil {
		return Stats{LastRenewalAt: h.acquiredAt}
	}
	return h.renew.snapshot()
}

// Release gives the lock up. It stops the renewal and waits for an
// in-flight renewal to finish, then deletes the key only if it still holds
// this handle's token. A key already expired or taken over is left alone
// and is not an error.
//
// The handle is marked released even when the store call fails; the error
// is returned, matching ErrStoreUnavailable, and the key expires on its own.
// A lost handle stays lost. Release is idempotent: only the first call
// reaches the store.
func (h *Handle) Release(ctx context.Context) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	ctx, span := h.m.startSpan(ctx, "Handle.Release", h.key)
	defer func() { endSpan(span, err) }()

	if h.renew != nil {
		h.renew.stop()
	}

	deleted, err := h.m.store.CompareAndDelete(ctx, h.key, h.token.String())
	wasHeld := h.state.CompareAndSwap(int32(StateHeld), int32(StateReleased))
	h.cancel()

	switch {
	case err != nil:
		h.m.metrics.ObserveRelease(metrics.ResultError, wasHeld)
		h.m.logger.Error("warplock: release failed, lock will expire", "key", h.key, "ttl", h.ttl, "error", err)
		return unavailable("release", h.key, err)
	case deleted:
		h.m.metrics.ObserveRelease(metrics.ResultReleased, wasHeld)
		h.m.logger.Debug("warplock: lock released", "key", h.key, "held_for", time.Since(h.acquiredAt))
		h.m.publishUnlock(ctx, h.key)
	default:
		h.m.metrics.ObserveRelease(metrics.ResultMismatch, wasHeld)
		h.m.logger.Warn("warplock: lock already expired or owned by another holder", "key", h.key)
	}
	return nil
}

// Refresh extends the lease once, independently of the background renewal.
// A successful Refresh counts as a confirmed renewal, so the renewal's own
// lease deadline moves with it. It returns ErrNotHeld, and marks the handle
// lost, if the key no longer carries this handle's token.
func (h *Handle) Refresh(ctx context.Context) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.State() != StateHeld {
		return ErrNotHeld
	}

	ctx, span := h.m.startSpan(ctx, "Handle.Refresh", h.key)
	defer func() { endSpan(span, err) }()

	sentAt := time.Now()
	ok, err := h.m.store.CompareAndExtend(ctx, h.key, h.token.String(), h.ttl)
	if err != nil {
		return unavailable("refresh", h.key, err)
	}
	if !ok {
		h.markLost("refresh found the key gone or owned by another holder")
		return ErrNotHeld
	}
	if h.renew != nil {
		h.renew.confirm(sentAt, false)
	}
	return nil
}

// markLost moves a held handle to StateLost. It runs at most once.
func (h *Handle) markLost(reason string) {
	if !h.state.CompareAndSwap(int32(StateHeld), int32(StateLost)) {
		return
	}
	close(h.lost)
	h.cancel()
	h.m.metrics.ObserveLost()
	h.m.logger.Warn("warplock: lock lost", "key", h.key, "reason", reason)
	if h.onLost != nil {
		go h.onLost(h)
	}
}
