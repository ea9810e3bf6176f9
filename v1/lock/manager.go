package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mirkobrombin/go-warplock/v1/metrics"
	"github.com/mirkobrombin/go-warplock/v1/syncbus"
)

// DefaultNamespace is prepended to lock names to build the store key.
const DefaultNamespace = "lock:"

const (
	// reconcileTimeout bounds the cleanup of a write whose outcome is unknown.
	reconcileTimeout = time.Second
	// singleAttemptTimeout bounds the store call of an acquire without
	// waiting time.
	singleAttemptTimeout = 500 * time.Millisecond
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-warplock/v1/lock")

// Manager acquires locks against a Store. It is safe for concurrent use and
// keeps no per-lock state: every Handle it returns is independent, and two
// handles for the same key in one process contend through the store exactly
// like two processes would.
type Manager struct {
	store     Store
	bus       syncbus.Bus
	namespace string
	defaults  Options
	logger    *slog.Logger
	metrics   *metrics.Lock
	tracing   bool
	newToken  func() Token
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBus publishes unlock events on bus and lets waiters wake on them.
func WithBus(bus syncbus.Bus) ManagerOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) ManagerOption {
	return func(m *Manager) {
		m.namespace = ns
	}
}

// WithDefaults applies opts on top of DefaultOptions for every acquisition.
func WithDefaults(opts ...Option) ManagerOption {
	return func(m *Manager) {
		for _, opt := range opts {
			opt(&m.defaults)
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection using the provided
// registerer. Managers given the same registerer share one set of series.
func WithMetrics(reg prometheus.Registerer) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics.NewLock(reg)
	}
}

// WithTracing enables OpenTelemetry spans for acquire, renew and release.
func WithTracing() ManagerOption {
	return func(m *Manager) {
		m.tracing = true
	}
}

// NewManager returns a Manager acquiring locks in store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		namespace: DefaultNamespace,
		defaults:  DefaultOptions(),
		logger:    slog.Default(),
		newToken:  newToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Key returns the store key used for name.
func (m *Manager) Key(name string) string {
	return m.namespace + name
}

func (m *Manager) options(opts []Option) Options {
	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Acquire obtains the lock called name. It retries while the lock is held
// elsewhere until the acquire timeout passes, then fails with
// ErrLockTimeout. Waiters are not queued; the first write after the key
// frees up wins.
//
// The acquire timeout is a hard deadline: every store call and the unlock
// subscription are bounded by it. Store failures are retried within the
// same deadline and reported as ErrStoreUnavailable if the deadline passes
// on a failed attempt.
//
// The returned Handle must be released on every exit path, typically with
// defer. WithLock does this for the caller.
func (m *Manager) Acquire(ctx context.Context, name string, opts ...Option) (*Handle, error) {
	return m.acquire(ctx, name, m.options(opts))
}

// TryAcquire makes a single attempt, bounded to half a second unless ctx
// is shorter. It returns (nil, false, nil) when the lock is held elsewhere.
func (m *Manager) TryAcquire(ctx context.Context, name string, opts ...Option) (*Handle, bool, error) {
	o := m.options(opts)
	o.AcquireTimeout = 0
	h, err := m.acquire(ctx, name, o)
	if errors.Is(err, ErrLockTimeout) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func (m *Manager) acquire(ctx context.Context, name string, o Options) (h *Handle, err error) {
	if name == "" {
		return nil, ErrInvalidKey
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	key := m.Key(name)
	token := m.newToken()

	ctx, span := m.startSpan(ctx, "Manager.Acquire", key)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	deadline := start.Add(o.AcquireTimeout)
	// A single attempt still gets a bounded store call.
	callDeadline := deadline
	if o.AcquireTimeout <= 0 {
		callDeadline = start.Add(singleAttemptTimeout)
	}

	fail := func(serr error) error {
		if serr != nil {
			m.metrics.ObserveAcquire(metrics.ResultError, time.Since(start))
			return unavailable("acquire", key, serr)
		}
		m.metrics.ObserveAcquire(metrics.ResultTimeout, time.Since(start))
		return fmt.Errorf("%w: %s after %s", ErrLockTimeout, key, time.Since(start).Round(time.Millisecond))
	}

	var wake chan struct{}
	defer func() {
		if wake != nil {
			_ = m.bus.Unsubscribe(context.Background(), unlockTopic(key), wake)
		}
	}()
	// The subscription never needs to outlive the acquire deadline.
	subCtx, cancelSub := context.WithDeadline(ctx, deadline)
	defer cancelSub()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if attempt > 1 && !time.Now().Before(deadline) {
			return nil, fail(lastErr)
		}

		attemptAt := time.Now()
		actx, cancelAttempt := context.WithDeadline(ctx, callDeadline)
		ok, serr := m.store.SetIfAbsent(actx, key, token.String(), o.TTL)
		cancelAttempt()
		if serr == nil && ok {
			h = newHandle(m, key, token, o, attemptAt)
			m.metrics.ObserveAcquire(metrics.ResultAcquired, time.Since(start))
			span.SetAttributes(attribute.Int("warplock.attempts", attempt))
			m.logger.Debug("warplock: lock acquired", "key", key, "attempts", attempt, "auto_renew", o.AutoRenew)
			return h, nil
		}
		lastErr = serr

		remaining := time.Until(deadline)
		if serr != nil {
			// The write may have landed even though the call failed.
			if cerr := ctx.Err(); cerr != nil {
				go m.reconcile(ctx, key, token, reconcileTimeout)
				m.metrics.ObserveAcquire(metrics.ResultError, time.Since(start))
				return nil, cerr
			}
			m.logger.Warn("warplock: acquire attempt failed", "key", key, "attempt", attempt, "error", serr)
			if remaining <= 0 {
				go m.reconcile(ctx, key, token, reconcileTimeout)
				return nil, fail(serr)
			}
			if !m.reconcile(ctx, key, token, min(reconcileTimeout, remaining)) {
				// Finish the cleanup in the background under the old token
				// and retry with a new one, so the cleanup can never remove
				// a later successful write.
				go m.reconcile(ctx, key, token, reconcileTimeout)
				token = m.newToken()
			}
			remaining = time.Until(deadline)
		}
		if remaining <= 0 {
			return nil, fail(serr)
		}

		if wake == nil && serr == nil && m.bus != nil {
			ch, err := m.bus.Subscribe(subCtx, unlockTopic(key))
			if err != nil {
				m.logger.Debug("warplock: unlock subscription failed, polling only", "key", key, "error", err)
			} else {
				wake = ch
			}
			if remaining = time.Until(deadline); remaining <= 0 {
				return nil, fail(nil)
			}
		}

		sleep := jitter(o.RetryInterval, o.RetryJitter)
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.metrics.ObserveAcquire(metrics.ResultError, time.Since(start))
			return nil, ctx.Err()
		case <-timer.C:
		case _, open := <-wake:
			timer.Stop()
			if !open {
				wake = nil
			}
		}
	}
}

// reconcile deletes key if it carries token. It runs after a failed write
// whose outcome is unknown so no unreachable lock is left behind. It
// reports whether the store answered.
func (m *Manager) reconcile(ctx context.Context, key string, token Token, timeout time.Duration) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	deleted, err := m.store.CompareAndDelete(rctx, key, token.String())
	if err != nil {
		m.logger.Debug("warplock: reconcile failed, key will expire on its own", "key", key, "error", err)
		return false
	}
	if deleted {
		m.logger.Info("warplock: removed orphaned lock write", "key", key)
	}
	return true
}

// WithLock acquires name, runs fn and releases the lock on every exit path,
// panics included. The context passed to fn is cancelled if the lock is
// lost. If fn succeeds but the lock was lost meanwhile, WithLock returns
// ErrLockLost.
func (m *Manager) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error, opts ...Option) (err error) {
	h, err := m.Acquire(ctx, name, opts...)
	if err != nil {
		return err
	}
	defer func() {
		rerr := h.Release(context.WithoutCancel(ctx))
		if err == nil {
			err = rerr
		}
	}()

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.Context(), cancel)
	defer stop()

	if err = fn(fctx); err != nil {
		return err
	}
	if h.State() == StateLost {
		return ErrLockLost
	}
	return nil
}

// TTL reports the remaining lease of name as seen by the store. The boolean
// is false when nobody holds the lock.
func (m *Manager) TTL(ctx context.Context, name string) (time.Duration, bool, error) {
	if name == "" {
		return 0, false, ErrInvalidKey
	}
	key := m.Key(name)
	d, ok, err := m.store.TTL(ctx, key)
	if err != nil {
		return 0, false, unavailable("ttl", key, err)
	}
	return d, ok, nil
}

// Locked reports whether anyone holds name. The answer may be stale as soon
// as it is returned.
func (m *Manager) Locked(ctx context.Context, name string) (bool, error) {
	_, ok, err := m.TTL(ctx, name)
	return ok, err
}

func (m *Manager) publishUnlock(ctx context.Context, key string) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, unlockTopic(key)); err != nil {
		m.logger.Debug("warplock: unlock publish failed", "key", key, "error", err)
	}
}

func unlockTopic(key string) string {
	return "unlock:" + key
}

func (m *Manager) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	if !m.tracing {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("warplock.key", key)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
