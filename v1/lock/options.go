package lock

import (
	"math/rand"
	"time"
)

const (
	DefaultTTL            = 10 * time.Second
	DefaultAcquireTimeout = 5 * time.Second
	DefaultRetryInterval  = 100 * time.Millisecond
	DefaultRetryJitter    = 0.1
)

// Options controls a single acquisition.
type Options struct {
	// TTL is the lease duration written with the key.
	TTL time.Duration

	// AcquireTimeout bounds how long Acquire keeps retrying while the key
	// is held elsewhere. Zero means a single attempt.
	AcquireTimeout time.Duration

	// RetryInterval is the pause between attempts.
	RetryInterval time.Duration

	// RetryJitter spreads each pause over
	// [RetryInterval*(1-j), RetryInterval*(1+j)].
	RetryJitter float64

	// AutoRenew keeps extending the lease until the handle is released.
	AutoRenew bool

	// RenewInterval is the period between renewals. Zero means TTL/2.
	RenewInterval time.Duration

	// OnLost is called once, on its own goroutine, when the handle detects
	// it no longer owns the key.
	OnLost func(*Handle)
}

// Option is a function type for setting lock options.
type Option func(*Options)

// DefaultOptions returns the options used when nothing is overridden.
func DefaultOptions() Options {
	return Options{
		TTL:            DefaultTTL,
		AcquireTimeout: DefaultAcquireTimeout,
		RetryInterval:  DefaultRetryInterval,
		RetryJitter:    DefaultRetryJitter,
		AutoRenew:      true,
	}
}

// WithTTL sets the lease duration.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = ttl
	}
}

// WithAcquireTimeout sets how long Acquire may wait. Zero disables waiting.
func WithAcquireTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.AcquireTimeout = timeout
	}
}

// WithRetryInterval sets the pause between acquire attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.RetryInterval = interval
	}
}

// WithRetryJitter sets the jitter fraction applied to the retry interval.
func WithRetryJitter(frac float64) Option {
	return func(o *Options) {
		o.RetryJitter = frac
	}
}

// WithAutoRenew enables or disables background lease renewal.
func WithAutoRenew(enable bool) Option {
	return func(o *Options) {
		o.AutoRenew = enable
	}
}

// WithRenewInterval sets the renewal period. It must be shorter than the TTL.
func WithRenewInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.RenewInterval = interval
	}
}

// WithOnLost registers a callback fired when ownership is lost.
func WithOnLost(fn func(*Handle)) Option {
	return func(o *Options) {
		o.OnLost = fn
	}
}

func (o Options) renewInterval() time.Duration {
	if o.RenewInterval > 0 {
		return o.RenewInterval
	}
	return o.TTL / 2
}

func (o Options) validate() error {
	if o.TTL <= 0 {
		return ErrInvalidTTL
	}
	if o.AcquireTimeout > 0 && o.RetryInterval <= 0 {
		return ErrInvalidRetryInterval
	}
	if o.RetryJitter < 0 || o.RetryJitter > 1 {
		return ErrInvalidRetryJitter
	}
	if o.AutoRenew {
		if ri := o.renewInterval(); ri <= 0 || ri >= o.TTL {
			return ErrInvalidRenewInterval
		}
	}
	return nil
}

// jitter returns d scaled by a random factor in [1-frac, 1+frac].
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	j := (rand.Float64()*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}
