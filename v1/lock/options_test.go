package lock

import (
	"errors"
	"testing"
	"time"
)

func TestLockOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		expected Options
	}{
		{
			name: "default options",
			opts: []Option{},
			expected: Options{
				TTL:            10 * time.Second,
				AcquireTimeout: 5 * time.Second,
				RetryInterval:  100 * time.Millisecond,
				RetryJitter:    0.1,
				AutoRenew:      true,
			},
		},
		{
			name: "single attempt without renewal",
			opts: []Option{
				WithAcquireTimeout(0),
				WithAutoRenew(false),
			},
			expected: Options{
				TTL:           10 * time.Second,
				RetryInterval: 100 * time.Millisecond,
				RetryJitter:   0.1,
			},
		},
		{
			name: "multiple options",
			opts: []Option{
				WithTTL(2 * time.Second),
				WithAcquireTimeout(500 * time.Millisecond),
				WithRetryInterval(20 * time.Millisecond),
				WithRetryJitter(0),
				WithRenewInterval(500 * time.Millisecond),
			},
			expected: Options{
				TTL:            2 * time.Second,
				AcquireTimeout: 500 * time.Millisecond,
				RetryInterval:  20 * time.Millisecond,
				AutoRenew:      true,
				RenewInterval:  500 * time.Millisecond,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := DefaultOptions()
			for _, opt := range tt.opts {
				opt(&options)
			}
			if options.TTL != tt.expected.TTL {
				t.Errorf("TTL = %v, want %v", options.TTL, tt.expected.TTL)
			}
			if options.AcquireTimeout != tt.expected.AcquireTimeout {
				t.Errorf("AcquireTimeout = %v, want %v", options.AcquireTimeout, tt.expected.AcquireTimeout)
			}
			if options.RetryInterval != tt.expected.RetryInterval {
				t.Errorf("RetryInterval = %v, want %v", options.RetryInterval, tt.expected.RetryInterval)
			}
			if options.RetryJitter != tt.expected.RetryJitter {
				t.Errorf("RetryJitter = %v, want %v", options.RetryJitter, tt.expected.RetryJitter)
			}
			if options.AutoRenew != tt.expected.AutoRenew {
				t.Errorf("AutoRenew = %v, want %v", options.AutoRenew, tt.expected.AutoRenew)
			}
			if options.RenewInterval != tt.expected.RenewInterval {
				t.Errorf("RenewInterval = %v, want %v", options.RenewInterval, tt.expected.RenewInterval)
			}
			if err := options.validate(); err != nil {
				t.Errorf("validate: %v", err)
			}
		})
	}
}

func TestLockOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"zero ttl", []Option{WithTTL(0)}, ErrInvalidTTL},
		{"negative ttl", []Option{WithTTL(-time.Second)}, ErrInvalidTTL},
		{"renew equals ttl", []Option{WithTTL(time.Second), WithRenewInterval(time.Second)}, ErrInvalidRenewInterval},
		{"renew longer than ttl", []Option{WithTTL(time.Second), WithRenewInterval(2 * time.Second)}, ErrInvalidRenewInterval},
		{"ttl too small to halve", []Option{WithTTL(1)}, ErrInvalidRenewInterval},
		{"zero retry interval", []Option{WithRetryInterval(0)}, ErrInvalidRetryInterval},
		{"jitter above one", []Option{WithRetryJitter(1.5)}, ErrInvalidRetryJitter},
		{"negative jitter", []Option{WithRetryJitter(-0.1)}, ErrInvalidRetryJitter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			for _, opt := range tt.opts {
				opt(&o)
			}
			if err := o.validate(); !errors.Is(err, tt.want) {
				t.Fatalf("validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLockOptionsRenewIntervalDefaultsToHalfTTL(t *testing.T) {
	o := DefaultOptions()
	WithTTL(3 * time.Second)(&o)
	if got := o.renewInterval(); got != 1500*time.Millisecond {
		t.Fatalf("renewInterval = %v, want 1.5s", got)
	}
	// without renewal the interval is irrelevant
	WithAutoRenew(false)(&o)
	WithRenewInterval(time.Hour)(&o)
	if err := o.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestJitterStaysInRange(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 1000; i++ {
		got := jitter(d, 0.2)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if got := jitter(d, 0); got != d {
		t.Fatalf("jitter without fraction = %v, want %v", got, d)
	}
}
