package syncbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("warplock: bus circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreakerBus decorates a Bus so a failing broker is skipped instead
// of costing every release and every contended acquire a network timeout.
// Unsubscribe always goes through.
type CircuitBreakerBus struct {
	bus       Bus
	mu        sync.Mutex
	state     state
	failures  int
	threshold int
	cooldown  time.Duration
	lastFail  time.Time
	probing   bool
}

// NewCircuitBreaker returns a CircuitBreakerBus that opens after threshold
// consecutive failures and stays open for cooldown.
func NewCircuitBreaker(bus Bus, threshold int, cooldown time.Duration) *CircuitBreakerBus {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreakerBus{
		bus:       bus,
		threshold: threshold,
		cooldown:  cooldown,
		state:     stateClosed,
	}
}

// IsHealthy reports whether calls are currently let through.
func (cb *CircuitBreakerBus) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateOpen {
		return time.Since(cb.lastFail) > cb.cooldown
	}
	return cb.state == stateClosed
}

// allow moves an open breaker to half-open once the cooldown passed and
// admits a single probe while half-open.
func (cb *CircuitBreakerBus) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastFail) > cb.cooldown {
			cb.state = stateHalfOpen
			cb.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

func (cb *CircuitBreakerBus) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
	cb.probing = false
}

func (cb *CircuitBreakerBus) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFail = time.Now()
	cb.failures++
	cb.probing = false
	if cb.state == stateHalfOpen || cb.failures >= cb.threshold {
		cb.state = stateOpen
	}
}

func (cb *CircuitBreakerBus) record(err error) {
	// A caller giving up is not a broker failure.
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

// Publish implements Bus.Publish.
func (cb *CircuitBreakerBus) Publish(ctx context.Context, topic string) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := cb.bus.Publish(ctx, topic)
	cb.record(err)
	return err
}

// Subscribe implements Bus.Subscribe.
func (cb *CircuitBreakerBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	if !cb.allow() {
		return nil, ErrCircuitOpen
	}
	ch, err := cb.bus.Subscribe(ctx, topic)
	cb.record(err)
	return ch, err
}

// Unsubscribe implements Bus.Unsubscribe.
func (cb *CircuitBreakerBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	return cb.bus.Unsubscribe(ctx, topic, ch)
}
