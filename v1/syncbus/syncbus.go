// Package syncbus propagates lock events between processes. Lock managers
// publish "unlock:<key>" after a successful release so waiters can retry at
// once instead of sleeping out their retry interval. Delivery is best
// effort: a lost event only delays a waiter until its next poll.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a minimal topic based pub/sub.
type Bus interface {
	// Publish notifies every current subscriber of topic.
	Publish(ctx context.Context, topic string) error
	// Subscribe returns a channel receiving one value per coalesced
	// notification. The subscription ends, and the channel is closed, when
	// ctx is done or Unsubscribe is called.
	Subscribe(ctx context.Context, topic string) (chan struct{}, error)
	// Unsubscribe removes ch from topic and closes it.
	Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error
}

// Metrics reports bus activity counters.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// fanout holds the local subscribers of each topic. Every Bus
// implementation in this package embeds one.
type fanout struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

func newFanout() fanout {
	return fanout{subs: make(map[string][]chan struct{})}
}

// add registers ch and reports whether it is the first subscriber of topic.
func (f *fanout) add(topic string, ch chan struct{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	first := len(f.subs[topic]) == 0
	f.subs[topic] = append(f.subs[topic], ch)
	return first
}

// remove drops and closes ch. It reports whether ch was found and whether
// topic has no subscribers left.
func (f *fanout) remove(topic string, ch chan struct{}) (found, empty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			found = true
			break
		}
	}
	if len(subs) == 0 {
		delete(f.subs, topic)
		return found, true
	}
	f.subs[topic] = subs
	return found, false
}

// deliver sends a non-blocking notification to every subscriber of topic.
func (f *fanout) deliver(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[topic] {
		select {
		case ch <- struct{}{}:
			f.delivered.Add(1)
		default:
		}
	}
}

func (f *fanout) metrics() Metrics {
	return Metrics{
		Published: f.published.Load(),
		Delivered: f.delivered.Load(),
	}
}

// InMemoryBus is a process local Bus, mainly for tests and single process
// deployments.
type InMemoryBus struct {
	fanout
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{fanout: newFanout()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.published.Add(1)
	b.deliver(topic)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.add(topic, ch)
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.remove(topic, ch)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return b.metrics()
}
