package syncbus

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-warplock/v1/errors"
)

const (
	redisBusTimeout       = 5 * time.Second
	defaultChannelPrefix  = "warplock:"
	redisNotificationBody = "1"
)

// RedisBus implements Bus on Redis pub/sub. One PubSub connection is opened
// per subscribed topic and shared by all local subscribers of that topic.
type RedisBus struct {
	fanout
	client redis.UniversalClient
	prefix string

	pmu     sync.Mutex
	pubsubs map[string]*redis.PubSub
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

// WithChannelPrefix sets the prefix prepended to every Redis channel.
func WithChannelPrefix(prefix string) RedisBusOption {
	return func(b *RedisBus) {
		b.prefix = prefix
	}
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client redis.UniversalClient, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{
		fanout:  newFanout(),
		client:  client,
		prefix:  defaultChannelPrefix,
		pubsubs: make(map[string]*redis.PubSub),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, topic string) error {
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, b.prefix+topic, redisNotificationBody).Err(); err != nil {
		return mapRedisErr(err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. It returns once Redis confirmed the
// subscription, so a Publish issued afterwards is observed.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)

	b.pmu.Lock()
	if _, ok := b.pubsubs[topic]; !ok {
		ps := b.client.Subscribe(context.Background(), b.prefix+topic)
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		_, err := ps.Receive(cctx)
		cancel()
		if err != nil {
			_ = ps.Close()
			b.pmu.Unlock()
			return nil, mapRedisErr(err)
		}
		b.pubsubs[topic] = ps
		go b.dispatch(topic, ps)
	}
	b.add(topic, ch)
	b.pmu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe. The topic's PubSub connection is
// closed with its last subscriber.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	found, empty := b.remove(topic, ch)
	if !found || !empty {
		return nil
	}
	ps, ok := b.pubsubs[topic]
	if !ok {
		return nil
	}
	delete(b.pubsubs, topic)
	return ps.Close()
}

func (b *RedisBus) dispatch(topic string, ps *redis.PubSub) {
	for range ps.Channel() {
		b.deliver(topic)
	}
}

// Close releases every PubSub connection and closes all subscriber channels.
func (b *RedisBus) Close() error {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	var firstErr error
	for topic, ps := range b.pubsubs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.pubsubs, topic)
	}
	b.mu.Lock()
	for topic, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	return firstErr
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return b.metrics()
}

func mapRedisErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return warperrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return warperrors.ErrConnectionClosed
	}
	return err
}
