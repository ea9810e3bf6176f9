package syncbus

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"

	warperrors "github.com/mirkobrombin/go-warplock/v1/errors"
)

const (
	defaultSubjectPrefix = "warplock."
	natsFlushTimeout     = 2 * time.Second
)

// NATSBus implements Bus using a NATS connection. A topic maps to a single
// subject token after the prefix: bytes NATS treats specially ('.', '*',
// '>', whitespace) and '%' itself are percent-escaped, so lock names never
// act as wildcards or split into extra tokens.
type NATSBus struct {
	fanout
	conn   *nats.Conn
	prefix string

	nmu  sync.Mutex
	nsub map[string]*nats.Subscription
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		fanout: newFanout(),
		conn:   conn,
		prefix: defaultSubjectPrefix,
		nsub:   make(map[string]*nats.Subscription),
	}
}

func (b *NATSBus) subject(topic string) string {
	return b.prefix + escapeSubjectToken(topic)
}

func escapeSubjectToken(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.', c == '*', c == '>', c == '%', c <= ' ', c == 0x7f:
			sb.WriteByte('%')
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0x0f])
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject(topic), []byte("1")); err != nil {
		return mapNATSErr(err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription is flushed to the
// server before returning, within ctx and at most natsFlushTimeout.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)

	b.nmu.Lock()
	if _, ok := b.nsub[topic]; !ok {
		sub, err := b.conn.Subscribe(b.subject(topic), func(_ *nats.Msg) {
			b.deliver(topic)
		})
		if err != nil {
			b.nmu.Unlock()
			return nil, mapNATSErr(err)
		}
		fctx, cancel := context.WithTimeout(ctx, natsFlushTimeout)
		err = b.conn.FlushWithContext(fctx)
		cancel()
		if err != nil {
			_ = sub.Unsubscribe()
			b.nmu.Unlock()
			return nil, mapNATSErr(err)
		}
		b.nsub[topic] = sub
	}
	b.add(topic, ch)
	b.nmu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, topic string, ch chan struct{}) error {
	b.nmu.Lock()
	defer b.nmu.Unlock()
	found, empty := b.remove(topic, ch)
	if !found || !empty {
		return nil
	}
	sub, ok := b.nsub[topic]
	if !ok {
		return nil
	}
	delete(b.nsub, topic)
	return sub.Unsubscribe()
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return b.metrics()
}

func mapNATSErr(err error) error {
	switch {
	case stdErrors.Is(err, nats.ErrConnectionClosed):
		return fmt.Errorf("%w: %w", warperrors.ErrConnectionClosed, err)
	case stdErrors.Is(err, nats.ErrTimeout):
		return fmt.Errorf("%w: %w", warperrors.ErrTimeout, err)
	}
	return err
}
