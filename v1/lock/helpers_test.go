package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-warplock/v1/syncbus"
)

var errInjected = errors.New("injected store failure")

// faultyStore wraps a Store and lets tests inject failures and delays.
type faultyStore struct {
	Store

	mu          sync.Mutex
	setErr      error
	setApplies  bool // perform the write before returning setErr
	extendErr   error
	extendDelay time.Duration
	// renewalsOnly limits extendErr to calls carrying a deadline, which is
	// how the background renewal calls the store.
	renewalsOnly bool
	deleteErr    error

	sets    atomic.Int32
	extends atomic.Int32
	deletes atomic.Int32
}

func (f *faultyStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.sets.Add(1)
	f.mu.Lock()
	err, applies := f.setErr, f.setApplies
	f.mu.Unlock()
	if err != nil {
		if applies {
			_, _ = f.Store.SetIfAbsent(ctx, key, value, ttl)
		}
		return false, err
	}
	return f.Store.SetIfAbsent(ctx, key, value, ttl)
}

func (f *faultyStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	f.extends.Add(1)
	f.mu.Lock()
	err, delay, renewalsOnly := f.extendErr, f.extendDelay, f.renewalsOnly
	f.mu.Unlock()
	if _, ok := ctx.Deadline(); renewalsOnly && !ok {
		err = nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return false, err
	}
	return f.Store.CompareAndExtend(ctx, key, expected, ttl)
}

func (f *faultyStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	f.deletes.Add(1)
	f.mu.Lock()
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.CompareAndDelete(ctx, key, expected)
}

func (f *faultyStore) set(fn func(f *faultyStore)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

// hangingStore is an InMemoryStore whose selected calls never answer and
// only return once their context is done, like a stalled connection.
type hangingStore struct {
	*InMemoryStore
	hangSet    bool
	hangDelete bool
}

func (s *hangingStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if s.hangSet {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return s.InMemoryStore.SetIfAbsent(ctx, key, value, ttl)
}

func (s *hangingStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if s.hangDelete {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return s.InMemoryStore.CompareAndDelete(ctx, key, expected)
}

// stallingBus never completes a subscription before its context ends.
type stallingBus struct {
	syncbus.Bus
}

func (stallingBus) Subscribe(ctx context.Context, _ string) (chan struct{}, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(store Store, opts ...ManagerOption) *Manager {
	return NewManager(store, append([]ManagerOption{WithLogger(quietLogger())}, opts...)...)
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr, client
}

// overwrite replaces key in an InMemoryStore behind every handle's back.
func overwrite(s *InMemoryStore, key, value string, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
