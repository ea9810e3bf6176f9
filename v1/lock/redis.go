package lock

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	warperrors "github.com/mirkobrombin/go-warplock/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisStore implements Store on top of a go-redis client. Any client
// flavour works: single node, sentinel failover or cluster.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key the store touches.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithOpTimeout bounds each Redis round trip. A non-positive value leaves
// calls bounded only by the caller's context.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.timeout = d
	}
}

// NewRedisStore returns a RedisStore using the provided client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetIfAbsent implements Store.SetIfAbsent with SET NX PX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	ok, err := s.client.SetNX(cctx, s.prefix+key, value, ttl).Result()
	if err != nil {
		return false, redisError("setnx", key, err)
	}
	return ok, nil
}

// CompareAndDelete implements Store.CompareAndDelete.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	n, err := compareAndDeleteScript.Run(cctx, s.client, []string{s.prefix + key}, expected).Int64()
	if err != nil {
		return false, redisError("compare-and-delete", key, err)
	}
	return n == 1, nil
}

// CompareAndExtend implements Store.CompareAndExtend.
func (s *RedisStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("warplock: extend %s: %w", key, ErrInvalidTTL)
	}
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	n, err := compareAndExtendScript.Run(cctx, s.client, []string{s.prefix + key}, expected, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, redisError("compare-and-extend", key, err)
	}
	return n == 1, nil
}

// TTL implements Store.TTL.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	d, err := s.client.PTTL(cctx, s.prefix+key).Result()
	if err != nil {
		return 0, false, redisError("pttl", key, err)
	}
	// go-redis passes the -2 (missing) and -1 (no expiry) markers through
	// unscaled.
	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return 0, true, nil
	}
	return d, true, nil
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func redisError(op, key string, err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %w", warperrors.ErrTimeout, err)
	case stdErrors.Is(err, redis.ErrClosed):
		err = fmt.Errorf("%w: %w", warperrors.ErrConnectionClosed, err)
	}
	return &warperrors.StoreError{Op: op, Key: key, Err: err}
}
