package lock

import (
	"context"
	"time"
)

// Store is the minimal key-value capability a Manager needs. Both compare
// operations must execute atomically on the store side.
type Store interface {
	// SetIfAbsent stores value under key with the given ttl only if the key
	// does not exist. It reports whether the value was written.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only if its value equals expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CompareAndExtend resets the expiry of key to ttl only if its value
	// equals expected.
	CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key. The boolean is false when
	// the key does not exist. A key without expiry reports zero.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
}
