package lock

import (
	"errors"

	warperrors "github.com/mirkobrombin/go-warplock/v1/errors"
)

var (
	// ErrLockTimeout is returned when the acquire deadline passes while the
	// key is held by someone else.
	ErrLockTimeout = errors.New("warplock: lock acquire timeout")
	// ErrLockLost is returned by WithLock when ownership was lost while the
	// protected function ran.
	ErrLockLost = errors.New("warplock: lock lost")
	// ErrNotHeld is returned by Refresh when the handle no longer owns the key.
	ErrNotHeld = errors.New("warplock: lock not held")

	ErrInvalidKey           = errors.New("warplock: lock name must not be empty")
	ErrInvalidTTL           = errors.New("warplock: lock ttl must be positive")
	ErrInvalidRenewInterval = errors.New("warplock: renew interval must be positive and shorter than ttl")
	ErrInvalidRetryInterval = errors.New("warplock: retry interval must be positive")
	ErrInvalidRetryJitter   = errors.New("warplock: retry jitter must be within [0, 1]")

	// ErrStoreUnavailable matches every error caused by an unreachable store.
	ErrStoreUnavailable = warperrors.ErrStoreUnavailable
)

// unavailable makes sure err matches ErrStoreUnavailable, whatever Store
// implementation produced it.
func unavailable(op, key string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return &warperrors.StoreError{Op: op, Key: key, Err: err}
}
