// Package errors holds the sentinel errors shared by warplock stores and
// buses.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	// ErrStoreUnavailable marks any failure to reach the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StoreError reports a store command that could not be completed. It
// matches both ErrStoreUnavailable and the underlying cause with errors.Is.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}
