package errors

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStoreErrorMatchesBothLayers(t *testing.T) {
	err := error(&StoreError{Op: "setnx", Key: "lock:a", Err: ErrTimeout})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatal("expected ErrStoreUnavailable")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected ErrTimeout")
	}
	if errors.Is(err, ErrConnectionClosed) {
		t.Fatal("unexpected ErrConnectionClosed")
	}
	if !strings.Contains(err.Error(), "lock:a") {
		t.Fatalf("key missing from message: %q", err.Error())
	}
}

func TestStoreErrorKeepsContextCause(t *testing.T) {
	err := error(&StoreError{Op: "pttl", Key: "k", Err: context.Canceled})
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected context.Canceled to be preserved")
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "pttl" {
		t.Fatalf("errors.As failed: %v", err)
	}
}
