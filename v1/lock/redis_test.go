package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	warperrors "github.com/mirkobrombin/go-warplock/v1/errors"
)

func TestRedisStoreSetIfAbsent(t *testing.T) {
	s, mr, _ := newMiniredisStore(t)
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "k", "a", time.Second)
	if err != nil || !ok {
		t.Fatalf("first set: ok %v err %v", ok, err)
	}
	if ok, err := s.SetIfAbsent(ctx, "k", "b", time.Second); err != nil || ok {
		t.Fatalf("second set: ok %v err %v", ok, err)
	}
	if got, _ := mr.Get("k"); got != "a" {
		t.Fatalf("value = %q, want a", got)
	}

	mr.FastForward(2 * time.Second)
	if ok, err := s.SetIfAbsent(ctx, "k", "b", time.Second); err != nil || !ok {
		t.Fatalf("set after expiry: ok %v err %v", ok, err)
	}
}

func TestRedisStoreCompareAndDelete(t *testing.T) {
	s, mr, _ := newMiniredisStore(t)
	ctx := context.Background()
	_, _ = s.SetIfAbsent(ctx, "k", "a", time.Second)

	if ok, err := s.CompareAndDelete(ctx, "k", "b"); err != nil || ok {
		t.Fatalf("mismatched delete: ok %v err %v", ok, err)
	}
	if !mr.Exists("k") {
		t.Fatal("key must survive a mismatched delete")
	}
	if ok, err := s.CompareAndDelete(ctx, "k", "a"); err != nil || !ok {
		t.Fatalf("delete: ok %v err %v", ok, err)
	}
	if mr.Exists("k") {
		t.Fatal("key should be gone")
	}
	if ok, err := s.CompareAndDelete(ctx, "k", "a"); err != nil || ok {
		t.Fatalf("delete of missing key: ok %v err %v", ok, err)
	}
}

func TestRedisStoreCompareAndExtend(t *testing.T) {
	s, mr, _ := newMiniredisStore(t)
	ctx := context.Background()
	_, _ = s.SetIfAbsent(ctx, "k", "a", time.Second)

	if ok, err := s.CompareAndExtend(ctx, "k", "b", 5*time.Second); err != nil || ok {
		t.Fatalf("mismatched extend: ok %v err %v", ok, err)
	}
	if ok, err := s.CompareAndExtend(ctx, "k", "a", 5*time.Second); err != nil || !ok {
		t.Fatalf("extend: ok %v err %v", ok, err)
	}
	if ttl := mr.TTL("k"); ttl != 5*time.Second {
		t.Fatalf("ttl = %v, want 5s", ttl)
	}
	mr.FastForward(2 * time.Second)
	if !mr.Exists("k") {
		t.Fatal("extended key should outlive its initial ttl")
	}
	if _, err := s.CompareAndExtend(ctx, "k", "a", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("zero ttl extend: %v", err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr, _ := newMiniredisStore(t)
	ctx := context.Background()

	if _, ok, err := s.TTL(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok %v err %v", ok, err)
	}

	if err := mr.Set("forever", "x"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if d, ok, err := s.TTL(ctx, "forever"); err != nil || !ok || d != 0 {
		t.Fatalf("key without expiry: d %v ok %v err %v", d, ok, err)
	}

	_, _ = s.SetIfAbsent(ctx, "k", "a", 3*time.Second)
	d, ok, err := s.TTL(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("ttl: ok %v err %v", ok, err)
	}
	if d <= 0 || d > 3*time.Second {
		t.Fatalf("ttl = %v, want within (0, 3s]", d)
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	_, mr, client := newMiniredisStore(t)
	s := NewRedisStore(client, WithKeyPrefix("app:"))
	ctx := context.Background()

	if ok, err := s.SetIfAbsent(ctx, "k", "a", time.Second); err != nil || !ok {
		t.Fatalf("set: ok %v err %v", ok, err)
	}
	if !mr.Exists("app:k") {
		t.Fatal("expected prefixed key in redis")
	}
	if mr.Exists("k") {
		t.Fatal("unprefixed key should not exist")
	}
	if ok, _ := s.CompareAndDelete(ctx, "k", "a"); !ok {
		t.Fatal("prefixed delete failed")
	}
}

func TestRedisStoreClosedClient(t *testing.T) {
	s, _, client := newMiniredisStore(t)
	_ = client.Close()

	_, err := s.SetIfAbsent(context.Background(), "k", "a", time.Second)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, warperrors.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	var se *warperrors.StoreError
	if !errors.As(err, &se) || se.Key != "k" {
		t.Fatalf("expected StoreError for k, got %v", err)
	}
}

func TestRedisStoreServerDown(t *testing.T) {
	s, mr, _ := newMiniredisStore(t)
	mr.Close()

	_, _, err := s.TTL(context.Background(), "k")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
