package stores

import (
	"context"
	"testing"
	"time"
)

func TestSnapshotCacheRoundTripAndTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cache := NewSnapshotCache(rdb, "")
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, "u1", []byte(`{"role":"faculty"}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	data, ok, err := cache.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if string(data) != `{"role":"faculty"}` {
		t.Fatalf("unexpected payload %q", data)
	}

	mr.FastForward(time.Minute + time.Second)
	if _, ok, _ := cache.Get(ctx, "u1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestSnapshotCacheInvalidate(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := NewSnapshotCache(rdb, "")
	ctx := context.Background()

	if err := cache.Set(ctx, "u2", []byte("x"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "u2"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "u2"); ok {
		t.Fatal("expected miss after invalidate")
	}
}
