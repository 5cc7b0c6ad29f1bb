package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestMemoryProviderSetNXHonoursTTL(t *testing.T) {
	clk := clock.NewMock()
	p := NewMemoryProvider(clk)
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "cooldown:abc", []byte("ALT-1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, got %v %v", ok, err)
	}
	ok, _ = p.SetNX(ctx, "cooldown:abc", []byte("ALT-2"), time.Minute)
	if ok {
		t.Fatalf("expected second claim inside ttl to fail")
	}

	clk.Add(time.Minute)
	ok, _ = p.SetNX(ctx, "cooldown:abc", []byte("ALT-3"), time.Minute)
	if !ok {
		t.Fatalf("expected claim after expiry to succeed")
	}
	val, err := p.Get(ctx, "cooldown:abc")
	if err != nil || string(val) != "ALT-3" {
		t.Fatalf("unexpected value %q err %v", val, err)
	}
}

func TestMemoryProviderDelAndMiss(t *testing.T) {
	p := NewMemoryProvider(nil)
	ctx := context.Background()
	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	_ = p.Set(ctx, "k", []byte("v"), 0)
	_ = p.Del(ctx, "k")
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}
