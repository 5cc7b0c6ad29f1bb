package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyspace(t *testing.T) {
	if got := Cooldowns.Key("3f9a"); got != "cooldown:3f9a" {
		t.Fatalf("unexpected cooldown key %q", got)
	}
	if got := Graphs.Key("adjacency", "v2"); got != "graph:adjacency:v2" {
		t.Fatalf("unexpected graph key %q", got)
	}
}

func TestJSONHelpers(t *testing.T) {
	p := NewMemoryProvider(nil)
	ctx := context.Background()
	key := Graphs.Key("adjacency")

	if _, err := GetJSON[map[string][]string](ctx, p, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := SetJSON(ctx, p, key, map[string][]string{"core1": {"dist1"}}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	adj, err := GetJSON[map[string][]string](ctx, p, key)
	if err != nil || len(adj["core1"]) != 1 {
		t.Fatalf("unexpected round trip %v err %v", adj, err)
	}

	_ = p.Set(ctx, key, []byte("garbage"), time.Minute)
	if _, err := GetJSON[map[string][]string](ctx, p, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected undecodable value to read as a miss, got %v", err)
	}
	if err := SetJSON(ctx, p, key, func() {}, time.Minute); err == nil {
		t.Fatalf("expected encode error")
	}
}

func TestDisabledClaimsAlwaysSucceed(t *testing.T) {
	var p Provider = Disabled{}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, err := p.SetNX(ctx, Cooldowns.Key("fp"), []byte("ALRT-1"), time.Minute); err != nil || !ok {
			t.Fatalf("claim %d: expected success, got %v %v", i, ok, err)
		}
	}
	if _, err := p.Get(ctx, Cooldowns.Key("fp")); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss from disabled cache, got %v", err)
	}
}
