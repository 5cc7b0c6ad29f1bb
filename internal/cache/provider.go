package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCacheMiss signals that a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Provider is the shared key/value state behind alert cooldown claims and the
// dependency graph cache. A Redis-backed provider lets replicas share claims; the
// in-process one serves single-node deployments and tests.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// Keyspace names one family of keys, e.g. "cooldown" or "graph".
type Keyspace string

// Key joins parts under the keyspace with ':' separators.
func (k Keyspace) Key(parts ...string) string {
	return string(k) + ":" + strings.Join(parts, ":")
}

// Keyspaces used by the engine.
const (
	Cooldowns Keyspace = "cooldown"
	Graphs    Keyspace = "graph"
)

// GetJSON reads key and decodes it into a T. A value that no longer decodes is
// reported as a miss so callers fall through to their source.
func GetJSON[T any](ctx context.Context, p Provider, key string) (T, error) {
	var out T
	data, err := p.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: undecodable value at %s", ErrCacheMiss, key)
	}
	return out, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, p Provider, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.Set(ctx, key, data, ttl)
}

// Disabled stores nothing. Every claim succeeds, so each process acts as if it were
// the only replica.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (Disabled) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Disabled) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (Disabled) Del(context.Context, string) error { return nil }

func (Disabled) Close() error { return nil }
