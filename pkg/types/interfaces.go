package types

import (
	"context"
	"time"
)

// TierBackend is the uniform contract every storage tier implements.
type TierBackend interface {
	// Name identifies the concrete backend, e.g. "memory" or "sqlite".
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// OriginFetcher retrieves an asset from its source of truth.
type OriginFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// OriginFunc adapts a function to OriginFetcher.
type OriginFunc func(ctx context.Context, key string) ([]byte, error)

// Fetch calls f.
func (f OriginFunc) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

// StatsReporter is implemented by backends that can describe their contents.
type StatsReporter interface {
	TierStats() TierStats
}

// Closer is implemented by backends holding resources.
type Closer interface {
	Close() error
}

// EvictionNotifier is implemented by backends that drop entries on their
// own, through capacity eviction or expiry. fn is called once per dropped
// key, never while the backend holds its lock.
type EvictionNotifier interface {
	OnEvict(fn func(key string))
}
