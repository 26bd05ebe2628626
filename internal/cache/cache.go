// Package cache holds short-lived pull results. A cache is an optimization
// only; every caller must behave correctly with a cache that never hits.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a per-entry TTL
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Noop is a cache that stores nothing
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (Noop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {}
func (Noop) Delete(ctx context.Context, key string) {}
