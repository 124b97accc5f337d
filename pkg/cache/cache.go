package cache

import (
	"context"
	"time"
)

// ComputeFunc produces a fresh payload for a cache key.
type ComputeFunc func(ctx context.Context) (interface{}, error)

// Cache memoizes expensive computations under a TTL. Expired entries are
// retained, not discarded: when a recompute fails and a prior entry
// exists, the stale payload is served with stale=true so the dashboard
// stays available through upstream outages.
//
// Concurrent GetOrCompute calls for the same expired key may each run the
// compute; the installed entry is last-writer-wins and readers never
// observe a torn entry.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (payload interface{}, stale bool, err error)
	Invalidate(ctx context.Context, key string) error
	ClearAll(ctx context.Context) error
}
