package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payload   interface{}
	createdAt time.Time
	ttl       time.Duration
}

func (e memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// MemoryCache is the default per-process cache backend.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (interface{}, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !entry.expired(c.now()) {
		return entry.payload, false, nil
	}

	// Compute outside the lock: concurrent refreshes of the same key are
	// tolerated, the last writer wins.
	payload, err := compute(ctx)
	if err != nil {
		c.mu.RLock()
		entry, ok = c.entries[key]
		c.mu.RUnlock()
		if ok {
			return entry.payload, true, nil
		}
		return nil, false, err
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{payload: payload, createdAt: c.now(), ttl: ttl}
	c.mu.Unlock()

	return payload, false, nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
