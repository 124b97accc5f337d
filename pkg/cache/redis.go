package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rm4health/dashboard/pkg/common/logger"
)

const redisKeyPrefix = "rm4health:cache:"

type redisEntry struct {
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// RedisCache shares cached payloads across dashboard workers. Entries are
// stored without a redis expiry so expired payloads remain available for
// stale serving; freshness is evaluated at read time. Hits decode to
// json.RawMessage; callers unmarshal into their own types.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, now: time.Now}
}

func (c *RedisCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (interface{}, bool, error) {
	entry, found := c.read(ctx, key)
	if found && c.now().Sub(entry.CreatedAt) < time.Duration(entry.TTLSeconds)*time.Second {
		return entry.Payload, false, nil
	}

	payload, err := compute(ctx)
	if err != nil {
		if found {
			return entry.Payload, true, nil
		}
		return nil, false, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal cache payload for %s: %w", key, err)
	}
	stored, err := json.Marshal(redisEntry{
		Payload:    raw,
		CreatedAt:  c.now(),
		TTLSeconds: int64(ttl / time.Second),
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshal cache entry for %s: %w", key, err)
	}

	if err := c.client.Set(ctx, redisKeyPrefix+key, stored, 0).Err(); err != nil {
		// Serving the freshly computed payload still succeeds even when
		// the shared store is unreachable.
		logger.Log.WithError(err).WithField("key", key).Warn("Failed to store cache entry in redis")
	}

	return payload, false, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (c *RedisCache) ClearAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *RedisCache) read(ctx context.Context, key string) (redisEntry, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.WithError(err).WithField("key", key).Warn("Failed to read cache entry from redis")
		}
		return redisEntry{}, false
	}
	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("Corrupt cache entry in redis")
		return redisEntry{}, false
	}
	return entry, true
}
