package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castmarket/castmarket/internal/domain"
)

// StatsCache implements domain.StatsCache using plain Redis keys with a TTL.
// It keeps repeated metric lookups for the same subject and window from
// burning the stats provider's rate limit.
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

// Get returns the cached value for key, with a boolean indicating presence.
func (sc *StatsCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := sc.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (sc *StatsCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := sc.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatsCache = (*StatsCache)(nil)
