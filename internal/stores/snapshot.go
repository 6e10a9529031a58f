package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSnapshotRedisUnavailable = errors.New("snapshot cache redis unavailable")

// SnapshotCache stores opaque encoded access snapshots keyed by user id.
type SnapshotCache struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSnapshotCache(redisClient redis.UniversalClient, prefix string) *SnapshotCache {
	if prefix == "" {
		prefix = "acs"
	}
	return &SnapshotCache{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *SnapshotCache) key(userID string) string {
	return c.prefix + ":" + userID
}

// Get returns (nil, false, nil) on a cache miss.
func (c *SnapshotCache) Get(ctx context.Context, userID string) ([]byte, bool, error) {
	data, err := c.redis.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrSnapshotRedisUnavailable, err)
	}
	return data, true, nil
}

func (c *SnapshotCache) Set(ctx context.Context, userID string, data []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotRedisUnavailable, err)
	}
	return nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.redis.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotRedisUnavailable, err)
	}
	return nil
}
