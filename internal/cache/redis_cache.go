package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps rdb. The TTL should be at least the window duration;
// an entry expiring early only costs a store lookup.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type inboundValue struct {
	At time.Time `json:"at"`
}

func key(conversationID string) string {
	return fmt.Sprintf("conv:%s:last_inbound", conversationID)
}

func (c *RedisCache) StoreLastInbound(ctx context.Context, conversationID string, at time.Time) error {
	b, err := json.Marshal(inboundValue{At: at.UTC()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(conversationID), b, c.ttl).Err()
}

func (c *RedisCache) LastInbound(ctx context.Context, conversationID string) (time.Time, bool, error) {
	raw, err := c.rdb.Get(ctx, key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	var v inboundValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false, err
	}
	return v.At, true, nil
}
