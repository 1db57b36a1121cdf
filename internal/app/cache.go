package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"slot-scheduler/internal/slots"
)

// SlotKey identifies one computed slot list. Version is the user's cache
// version read before the list was computed; a list computed under an old
// version is never visible after Invalidate.
type SlotKey struct {
	UserID   string
	Version  int64
	Date     string
	Duration int
	Timezone string
}

// SlotCache stores computed slot lists. Callers read Version first, build the
// key with it, then Get and, on a miss, Set. Invalidate bumps the version.
type SlotCache interface {
	Version(ctx context.Context, userID string) (int64, error)
	Get(ctx context.Context, k SlotKey) ([]slots.Slot, bool, error)
	Set(ctx context.Context, k SlotKey, s []slots.Slot) error
	Invalidate(ctx context.Context, userID string) error
}

// redisKV is the part of *redis.Client the slot cache uses.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisSlotCache versions keys per user so invalidation is a single INCR;
// stale entries age out through the TTL.
type RedisSlotCache struct {
	rdb    redisKV
	ttl    time.Duration
	prefix string
}

func NewRedisSlotCache(rdb *redis.Client, ttl time.Duration) *RedisSlotCache {
	return newRedisSlotCache(rdb, ttl)
}

func newRedisSlotCache(rdb redisKV, ttl time.Duration) *RedisSlotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSlotCache{rdb: rdb, ttl: ttl, prefix: "slots"}
}

func (c *RedisSlotCache) versionKey(userID string) string {
	return c.prefix + ":ver:" + userID
}

func (c *RedisSlotCache) dataKey(k SlotKey) string {
	return fmt.Sprintf("%s:%s:v%d:%s:%d:%s", c.prefix, k.UserID, k.Version, k.Date, k.Duration, k.Timezone)
}

func (c *RedisSlotCache) Version(ctx context.Context, userID string) (int64, error) {
	ver, err := c.rdb.Get(ctx, c.versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (c *RedisSlotCache) Get(ctx context.Context, k SlotKey) ([]slots.Slot, bool, error) {
	raw, err := c.rdb.Get(ctx, c.dataKey(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []slots.Slot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return out, true, nil
}

func (c *RedisSlotCache) Set(ctx context.Context, k SlotKey, s []slots.Slot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.dataKey(k), raw, c.ttl).Err()
}

func (c *RedisSlotCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Incr(ctx, c.versionKey(userID)).Err()
}

// NoCache disables slot caching.
type NoCache struct{}

func (NoCache) Version(context.Context, string) (int64, error)           { return 0, nil }
func (NoCache) Get(context.Context, SlotKey) ([]slots.Slot, bool, error) { return nil, false, nil }
func (NoCache) Set(context.Context, SlotKey, []slots.Slot) error         { return nil }
func (NoCache) Invalidate(context.Context, string) error                 { return nil }
