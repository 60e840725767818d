package memory

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/mnemora/mnemora-core/pkg/clients/redis"
	merr "github.com/mnemora/mnemora-core/pkg/errors"
)

const (
	// DefaultRecencyTTL bounds how long a user's recency window survives
	// without any activity.
	DefaultRecencyTTL = 24 * time.Hour

	// DefaultRateLimit and DefaultRateWindow bound memory writes to 60
	// per user per minute.
	DefaultRateLimit  = 60
	DefaultRateWindow = time.Minute
)

// Redis key prefixes. Each user gets one recency hash and one rate
// counter per window.
const (
	recencyKeyPrefix = "mnemora:recency:"
	rateKeyPrefix    = "mnemora:rate:"
)

// RedisCache implements [RecencyCache] on the platform Redis client. The
// window is a per-user hash of memory ID to last-touch timestamp; reads
// sort by timestamp so the newest touches come first. The hash expires
// after TTL of inactivity, so idle users cost nothing.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing Redis client. A non-positive ttl selects
// DefaultRecencyTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultRecencyTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Touch marks a memory as just used and refreshes the window's TTL.
func (c *RedisCache) Touch(ctx context.Context, userID, memoryID string) error {
	key := recencyKeyPrefix + userID
	if _, err := c.client.HSet(ctx, key, memoryID, time.Now().UnixNano()); err != nil {
		return err
	}
	_, err := c.client.Expire(ctx, key, c.ttl)
	return err
}

// Recent returns up to limit memory IDs, most recently touched first.
func (c *RedisCache) Recent(ctx context.Context, userID string, limit int) ([]string, error) {
	entries, err := c.client.HGetAll(ctx, recencyKeyPrefix+userID)
	if err != nil {
		return nil, err
	}
	type touch struct {
		id string
		at int64
	}
	touches := make([]touch, 0, len(entries))
	for id, raw := range entries {
		at, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		touches = append(touches, touch{id: id, at: at})
	}
	sort.Slice(touches, func(i, j int) bool { return touches[i].at > touches[j].at })
	if limit > 0 && len(touches) > limit {
		touches = touches[:limit]
	}
	ids := make([]string, len(touches))
	for i, t := range touches {
		ids[i] = t.id
	}
	return ids, nil
}

// Forget drops specific memories from the window.
func (c *RedisCache) Forget(ctx context.Context, userID string, memoryIDs ...string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	_, err := c.client.HDel(ctx, recencyKeyPrefix+userID, memoryIDs...)
	return err
}

// Flush drops the user's entire window.
func (c *RedisCache) Flush(ctx context.Context, userID string) error {
	_, err := c.client.Del(ctx, recencyKeyPrefix+userID)
	return err
}

// RedisRateWindow implements [RateWindow] as a fixed window counter: one
// INCR per write, with the key's TTL set when the window opens. The
// window boundary is therefore first-write aligned, not wall-clock
// aligned.
type RedisRateWindow struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisRateWindow wraps an existing Redis client. Non-positive limit
// or window select DefaultRateLimit and DefaultRateWindow.
func NewRedisRateWindow(client *redis.Client, limit int64, window time.Duration) *RedisRateWindow {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisRateWindow{client: client, limit: limit, window: window}
}

// Allow consumes one slot from the user's window.
func (w *RedisRateWindow) Allow(ctx context.Context, userID string) (bool, error) {
	key := rateKeyPrefix + userID
	count, err := w.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if _, err := w.client.Expire(ctx, key, w.window); err != nil {
			return false, merr.Wrap(err, merr.CodeUnavailableDependency,
				"memory: failed to arm rate window expiry")
		}
	}
	return count <= w.limit, nil
}
