package memory

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora-core/pkg/clients/redis"
)

// fakeCmdable is a small in-memory Redis standing in for the real server.
// It implements only the commands the memory adapters issue (hashes,
// counters, key deletion, expiry); the rest of the Cmdable surface returns
// empty results.
type fakeCmdable struct {
	hashes   map[string]map[string]string
	counters map[string]int64
	expiries map[string]time.Duration
}

func newFakeCmdable() *fakeCmdable {
	return &fakeCmdable{
		hashes:   map[string]map[string]string{},
		counters: map[string]int64{},
		expiries: map[string]time.Duration{},
	}
}

func (f *fakeCmdable) HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(ctx)
	if f.hashes[key] == nil {
		f.hashes[key] = map[string]string{}
	}
	var added int64
	for i := 0; i+1 < len(values); i += 2 {
		field := values[i].(string)
		if _, exists := f.hashes[key][field]; !exists {
			added++
		}
		f.hashes[key][field] = toRedisString(values[i+1])
	}
	cmd.SetVal(added)
	return cmd
}

func (f *fakeCmdable) HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd {
	cmd := goredis.NewMapStringStringCmd(ctx)
	out := map[string]string{}
	for field, val := range f.hashes[key] {
		out[field] = val
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeCmdable) HDel(ctx context.Context, key string, fields ...string) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(ctx)
	var removed int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeCmdable) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(ctx)
	var removed int64
	for _, key := range keys {
		if _, ok := f.hashes[key]; ok {
			delete(f.hashes, key)
			removed++
		}
		if _, ok := f.counters[key]; ok {
			delete(f.counters, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeCmdable) Incr(ctx context.Context, key string) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(ctx)
	f.counters[key]++
	cmd.SetVal(f.counters[key])
	return cmd
}

func (f *fakeCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	cmd := goredis.NewBoolCmd(ctx)
	f.expiries[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (f *fakeCmdable) Set(ctx context.Context, _ string, _ interface{}, _ time.Duration) *goredis.StatusCmd {
	return goredis.NewStatusCmd(ctx)
}

func (f *fakeCmdable) Get(ctx context.Context, _ string) *goredis.StringCmd {
	return goredis.NewStringCmd(ctx)
}

func (f *fakeCmdable) Exists(ctx context.Context, _ ...string) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx)
}

func (f *fakeCmdable) TTL(ctx context.Context, _ string) *goredis.DurationCmd {
	return goredis.NewDurationCmd(ctx, time.Second)
}

func (f *fakeCmdable) Decr(ctx context.Context, _ string) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx)
}

func (f *fakeCmdable) HGet(ctx context.Context, _, _ string) *goredis.StringCmd {
	return goredis.NewStringCmd(ctx)
}

func (f *fakeCmdable) LPush(ctx context.Context, _ string, _ ...interface{}) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx)
}

func (f *fakeCmdable) RPush(ctx context.Context, _ string, _ ...interface{}) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx)
}

func (f *fakeCmdable) LRange(ctx context.Context, _ string, _, _ int64) *goredis.StringSliceCmd {
	return goredis.NewStringSliceCmd(ctx)
}

func (f *fakeCmdable) LLen(ctx context.Context, _ string) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx)
}

func (f *fakeCmdable) SAdd(ctx context.Context, _ string, _ ...interface{}) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx)
}

func (f *fakeCmdable) SMembers(ctx context.Context, _ string) *goredis.StringSliceCmd {
	return goredis.NewStringSliceCmd(ctx)
}

func (f *fakeCmdable) SIsMember(ctx context.Context, _ string, _ interface{}) *goredis.BoolCmd {
	return goredis.NewBoolCmd(ctx)
}

func (f *fakeCmdable) SRem(ctx context.Context, _ string, _ ...interface{}) *goredis.IntCmd {
	return goredis.NewIntCmd(ctx)
}

func (f *fakeCmdable) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeCmdable) Close() error { return nil }

func toRedisString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

// newRedisFixture returns a cache, a rate window, and the fake server
// behind both.
func newRedisFixture(t *testing.T) (*RedisCache, *RedisRateWindow, *fakeCmdable) {
	t.Helper()
	fake := newFakeCmdable()
	client := redis.NewFromClient(fake, &redis.Config{})
	return NewRedisCache(client, 0), NewRedisRateWindow(client, 3, time.Minute), fake
}

// ===========================================================================
// RedisCache Tests
// ===========================================================================

func TestRedisCache_RecentOrdersNewestFirst(t *testing.T) {
	cache, _, _ := newRedisFixture(t)
	ctx := context.Background()

	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-old"))
	time.Sleep(time.Millisecond)
	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-mid"))
	time.Sleep(time.Millisecond)
	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-new"))

	ids, err := cache.Recent(ctx, svcTestUserID, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem-new", "mem-mid", "mem-old"}, ids)
}

func TestRedisCache_RecentHonorsLimit(t *testing.T) {
	cache, _, _ := newRedisFixture(t)
	ctx := context.Background()

	for _, id := range []string{"mem-1", "mem-2", "mem-3", "mem-4"} {
		require.NoError(t, cache.Touch(ctx, svcTestUserID, id))
		time.Sleep(time.Millisecond)
	}

	ids, err := cache.Recent(ctx, svcTestUserID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem-4", "mem-3"}, ids)
}

func TestRedisCache_TouchRefreshesWindowTTL(t *testing.T) {
	cache, _, fake := newRedisFixture(t)

	require.NoError(t, cache.Touch(context.Background(), svcTestUserID, "mem-1"))
	assert.Equal(t, DefaultRecencyTTL, fake.expiries[recencyKeyPrefix+svcTestUserID])
}

func TestRedisCache_TouchSameMemoryMovesItForward(t *testing.T) {
	cache, _, _ := newRedisFixture(t)
	ctx := context.Background()

	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-a"))
	time.Sleep(time.Millisecond)
	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-b"))
	time.Sleep(time.Millisecond)
	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-a"))

	ids, err := cache.Recent(ctx, svcTestUserID, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem-a", "mem-b"}, ids)
}

func TestRedisCache_ForgetRemovesOnlyNamedMemories(t *testing.T) {
	cache, _, _ := newRedisFixture(t)
	ctx := context.Background()

	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-keep"))
	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-drop"))
	require.NoError(t, cache.Forget(ctx, svcTestUserID, "mem-drop"))

	ids, err := cache.Recent(ctx, svcTestUserID, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"mem-keep"}, ids)
}

func TestRedisCache_FlushEmptiesTheWindow(t *testing.T) {
	cache, _, _ := newRedisFixture(t)
	ctx := context.Background()

	require.NoError(t, cache.Touch(ctx, svcTestUserID, "mem-1"))
	require.NoError(t, cache.Flush(ctx, svcTestUserID))

	ids, err := cache.Recent(ctx, svcTestUserID, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// ===========================================================================
// RedisRateWindow Tests
// ===========================================================================

func TestRedisRateWindow_AllowsUpToLimit(t *testing.T) {
	_, window, _ := newRedisFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := window.Allow(ctx, svcTestUserID)
		require.NoError(t, err)
		assert.True(t, allowed, "write %d should be within the limit", i+1)
	}

	allowed, err := window.Allow(ctx, svcTestUserID)
	require.NoError(t, err)
	assert.False(t, allowed, "write past the limit should be rejected")
}

func TestRedisRateWindow_ArmsExpiryOnFirstWrite(t *testing.T) {
	_, window, fake := newRedisFixture(t)

	_, err := window.Allow(context.Background(), svcTestUserID)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, fake.expiries[rateKeyPrefix+svcTestUserID])
}

func TestRedisRateWindow_WindowsAreIndependentPerUser(t *testing.T) {
	_, window, _ := newRedisFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := window.Allow(ctx, svcTestUserID)
		require.NoError(t, err)
	}
	blocked, err := window.Allow(ctx, svcTestUserID)
	require.NoError(t, err)
	require.False(t, blocked)

	allowed, err := window.Allow(ctx, "u_other_user")
	require.NoError(t, err)
	assert.True(t, allowed, "another user's window must be unaffected")
}
