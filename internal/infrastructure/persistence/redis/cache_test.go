package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

func offlineCache() *Cache {
	return NewCacheFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "session:abc", SessionKey("abc"))
	assert.Equal(t, "teaching:abc", TeachingKey("abc"))
	assert.Equal(t, "events:session.completed", EventChannel("", "session.completed"))
	assert.Equal(t, "tutor.session.reset", EventChannel("tutor.", "session.reset"))
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:pw@cache.internal:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestCache_ArgumentValidation(t *testing.T) {
	c := offlineCache()
	defer c.Close()
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", "v", time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", "v", -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Set(ctx, "k", func() {}, time.Minute), ErrCacheSerialization)

	var out string
	assert.ErrorIs(t, c.Get(ctx, "", &out), ErrCacheKeyEmpty)
}

func TestNewCache_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.DialTimeout = 100 * time.Millisecond

	_, err := NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)

	cfg.URL = "http://nope"
	_, err = NewCache(context.Background(), cfg)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheConnection, "config errors are not connection errors")
}

func TestMapCacheError(t *testing.T) {
	assert.ErrorIs(t, mapCacheError(ErrCacheMiss, shared.ErrSessionNotFound), shared.ErrSessionNotFound)
	assert.ErrorIs(t, mapCacheError(ErrCacheSerialization, shared.ErrSessionNotFound), shared.ErrStateMalformed)

	other := mapCacheError(errors.New("i/o timeout"), shared.ErrSessionNotFound)
	assert.False(t, errors.Is(other, shared.ErrSessionNotFound))
	assert.Contains(t, other.Error(), "i/o timeout")
}

func TestStores_RejectNil(t *testing.T) {
	c := offlineCache()
	defer c.Close()
	ctx := context.Background()

	assert.ErrorIs(t, NewSessionStateStore(c).Put(ctx, "s1", (*session.SessionState)(nil), time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, NewTeachingStateStore(c).Put(ctx, "s1", (*session.TeachingState)(nil), time.Minute), ErrCacheNilValue)
}

func TestStores_UnreachableIsNotAMiss(t *testing.T) {
	c := offlineCache()
	defer c.Close()

	_, err := NewSessionStateStore(c).Get(context.Background(), "s1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrSessionNotFound))
}
