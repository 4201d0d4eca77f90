package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("given stored entry, then round-trips it", func(t *testing.T) {
		_, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, WithRedisClock(clock))

		want := testEntry(now)
		require.NoError(t, s.Put(ctx, "https://api.example.com/users/42", want))

		got, ok, err := s.Get(ctx, "https://api.example.com/users/42")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.StatusCode, got.StatusCode)
		assert.Equal(t, want.Body, got.Body)
		assert.Equal(t, want.Header, got.Header)
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("given stored entry, then key TTL matches expiry", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, WithRedisClock(clock))

		require.NoError(t, s.Put(ctx, "k", testEntry(now)))

		assert.True(t, mr.Exists(DefaultRedisPrefix+"k"))
		assert.Equal(t, time.Minute, mr.TTL(DefaultRedisPrefix+"k"))
	})

	t.Run("given TTL elapsed, then reports a miss", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, WithRedisClock(clock))

		require.NoError(t, s.Put(ctx, "k", testEntry(now)))
		mr.FastForward(2 * time.Minute)

		_, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("given already stale entry, then it is not written", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, WithRedisClock(clock))

		stale := testEntry(now)
		stale.ExpiresAt = now.Add(-time.Second)
		require.NoError(t, s.Put(ctx, "k", stale))

		assert.False(t, mr.Exists(DefaultRedisPrefix+"k"))
	})

	t.Run("given custom prefix and remove, then key is deleted", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb, WithRedisClock(clock), WithRedisPrefix("app:"))

		require.NoError(t, s.Put(ctx, "k", testEntry(now)))
		assert.True(t, mr.Exists("app:k"))

		require.NoError(t, s.Remove(ctx, "k"))
		assert.False(t, mr.Exists("app:k"))
	})

	t.Run("given corrupt value, then returns decode error", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb)
		require.NoError(t, mr.Set(DefaultRedisPrefix+"k", "not json"))

		_, ok, err := s.Get(ctx, "k")
		assert.False(t, ok)
		assert.ErrorContains(t, err, "decode entry")
	})

	t.Run("given unreachable server, then returns error", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		s := NewRedisStore(rdb)
		mr.Close()

		_, ok, err := s.Get(ctx, "k")
		assert.False(t, ok)
		assert.ErrorContains(t, err, "redis get")
	})
}
