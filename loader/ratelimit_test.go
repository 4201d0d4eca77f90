package loader

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitLoader_FailFast(t *testing.T) {
	terminal := NewMockLoader(MockStatus(http.StatusOK, ""))
	chain := NewChain(terminal, NewRateLimitLoader(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}))

	require.NoError(t, chain.Load(context.Background(), newGet("/")).Err())
	require.NoError(t, chain.Load(context.Background(), newGet("/")).Err())
	res := chain.Load(context.Background(), newGet("/"))

	assert.ErrorIs(t, res.Err(), CannotConnect)
	assert.ErrorIs(t, res.Err(), ErrRateLimited)
	assert.Equal(t, 2, terminal.CallCount())
}

func TestRateLimitLoader_Wait(t *testing.T) {
	t.Run("given token available soon, then waits and succeeds", func(t *testing.T) {
		terminal := NewMockLoader(MockStatus(http.StatusOK, ""))
		chain := NewChain(terminal, NewRateLimitLoader(RateLimitConfig{
			RequestsPerSecond: 50, Burst: 1, WaitOnLimit: true,
		}))

		for i := 0; i < 3; i++ {
			require.NoError(t, chain.Load(context.Background(), newGet("/")).Err())
		}
		assert.Equal(t, 3, terminal.CallCount())
	})

	t.Run("given wait beyond deadline, then rate limited", func(t *testing.T) {
		terminal := NewMockLoader(MockStatus(http.StatusOK, ""))
		chain := NewChain(terminal, NewRateLimitLoader(RateLimitConfig{
			RequestsPerSecond: 0.001, Burst: 1, WaitOnLimit: true,
		}))
		require.NoError(t, chain.Load(context.Background(), newGet("/")).Err())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		res := chain.Load(ctx, newGet("/"))

		assert.ErrorIs(t, res.Err(), CannotConnect)
		assert.ErrorIs(t, res.Err(), ErrRateLimited)
		assert.Equal(t, 1, terminal.CallCount())
	})

	t.Run("given cancelled while waiting, then Cancelled", func(t *testing.T) {
		terminal := NewMockLoader(MockStatus(http.StatusOK, ""))
		limiter := NewRateLimitLoader(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, WaitOnLimit: true})
		linked := limiter.Link(terminal)
		require.NoError(t, linked.Load(context.Background(), newGet("/")).Err())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := linked.Load(ctx, newGet("/"))

		assert.ErrorIs(t, res.Err(), Cancelled)
	})
}

func TestRateLimitLoader_Disabled(t *testing.T) {
	terminal := NewMockLoader(MockStatus(http.StatusOK, ""))
	chain := NewChain(terminal, NewRateLimitLoader(RateLimitConfig{}))

	for i := 0; i < 100; i++ {
		require.NoError(t, chain.Load(context.Background(), newGet("/")).Err())
	}
	assert.Equal(t, 100, terminal.CallCount())
}
