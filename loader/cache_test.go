package loader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-loader/cache"
	"github.com/kroma-labs/sentinel-loader/request"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(cache.Entry), args.Bool(1), args.Error(2)
}

func (m *mockStore) Put(ctx context.Context, key string, entry cache.Entry) error {
	return m.Called(ctx, key, entry).Error(0)
}

func (m *mockStore) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func cachedGet(path string, policy CachePolicy) request.Descriptor {
	return request.New(request.MethodGet, path, request.WithHost("api.example.com"), WithCachePolicy(policy))
}

func TestCacheLoader_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	store := cache.NewMemoryStore()
	terminal := NewMockLoader(MockJSON("/users/42", http.StatusOK, map[string]int{"id": 42}))
	chain := NewChain(terminal, NewCacheLoader(store, WithClock(clock.Now)))

	first := chain.Load(context.Background(), cachedGet("/users/42", WithLimit(time.Minute)))
	require.NoError(t, first.Err())
	assert.Equal(t, 1, store.Len())

	req := cachedGet("/users/42", WithLimit(time.Minute))
	second := chain.Load(context.Background(), req)
	require.NoError(t, second.Err())
	resp, _ := second.Response()

	assert.Equal(t, 1, terminal.CallCount(), "second load must be served from cache")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":42}`, string(resp.Body))
	assert.Equal(t, request.ContentTypeJSON, resp.Header.Get("Content-Type"))
	assert.Equal(t, req.ID, resp.Request.ID)
}

func TestCacheLoader_Expiry(t *testing.T) {
	clock := newFakeClock()
	store := cache.NewMemoryStore()
	terminal := NewMockLoader(MockSequence(
		MockStatus(http.StatusOK, "v1"),
		MockStatus(http.StatusOK, "v2"),
	))
	chain := NewChain(terminal, NewCacheLoader(store, WithClock(clock.Now)))
	req := cachedGet("/feed", WithLimit(time.Minute))

	chain.Load(context.Background(), req)

	clock.Advance(59 * time.Second)
	fresh, _ := chain.Load(context.Background(), req).Response()
	assert.Equal(t, "v1", string(fresh.Body))

	clock.Advance(time.Second)
	stale, _ := chain.Load(context.Background(), req).Response()
	assert.Equal(t, "v2", string(stale.Body))
	assert.Equal(t, 2, terminal.CallCount())

	entry, ok, err := store.Get(context.Background(), "https://api.example.com/feed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(entry.Body))
	assert.Equal(t, clock.Now().Add(time.Minute), entry.ExpiresAt)
}

func TestCacheLoader_Bypass(t *testing.T) {
	clock := newFakeClock()

	tests := []struct {
		name    string
		req     request.Descriptor
		handler MockHandler
	}{
		{
			name:    "given Never policy, then store is not used",
			req:     cachedGet("/a", Never()),
			handler: MockStatus(http.StatusOK, "ok"),
		},
		{
			name:    "given default policy, then store is not used",
			req:     newGet("/a"),
			handler: MockStatus(http.StatusOK, "ok"),
		},
		{
			name:    "given non-2xx response, then not cached",
			req:     cachedGet("/a", WithoutExpiry()),
			handler: MockStatus(http.StatusNotFound, ""),
		},
		{
			name:    "given failure, then not cached",
			req:     cachedGet("/a", WithoutExpiry()),
			handler: MockError(nil, CannotConnect, errors.New("refused")),
		},
		{
			name:    "given date already past, then not cached",
			req:     cachedGet("/a", UntilDate(clock.Now().Add(-time.Hour))),
			handler: MockStatus(http.StatusOK, "ok"),
		},
		{
			name:    "given unresolved host, then forwarded uncached",
			req:     request.New(request.MethodGet, "/a", WithCachePolicy(WithoutExpiry())),
			handler: MockStatus(http.StatusOK, "ok"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := cache.NewMemoryStore()
			terminal := NewMockLoader(tt.handler)
			chain := NewChain(terminal, NewCacheLoader(store, WithClock(clock.Now)))

			chain.Load(context.Background(), tt.req)
			chain.Load(context.Background(), tt.req)

			assert.Equal(t, 2, terminal.CallCount())
			assert.Zero(t, store.Len())
		})
	}
}

func TestCacheLoader_StoreErrorsAreTolerated(t *testing.T) {
	store := &mockStore{}
	store.On("Get", mock.Anything, "https://api.example.com/a").
		Return(cache.Entry{}, false, errors.New("connection reset"))
	store.On("Put", mock.Anything, "https://api.example.com/a", mock.AnythingOfType("cache.Entry")).
		Return(errors.New("read only"))

	var logs bytes.Buffer
	terminal := NewMockLoader(MockStatus(http.StatusOK, "ok"))
	chain := NewChain(terminal, NewCacheLoader(store, WithCacheLogger(zerolog.New(&logs))))

	res := chain.Load(context.Background(), cachedGet("/a", WithLimit(time.Minute)))

	require.NoError(t, res.Err())
	assert.Equal(t, 1, terminal.CallCount())
	assert.Contains(t, logs.String(), "cache lookup failed")
	assert.Contains(t, logs.String(), "cache write failed")
	store.AssertExpectations(t)
}

func TestCacheLoader_EvictsStaleEntry(t *testing.T) {
	clock := newFakeClock()
	store := &mockStore{}
	store.On("Get", mock.Anything, "https://api.example.com/a").
		Return(cache.Entry{StatusCode: http.StatusOK, ExpiresAt: clock.Now()}, true, nil)
	store.On("Remove", mock.Anything, "https://api.example.com/a").Return(nil)
	store.On("Put", mock.Anything, "https://api.example.com/a", mock.AnythingOfType("cache.Entry")).Return(nil)

	terminal := NewMockLoader(MockStatus(http.StatusOK, "fresh"))
	chain := NewChain(terminal, NewCacheLoader(store, WithClock(clock.Now)))

	resp, _ := chain.Load(context.Background(), cachedGet("/a", WithLimit(time.Minute))).Response()

	assert.Equal(t, "fresh", string(resp.Body))
	store.AssertExpectations(t)
}

func TestCacheLoader_AuthPolicy(t *testing.T) {
	store := cache.NewMemoryStore()
	terminal := NewMockLoader(MockStatus(http.StatusOK, "ok"))
	l := NewCacheLoader(store, WithAuthCachePolicy(NoAuthenticatedCaching))
	chain := NewChain(terminal, l)

	authed := cachedGet("/me", WithoutExpiry()).WithAuth(request.AuthBearer)
	assert.True(t, l.Policy(authed).IsNever())

	chain.Load(context.Background(), authed)
	assert.Zero(t, store.Len())

	public := cachedGet("/public", WithoutExpiry())
	assert.False(t, l.Policy(public).IsNever())
	chain.Load(context.Background(), public)
	assert.Equal(t, 1, store.Len())
}

func TestCacheLoader_Metrics(t *testing.T) {
	mp, reader := newTestMeterProvider()
	terminal := NewMockLoader(MockStatus(http.StatusOK, "ok"))
	chain := NewChain(terminal, NewCacheLoader(cache.NewMemoryStore(), WithCacheMeterProvider(mp)))
	req := cachedGet("/a", WithLimit(time.Minute))

	chain.Load(context.Background(), req)
	chain.Load(context.Background(), req)

	assert.Equal(t, int64(2), sumInt64(t, reader, "http.client.cache.lookups"))
	assert.Equal(t, int64(1), sumInt64(t, reader, "http.client.cache.writes"))
}

func TestCachePolicy(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	until := now.Add(72 * time.Hour)

	tests := []struct {
		name       string
		policy     CachePolicy
		wantExpiry time.Time
		wantString string
	}{
		{"given Never, then expires immediately", Never(), now, "never"},
		{"given WithLimit, then expires after limit", WithLimit(time.Hour), now.Add(time.Hour), "with_limit(1h0m0s)"},
		{"given UntilDate, then expires at date", UntilDate(until), until, "until_date(2024-01-18T10:00:00Z)"},
		{"given WithoutExpiry, then expires after default lifetime", WithoutExpiry(), now.Add(DefaultCacheLifetime), "without_expiry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantExpiry, tt.policy.ExpiresAt(now))
			assert.Equal(t, tt.wantString, tt.policy.String())
		})
	}

	assert.True(t, request.Lookup(newGet("/"), CachePolicyCapability).IsNever())
}
