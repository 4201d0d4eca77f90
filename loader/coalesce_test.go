package loader

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-loader/request"
)

// blockingMock answers once release is closed and signals the first call on
// started.
func blockingMock(started chan<- struct{}, release <-chan struct{}) *MockLoader {
	var once sync.Once
	return NewMockLoader(MockFunc(nil, func(req request.Descriptor) Result {
		once.Do(func() { close(started) })
		<-release
		return Success(Response{
			Request:    req,
			StatusCode: http.StatusOK,
			Header:     http.Header{"X-Source": {"origin"}},
			Body:       []byte("shared"),
		})
	}))
}

func TestCoalesceLoader_SharesConcurrentGets(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	terminal := blockingMock(started, release)
	chain := NewChain(terminal, NewCoalesceLoader())

	const callers = 5
	reqs := make([]request.Descriptor, callers)
	results := make([]Result, callers)
	for i := range reqs {
		reqs[i] = newGet("/feed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = chain.Load(context.Background(), reqs[0])
	}()
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = chain.Load(context.Background(), reqs[i])
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, terminal.CallCount())
	for i, res := range results {
		resp, ok := res.Response()
		require.True(t, ok)
		assert.Equal(t, "shared", string(resp.Body))
		assert.Equal(t, reqs[i].ID, res.Request().ID, "result must be attributed to its caller")
	}
}

func TestCoalesceLoader_SharedResultsAreIndependent(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	terminal := blockingMock(started, release)
	chain := NewChain(terminal, NewCoalesceLoader())

	results := make([]Result, 3)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = chain.Load(context.Background(), newGet("/feed"))
	}()
	<-started
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = chain.Load(context.Background(), newGet("/feed"))
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, 1, terminal.CallCount())

	first, ok := results[0].Response()
	require.True(t, ok)
	first.Body[0] = 'X'
	first.Header.Set("X-Source", "changed")

	for _, res := range results[1:] {
		resp, ok := res.Response()
		require.True(t, ok)
		assert.Equal(t, "shared", string(resp.Body))
		assert.Equal(t, "origin", resp.Header.Get("X-Source"))
	}
}

func TestCoalesceLoader_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		reqs []request.Descriptor
	}{
		{
			name: "given non-GET requests, then each is sent",
			reqs: []request.Descriptor{
				request.New(request.MethodPost, "/feed", request.WithHost("api.example.com")),
				request.New(request.MethodPost, "/feed", request.WithHost("api.example.com")),
			},
		},
		{
			name: "given different headers, then not merged",
			reqs: []request.Descriptor{
				newGet("/feed").WithHeader("Accept-Language", "en"),
				newGet("/feed").WithHeader("Accept-Language", "fr"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan struct{})
			release := make(chan struct{})
			terminal := blockingMock(started, release)
			chain := NewChain(terminal, NewCoalesceLoader())

			var wg sync.WaitGroup
			for _, req := range tt.reqs {
				wg.Add(1)
				go func(req request.Descriptor) {
					defer wg.Done()
					chain.Load(context.Background(), req)
				}(req)
			}
			<-started
			time.Sleep(50 * time.Millisecond)
			close(release)
			wg.Wait()

			assert.Equal(t, len(tt.reqs), terminal.CallCount())
		})
	}
}

func TestCoalesceLoader_WaiterCancelled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	terminal := blockingMock(started, release)
	chain := NewChain(terminal, NewCoalesceLoader())

	leader := make(chan Result, 1)
	go func() { leader <- chain.Load(context.Background(), newGet("/feed")) }()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	res := chain.Load(ctx, newGet("/feed"))
	assert.ErrorIs(t, res.Err(), Cancelled)

	expiring, cancelExpiring := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelExpiring()
	res = chain.Load(expiring, newGet("/feed"))
	assert.ErrorIs(t, res.Err(), CannotConnect)
	assert.ErrorIs(t, res.Err(), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, (<-leader).Err())
	assert.Equal(t, 1, terminal.CallCount())
}

func TestCoalesceKey(t *testing.T) {
	a, ok := coalesceKey(newGet("/x").WithHeader("A", "1").WithHeader("B", "2"))
	require.True(t, ok)
	b, _ := coalesceKey(newGet("/x").WithHeader("B", "2").WithHeader("A", "1"))
	c, _ := coalesceKey(newGet("/y"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, ok = coalesceKey(request.New(request.MethodGet, "/x"))
	assert.False(t, ok)
}
