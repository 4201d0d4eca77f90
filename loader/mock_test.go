package loader

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-loader/request"
)

func TestMockLoader_Behaviors(t *testing.T) {
	tests := []struct {
		name          string
		behavior      MockBehavior
		path          string
		wantBody      string
		wantKind      Kind
		wantForwarded int
		wantCalls     int
	}{
		{
			name:      "given passthrough and a match, then answers from mock",
			behavior:  MockPassthrough,
			path:      "/mocked",
			wantBody:  "mock",
			wantCalls: 1,
		},
		{
			name:          "given passthrough and no match, then forwards",
			behavior:      MockPassthrough,
			path:          "/other",
			wantBody:      "real",
			wantForwarded: 1,
			wantCalls:     1,
		},
		{
			name:      "given required and no match, then InvalidRequest",
			behavior:  MockRequired,
			path:      "/other",
			wantKind:  InvalidRequest,
			wantCalls: 1,
		},
		{
			name:          "given bypass and a match, then forwards without recording",
			behavior:      MockBypass,
			path:          "/mocked",
			wantBody:      "real",
			wantForwarded: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			downstream := NewMockLoader(MockStatus(http.StatusOK, "real"))
			stub := NewMockLoader(MockPath("/mocked", http.StatusOK, "mock"))
			chain := NewChain(downstream, stub)

			req := request.New(request.MethodGet, tt.path,
				request.WithHost("api.example.com"), WithMockBehavior(tt.behavior))
			res := chain.Load(context.Background(), req)

			if tt.wantKind != 0 {
				assert.ErrorIs(t, res.Err(), tt.wantKind)
				assert.ErrorIs(t, res.Err(), ErrNoMock)
			} else {
				resp, ok := res.Response()
				require.True(t, ok)
				assert.Equal(t, tt.wantBody, string(resp.Body))
			}
			assert.Equal(t, tt.wantForwarded, downstream.CallCount())
			assert.Equal(t, tt.wantCalls, stub.CallCount())
		})
	}
}

func TestMockLoader_TerminalWithoutMatch(t *testing.T) {
	res := NewMockLoader().Load(context.Background(), newGet("/"))

	assert.ErrorIs(t, res.Err(), Unknown)
	assert.ErrorIs(t, res.Err(), ErrNoMock)
}

func TestMockLoader_Handlers(t *testing.T) {
	t.Run("given JSON handler, then encodes body and content type", func(t *testing.T) {
		m := NewMockLoader(MockJSON("users/1", http.StatusOK, map[string]string{"name": "Ada"}))
		resp, ok := m.Load(context.Background(), newGet("/users/1")).Response()

		require.True(t, ok)
		assert.JSONEq(t, `{"name":"Ada"}`, string(resp.Body))
		assert.Equal(t, request.ContentTypeJSON, resp.Header.Get("Content-Type"))
	})

	t.Run("given unencodable JSON, then fails", func(t *testing.T) {
		m := NewMockLoader(MockJSON("/x", http.StatusOK, make(chan int)))
		assert.ErrorIs(t, m.Load(context.Background(), newGet("/x")).Err(), Unknown)
	})

	t.Run("given error handler, then fails with kind", func(t *testing.T) {
		cause := errors.New("refused")
		m := NewMockLoader(MockError(nil, CannotConnect, cause))
		res := m.Load(context.Background(), newGet("/"))

		assert.ErrorIs(t, res.Err(), CannotConnect)
		assert.ErrorIs(t, res.Err(), cause)
	})

	t.Run("given sequence, then repeats the last handler", func(t *testing.T) {
		m := NewMockLoader(MockSequence(
			MockStatus(http.StatusInternalServerError, ""),
			MockStatus(http.StatusOK, ""),
		))
		var statuses []int
		for i := 0; i < 3; i++ {
			statuses = append(statuses, m.Load(context.Background(), newGet("/")).StatusCode())
		}
		assert.Equal(t, []int{500, 200, 200}, statuses)
	})

	t.Run("given handlers in order, then first match wins", func(t *testing.T) {
		m := NewMockLoader(
			MockPath("/a", http.StatusOK, "a"),
			MockStatus(http.StatusNotFound, ""),
		)
		assert.Equal(t, http.StatusOK, m.Load(context.Background(), newGet("/a")).StatusCode())
		assert.Equal(t, http.StatusNotFound, m.Load(context.Background(), newGet("/b")).StatusCode())
	})
}

func TestMockLoader_Inspection(t *testing.T) {
	m := NewMockLoader()
	m.Handle(MockStatus(http.StatusOK, ""))

	_, ok := m.LastCall()
	assert.False(t, ok)

	first := newGet("/1")
	second := newGet("/2")
	m.Load(context.Background(), first)
	m.Load(context.Background(), second)

	assert.Equal(t, 2, m.CallCount())
	last, ok := m.LastCall()
	require.True(t, ok)
	assert.Equal(t, second.ID, last.ID)
	assert.Equal(t, []string{"/1", "/2"}, []string{m.Calls()[0].Path, m.Calls()[1].Path})

	m.Reset()
	assert.Zero(t, m.CallCount())
	assert.ErrorIs(t, m.Load(context.Background(), first).Err(), ErrNoMock)
}

func TestMockLoader_ResultAttributedToRequest(t *testing.T) {
	other := newGet("/elsewhere")
	m := NewMockLoader(MockFunc(nil, func(request.Descriptor) Result {
		return Success(Response{Request: other, StatusCode: http.StatusOK})
	}))
	req := newGet("/")

	assert.Equal(t, req.ID, m.Load(context.Background(), req).Request().ID)
}
