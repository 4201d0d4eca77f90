package loader

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/kroma-labs/sentinel-loader/request"
)

// ErrNoMock is reported when a request requires a mock and none matches.
var ErrNoMock = errors.New("loader: no mock matches request")

// MockBehavior selects how a request interacts with a MockLoader.
type MockBehavior int

const (
	// MockPassthrough answers from a matching mock and forwards otherwise.
	MockPassthrough MockBehavior = iota

	// MockRequired answers from a matching mock and fails otherwise.
	MockRequired

	// MockBypass always forwards, ignoring mocks.
	MockBypass
)

// MockBehaviorCapability selects the mock behavior of a request.
var MockBehaviorCapability = request.NewCapability("loader.mock_behavior", MockPassthrough)

// WithMockBehavior returns a descriptor option setting the mock behavior.
func WithMockBehavior(b MockBehavior) request.Option {
	return request.WithCapability(MockBehaviorCapability, b)
}

// MockHandler answers a request. It reports false when the request is not
// one it handles.
type MockHandler func(ctx context.Context, req request.Descriptor) (Result, bool)

// MockLoader answers requests with scripted results and records every
// request it sees. Handlers are tried in registration order.
//
// Linked copies share handlers and recorded calls with the loader they were
// linked from, so a test keeps one *MockLoader to script and inspect.
//
//	mock := loader.NewMockLoader(
//	    loader.MockPath("/users/42", http.StatusOK, `{"id":42}`),
//	    loader.MockStatus(http.StatusNotFound, ""),
//	)
//	chain := loader.NewChain(mock, loader.NewEnvironmentLoader(env))
type MockLoader struct {
	state *mockState
	next  Loader
}

type mockState struct {
	mu       sync.RWMutex
	handlers []MockHandler
	calls    []request.Descriptor
}

// NewMockLoader returns a mock stage with the given handlers. It can be used
// as a terminal loader or linked in front of one.
func NewMockLoader(handlers ...MockHandler) *MockLoader {
	return &MockLoader{state: &mockState{handlers: append([]MockHandler(nil), handlers...)}}
}

// Handle appends handlers.
func (m *MockLoader) Handle(handlers ...MockHandler) *MockLoader {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.handlers = append(m.state.handlers, handlers...)
	return m
}

// Link implements Stage.
func (m *MockLoader) Link(next Loader) Loader {
	return &MockLoader{state: m.state, next: next}
}

// Load implements Loader.
func (m *MockLoader) Load(ctx context.Context, req request.Descriptor) Result {
	behavior := request.Lookup(req, MockBehaviorCapability)
	if behavior == MockBypass {
		return m.forward(ctx, req)
	}

	m.state.mu.Lock()
	m.state.calls = append(m.state.calls, req)
	handlers := append([]MockHandler(nil), m.state.handlers...)
	m.state.mu.Unlock()

	for _, h := range handlers {
		if res, ok := h(ctx, req); ok {
			return res.WithRequest(req)
		}
	}

	if behavior == MockRequired {
		return Failure(NewError(InvalidRequest, req, ErrNoMock))
	}
	return m.forward(ctx, req)
}

func (m *MockLoader) forward(ctx context.Context, req request.Descriptor) Result {
	if m.next == nil {
		return Failure(NewError(Unknown, req, ErrNoMock))
	}
	return m.next.Load(ctx, req)
}

// Calls returns the requests seen so far, oldest first.
func (m *MockLoader) Calls() []request.Descriptor {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	return append([]request.Descriptor(nil), m.state.calls...)
}

// CallCount returns the number of requests seen.
func (m *MockLoader) CallCount() int {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	return len(m.state.calls)
}

// LastCall returns the most recent request.
func (m *MockLoader) LastCall() (request.Descriptor, bool) {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	if len(m.state.calls) == 0 {
		return request.Descriptor{}, false
	}
	return m.state.calls[len(m.state.calls)-1], true
}

// Reset clears handlers and recorded calls.
func (m *MockLoader) Reset() {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.handlers = nil
	m.state.calls = nil
}

// MockFunc answers requests matched by match with respond.
func MockFunc(match func(request.Descriptor) bool, respond func(request.Descriptor) Result) MockHandler {
	return func(_ context.Context, req request.Descriptor) (Result, bool) {
		if match != nil && !match(req) {
			return Result{}, false
		}
		return respond(req), true
	}
}

// MockStatus answers every request with status and body.
func MockStatus(status int, body string) MockHandler {
	return MockFunc(nil, respondWith(status, nil, []byte(body)))
}

// MockPath answers requests for path with status and body.
func MockPath(path string, status int, body string) MockHandler {
	return MockFunc(matchPath(path), respondWith(status, nil, []byte(body)))
}

// MockJSON answers requests for path with v encoded as JSON.
func MockJSON(path string, status int, v any) MockHandler {
	data, err := json.Marshal(v)
	if err != nil {
		return MockFunc(matchPath(path), func(req request.Descriptor) Result {
			return Failure(NewError(Unknown, req, err))
		})
	}
	header := http.Header{"Content-Type": []string{request.ContentTypeJSON}}
	return MockFunc(matchPath(path), respondWith(status, header, data))
}

// MockError fails requests matched by match with kind. A nil match fails
// every request.
func MockError(match func(request.Descriptor) bool, kind Kind, err error) MockHandler {
	return MockFunc(match, func(req request.Descriptor) Result {
		return Failure(NewError(kind, req, err))
	})
}

// MockSequence answers successive matching requests with the given
// handlers in turn, repeating the last one once the sequence is used up.
func MockSequence(handlers ...MockHandler) MockHandler {
	var (
		mu sync.Mutex
		i  int
	)
	return func(ctx context.Context, req request.Descriptor) (Result, bool) {
		if len(handlers) == 0 {
			return Result{}, false
		}
		mu.Lock()
		h := handlers[i]
		if i < len(handlers)-1 {
			i++
		}
		mu.Unlock()
		return h(ctx, req)
	}
}

func matchPath(path string) func(request.Descriptor) bool {
	want := "/" + strings.TrimPrefix(path, "/")
	return func(req request.Descriptor) bool {
		return "/"+strings.TrimPrefix(req.Path, "/") == want
	}
}

func respondWith(status int, header http.Header, body []byte) func(request.Descriptor) Result {
	if header == nil {
		header = make(http.Header)
	}
	return func(req request.Descriptor) Result {
		return Success(Response{
			Request:    req,
			StatusCode: status,
			Header:     header.Clone(),
			Body:       append([]byte(nil), body...),
		})
	}
}
