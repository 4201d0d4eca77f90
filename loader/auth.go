package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kroma-labs/sentinel-loader/request"
)

// ErrNoTokenSource is reported when a request asks for an auth method the
// AuthLoader has no credential source for.
var ErrNoTokenSource = errors.New("loader: no token source for auth method")

// TokenSource returns the current credential.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a source that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// TokenFetcher obtains a fresh credential and its expiry.
type TokenFetcher func(ctx context.Context) (token string, expiresAt time.Time, err error)

// RefreshingToken returns a source that caches the fetched token until it
// is within leeway of its expiry. Concurrent refreshes share one fetch.
func RefreshingToken(fetch TokenFetcher, leeway time.Duration) TokenSource {
	var (
		mu        sync.RWMutex
		token     string
		expiresAt time.Time
		group     singleflight.Group
	)

	return func(ctx context.Context) (string, error) {
		mu.RLock()
		cached, valid := token, token != "" && time.Now().Add(leeway).Before(expiresAt)
		mu.RUnlock()
		if valid {
			return cached, nil
		}

		v, err, _ := group.Do("token", func() (any, error) {
			t, exp, err := fetch(ctx)
			if err != nil {
				return "", err
			}
			mu.Lock()
			token, expiresAt = t, exp
			mu.Unlock()
			return t, nil
		})
		if err != nil {
			return "", err
		}
		return v.(string), nil
	}
}

// AuthLoader attaches credentials according to the request's
// request.AuthMethodCapability. A failure to obtain a credential
// short-circuits with TokenRefreshFailure.
type AuthLoader struct {
	bearer       TokenSource
	apiKey       TokenSource
	apiKeyHeader string
	next         Loader
}

// AuthOption configures an AuthLoader.
type AuthOption func(*AuthLoader)

// WithBearerSource sets the source for request.AuthBearer requests.
func WithBearerSource(ts TokenSource) AuthOption {
	return func(l *AuthLoader) {
		l.bearer = ts
	}
}

// WithAPIKeySource sets the header and source for request.AuthAPIKey
// requests. An empty header defaults to X-API-Key.
func WithAPIKeySource(header string, ts TokenSource) AuthOption {
	return func(l *AuthLoader) {
		if header == "" {
			header = "X-API-Key"
		}
		l.apiKeyHeader = header
		l.apiKey = ts
	}
}

// NewAuthLoader returns an auth stage.
func NewAuthLoader(opts ...AuthOption) *AuthLoader {
	l := &AuthLoader{apiKeyHeader: "X-API-Key"}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Link implements Stage.
func (l *AuthLoader) Link(next Loader) Loader {
	linked := *l
	linked.next = next
	return &linked
}

// Load implements Loader.
func (l *AuthLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}

	method := req.Auth()
	var (
		source TokenSource
		header string
		prefix string
	)
	switch method {
	case request.AuthNone:
		return l.next.Load(ctx, req)
	case request.AuthBearer:
		source, header, prefix = l.bearer, "Authorization", "Bearer "
	case request.AuthAPIKey:
		source, header = l.apiKey, l.apiKeyHeader
	}

	if source == nil {
		return Failure(NewError(TokenRefreshFailure, req, fmt.Errorf("%w: %s", ErrNoTokenSource, method)))
	}

	token, err := source(ctx)
	if err != nil {
		kind := TokenRefreshFailure
		if errors.Is(err, context.Canceled) {
			kind = Cancelled
		}
		return Failure(NewError(kind, req, err))
	}
	return l.next.Load(ctx, req.WithHeader(header, prefix+token))
}
