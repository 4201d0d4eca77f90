package loader

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/kroma-labs/sentinel-loader/cache"
	"github.com/kroma-labs/sentinel-loader/request"
)

// DefaultCacheLifetime is the lifetime of entries cached WithoutExpiry.
const DefaultCacheLifetime = 24 * time.Hour

type cacheMode int

const (
	cacheNever cacheMode = iota
	cacheWithLimit
	cacheUntilDate
	cacheWithoutExpiry
)

// CachePolicy decides whether and how long a response is cached.
type CachePolicy struct {
	mode  cacheMode
	limit time.Duration
	until time.Time
}

// Never bypasses the cache. It is the default policy.
func Never() CachePolicy {
	return CachePolicy{mode: cacheNever}
}

// WithLimit caches responses for d after they are written.
func WithLimit(d time.Duration) CachePolicy {
	return CachePolicy{mode: cacheWithLimit, limit: d}
}

// UntilDate caches responses until t.
func UntilDate(t time.Time) CachePolicy {
	return CachePolicy{mode: cacheUntilDate, until: t}
}

// WithoutExpiry caches responses for DefaultCacheLifetime.
func WithoutExpiry() CachePolicy {
	return CachePolicy{mode: cacheWithoutExpiry}
}

// IsNever reports whether the policy bypasses the cache.
func (p CachePolicy) IsNever() bool {
	return p.mode == cacheNever
}

// ExpiresAt returns the expiry of an entry written at now.
func (p CachePolicy) ExpiresAt(now time.Time) time.Time {
	switch p.mode {
	case cacheWithLimit:
		return now.Add(p.limit)
	case cacheUntilDate:
		return p.until
	case cacheWithoutExpiry:
		return now.Add(DefaultCacheLifetime)
	default:
		return now
	}
}

func (p CachePolicy) String() string {
	switch p.mode {
	case cacheWithLimit:
		return "with_limit(" + p.limit.String() + ")"
	case cacheUntilDate:
		return "until_date(" + p.until.Format(time.RFC3339) + ")"
	case cacheWithoutExpiry:
		return "without_expiry"
	default:
		return "never"
	}
}

// CachePolicyCapability selects the cache policy of a request.
var CachePolicyCapability = request.NewCapability("loader.cache_policy", Never())

// WithCachePolicy returns a descriptor option setting the cache policy.
func WithCachePolicy(p CachePolicy) request.Option {
	return request.WithCapability(CachePolicyCapability, p)
}

// AuthCachePolicy derives the effective cache policy from the request's
// auth method and its own policy.
type AuthCachePolicy func(method request.AuthMethod, policy CachePolicy) CachePolicy

// NoAuthenticatedCaching disables caching for authenticated requests.
func NoAuthenticatedCaching(method request.AuthMethod, policy CachePolicy) CachePolicy {
	if method != request.AuthNone {
		return Never()
	}
	return policy
}

// CacheLoader answers requests from a keyed store.
//
// Requests whose policy is Never bypass the store. Otherwise the resolved
// URL is the key: a fresh entry is returned without calling onward, a stale
// one is evicted, and a 2xx Success from downstream is written with an
// expiry computed from the policy. Failures and non-2xx responses are never
// written. Requests without a resolvable URL are forwarded uncached.
//
// Store errors are logged and treated as misses.
type CacheLoader struct {
	store      cache.Store
	now        func() time.Time
	authPolicy AuthCachePolicy
	logger     zerolog.Logger
	metrics    *metrics
	next       Loader
}

// CacheOption configures a CacheLoader.
type CacheOption func(*CacheLoader)

// WithClock sets the clock used for freshness and expiry.
//
// Default: time.Now
func WithClock(now func() time.Time) CacheOption {
	return func(l *CacheLoader) {
		if now != nil {
			l.now = now
		}
	}
}

// WithAuthCachePolicy installs a hook adjusting the policy per auth method.
// Without a hook the request's own policy is used.
func WithAuthCachePolicy(fn AuthCachePolicy) CacheOption {
	return func(l *CacheLoader) {
		l.authPolicy = fn
	}
}

// WithCacheLogger sets the logger for tolerated store errors.
//
// Default: zerolog.Nop()
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(l *CacheLoader) {
		l.logger = logger
	}
}

// WithCacheMeterProvider sets the meter provider for cache metrics.
//
// Default: otel.GetMeterProvider()
func WithCacheMeterProvider(mp metric.MeterProvider) CacheOption {
	return func(l *CacheLoader) {
		l.metrics = metricsFrom(mp)
	}
}

// NewCacheLoader returns a cache stage backed by store.
func NewCacheLoader(store cache.Store, opts ...CacheOption) *CacheLoader {
	l := &CacheLoader{
		store:  store,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = metricsFrom(nil)
	}
	return l
}

// Link implements Stage.
func (l *CacheLoader) Link(next Loader) Loader {
	linked := *l
	linked.next = next
	return &linked
}

// Policy returns the effective cache policy of req.
func (l *CacheLoader) Policy(req request.Descriptor) CachePolicy {
	policy := request.Lookup(req, CachePolicyCapability)
	if l.authPolicy != nil {
		policy = l.authPolicy(req.Auth(), policy)
	}
	return policy
}

// Load implements Loader.
func (l *CacheLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}

	policy := l.Policy(req)
	if policy.IsNever() {
		return l.next.Load(ctx, req)
	}

	u, err := req.URL()
	if err != nil {
		return l.next.Load(ctx, req)
	}
	key := u.String()

	if res, ok := l.lookup(ctx, req, key); ok {
		return res
	}

	res := l.next.Load(ctx, req)
	if resp, ok := res.Response(); ok && resp.IsValid() {
		l.write(ctx, key, policy, resp)
	}
	return res
}

// lookup returns a cached Result for a fresh entry and evicts stale ones.
func (l *CacheLoader) lookup(ctx context.Context, req request.Descriptor, key string) (Result, bool) {
	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("cache lookup failed")
		l.metrics.recordCacheLookup(ctx, "error")
		return Result{}, false
	}
	if !ok {
		l.metrics.recordCacheLookup(ctx, "miss")
		return Result{}, false
	}

	if !entry.FreshAt(l.now()) {
		l.metrics.recordCacheLookup(ctx, "stale")
		if err := l.store.Remove(ctx, key); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("cache eviction failed")
		}
		return Result{}, false
	}

	l.metrics.recordCacheLookup(ctx, "hit")
	return Success(Response{
		Request:    req,
		StatusCode: entry.StatusCode,
		Header:     entry.Header,
		Body:       entry.Body,
	}), true
}

func (l *CacheLoader) write(ctx context.Context, key string, policy CachePolicy, resp Response) {
	now := l.now()
	entry := cache.Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		StoredAt:   now,
		ExpiresAt:  policy.ExpiresAt(now),
	}
	if !entry.FreshAt(now) {
		return
	}
	if err := l.store.Put(ctx, key, entry); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return
	}
	l.metrics.recordCacheWrite(ctx)
}
