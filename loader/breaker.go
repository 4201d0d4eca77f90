package loader

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
	"go.opentelemetry.io/otel/metric"

	"github.com/kroma-labs/sentinel-loader/request"
)

// NewRedisBreakerStore returns a shared breaker state store on Redis, so
// several processes trip and recover one circuit together.
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := loader.DefaultBreakerConfig()
//	cfg.Store = loader.NewRedisBreakerStore(rdb)
func NewRedisBreakerStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerClassifier reports whether a result counts as a breaker failure.
type BreakerClassifier func(Result) bool

// DefaultBreakerClassifier counts connectivity failures and 5xx responses.
// Cancellation and client-side failures do not count.
func DefaultBreakerClassifier(res Result) bool {
	if status := res.StatusCode(); status != 0 {
		return status >= 500
	}
	failure, ok := res.Failure()
	if !ok {
		return false
	}
	switch failure.Kind {
	case CannotConnect, InsecureConnection, InvalidResponse:
		return true
	default:
		return false
	}
}

// BreakerConfig configures a BreakerLoader.
//
// Concepts:
//   - Closed: normal state, requests flow.
//   - Open: requests fail immediately with CannotConnect.
//   - Half-open: a limited number of trial requests test recovery.
type BreakerConfig struct {
	// Name identifies the breaker in metrics and in a shared store.
	//
	// Default: "sentinel-loader"
	Name string

	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period after which closed-state counts reset.
	// Zero never resets them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests before the ratio
	// rule applies.
	FailureThreshold uint32

	// FailureRatio trips the breaker when failures/requests reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after this many failures in a
	// row, regardless of FailureThreshold. Zero disables the rule.
	ConsecutiveFailures uint32

	// Store shares breaker state across processes. Nil keeps it local.
	Store gobreaker.SharedDataStore

	// Classifier decides which results are failures.
	//
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is called on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a local breaker that opens after 5
// consecutive failures or a 50% failure ratio over at least 20 requests.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "sentinel-loader",
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// errBreakerFailure signals the breaker that a result failed while the
// result itself is passed back unchanged.
var errBreakerFailure = errors.New("breaker failure")

// circuitBreaker is the Execute half shared by the local and distributed
// gobreaker implementations.
type circuitBreaker interface {
	Execute(req func() (Result, error)) (Result, error)
}

// BreakerLoader guards the rest of the chain with a circuit breaker.
type BreakerLoader struct {
	name       string
	breaker    circuitBreaker
	local      *gobreaker.CircuitBreaker[Result]
	observed   *atomic.Int32
	classifier BreakerClassifier
	metrics    *metrics
	next       Loader
}

// BreakerOption configures a BreakerLoader.
type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	meterProvider metric.MeterProvider
}

// WithBreakerMeterProvider sets the meter provider for breaker metrics.
//
// Default: otel.GetMeterProvider()
func WithBreakerMeterProvider(mp metric.MeterProvider) BreakerOption {
	return func(o *breakerOptions) {
		o.meterProvider = mp
	}
}

// NewBreakerLoader returns a breaker stage. Every chain the stage is linked
// into shares the same breaker.
//
// It fails only when cfg.Store is set and the distributed breaker cannot
// be created.
func NewBreakerLoader(cfg BreakerConfig, opts ...BreakerOption) (*BreakerLoader, error) {
	o := &breakerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Name == "" {
		cfg.Name = "sentinel-loader"
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultBreakerClassifier
	}

	l := &BreakerLoader{
		name:       cfg.Name,
		observed:   &atomic.Int32{},
		classifier: cfg.Classifier,
		metrics:    metricsFrom(o.meterProvider),
	}

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
				return false
			}
			if cfg.FailureRatio > 0 && counts.Requests > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.observed.Store(int32(to))
			l.metrics.recordBreakerState(context.Background(), name, int64(to))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	if cfg.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[Result](cfg.Store, st)
		if err != nil {
			return nil, err
		}
		l.breaker = dcb
	} else {
		l.local = gobreaker.NewCircuitBreaker[Result](st)
		l.breaker = l.local
	}
	return l, nil
}

// Link implements Stage.
func (l *BreakerLoader) Link(next Loader) Loader {
	linked := *l
	linked.next = next
	return &linked
}

// State returns the breaker state. For a shared breaker this is the last
// state this process observed.
func (l *BreakerLoader) State() gobreaker.State {
	if l.local != nil {
		return l.local.State()
	}
	return gobreaker.State(l.observed.Load())
}

// Load implements Loader.
func (l *BreakerLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}

	res, err := l.breaker.Execute(func() (Result, error) {
		res := l.next.Load(ctx, req)
		if l.classifier(res) {
			return res, errBreakerFailure
		}
		return res, nil
	})

	switch {
	case err == nil:
		l.metrics.recordBreakerRequest(ctx, l.name, "success")
		return res
	case errors.Is(err, errBreakerFailure):
		l.metrics.recordBreakerRequest(ctx, l.name, "failure")
		return res
	default:
		// Open state or too many half-open trial requests.
		l.metrics.recordBreakerRequest(ctx, l.name, "rejected")
		return Failure(NewError(CannotConnect, req, err))
	}
}
