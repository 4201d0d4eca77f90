package loader

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-loader/request"
)

// Retry defaults.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

// RetryConfig bounds resubmission of failed responses.
type RetryConfig struct {
	// MaxRetries is the number of resubmissions allowed after the first
	// attempt. Zero disables retries.
	MaxRetries int

	// InitialInterval is the delay before the first resubmission. Zero
	// resubmits immediately.
	InitialInterval time.Duration

	// MaxInterval caps the delay between resubmissions.
	MaxInterval time.Duration

	// Multiplier grows the delay after each resubmission.
	Multiplier float64

	// JitterFactor randomizes each delay by up to this fraction, in [0, 1].
	JitterFactor float64
}

// DefaultRetryConfig returns 3 retries with exponential backoff from 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
	}
}

// NoDelayRetryConfig returns a config resubmitting immediately, up to
// maxRetries times.
func NoDelayRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries}
}

// AggressiveRetryConfig returns 5 retries with short delays, for
// latency-tolerant idempotent reads.
func AggressiveRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
		JitterFactor:    0.3,
	}
}

// Delay returns the wait before resubmission number attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if c.InitialInterval <= 0 || attempt <= 0 {
		return 0
	}

	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxInterval := c.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialInterval,
		RandomizationFactor: clamp01(c.JitterFactor),
		Multiplier:          multiplier,
		MaxInterval:         maxInterval,
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// RetryLoader resubmits requests whose response status is outside
// [200, 300).
//
// A request is resubmitted only when it is marked retryable and its retry
// count is below MaxRetries. The resubmitted descriptor is the one carried
// by the result, with its retry count incremented, and it re-enters this
// stage, so the bound holds however the chain is re-entered. Results
// without a response (connectivity failures, cancellation, invalid
// requests) are returned unchanged.
type RetryLoader struct {
	cfg     RetryConfig
	retryOn func(status int) bool
	metrics *metrics
	next    Loader
}

// RetryOption configures a RetryLoader.
type RetryOption func(*RetryLoader)

// WithRetryOn narrows which non-2xx statuses are resubmitted.
func WithRetryOn(fn func(status int) bool) RetryOption {
	return func(l *RetryLoader) {
		if fn != nil {
			l.retryOn = fn
		}
	}
}

// WithRetryMeterProvider sets the meter provider for retry metrics.
//
// Default: otel.GetMeterProvider()
func WithRetryMeterProvider(mp metric.MeterProvider) RetryOption {
	return func(l *RetryLoader) {
		l.metrics = metricsFrom(mp)
	}
}

// NewRetryLoader returns a retry stage.
func NewRetryLoader(cfg RetryConfig, opts ...RetryOption) *RetryLoader {
	l := &RetryLoader{
		cfg:     cfg,
		retryOn: func(int) bool { return true },
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
func (l *RetryLoader) Link(next Loader) Loader {
	linked := *l
	linked.next = next
	return &linked
}

// Load implements Loader.
func (l *RetryLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}

	res := l.next.Load(ctx, req)
	if !l.failedResponse(res) {
		return res
	}

	sent := res.Request()
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", sent.EffectiveMethod().String()),
		attribute.Int("http.response.status_code", res.StatusCode()),
	}

	if !sent.CanRetry {
		return res
	}
	if sent.RetryCount >= l.cfg.MaxRetries {
		if sent.RetryCount > 0 {
			l.metrics.recordRetryExhausted(ctx, attrs)
		}
		return res
	}

	retry := sent.NextRetry()
	delay := l.cfg.Delay(retry.RetryCount)

	trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
		attribute.Int("retry.attempt", retry.RetryCount),
		attribute.Int("http.response.status_code", res.StatusCode()),
		attribute.String("retry.delay", delay.String()),
	))

	if err := sleep(ctx, delay); err != nil {
		return Failure(NewError(contextKind(err), sent, err))
	}

	l.metrics.recordRetryAttempt(ctx, retry.RetryCount, attrs)
	return l.Load(ctx, retry)
}

// failedResponse reports whether res carries a server response with a
// status outside [200, 300).
func (l *RetryLoader) failedResponse(res Result) bool {
	status := res.StatusCode()
	if status == 0 || (status >= 200 && status < 300) {
		return false
	}
	return l.retryOn(status)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
