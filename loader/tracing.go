package loader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-loader/request"
)

// TracingLoader wraps each traversal below it in a client span, injects the
// trace context into the request headers and records request metrics.
//
// Place it above RetryLoader to get one span per logical request with a
// "retry" event per resubmission, or below it to get one span per attempt.
type TracingLoader struct {
	tracer      trace.Tracer
	propagator  propagation.TextMapPropagator
	metrics     *metrics
	serviceName string
	next        Loader
}

// TracingOption configures a TracingLoader.
type TracingOption func(*tracingConfig)

type tracingConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	serviceName    string
}

// WithTracerProvider sets the tracer provider.
//
// Default: otel.GetTracerProvider()
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *tracingConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider.
//
// Default: otel.GetMeterProvider()
func WithMeterProvider(mp metric.MeterProvider) TracingOption {
	return func(c *tracingConfig) {
		c.meterProvider = mp
	}
}

// WithPropagator sets the propagator injecting trace context.
//
// Default: W3C trace context and baggage
func WithPropagator(p propagation.TextMapPropagator) TracingOption {
	return func(c *tracingConfig) {
		c.propagator = p
	}
}

// WithServiceName adds a service.name attribute to spans and metrics.
func WithServiceName(name string) TracingOption {
	return func(c *tracingConfig) {
		c.serviceName = name
	}
}

// NewTracingLoader returns a tracing stage.
func NewTracingLoader(opts ...TracingOption) *TracingLoader {
	c := &tracingConfig{}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	if c.propagator == nil {
		c.propagator = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}
	return &TracingLoader{
		tracer:      c.tracerProvider.Tracer(scope),
		propagator:  c.propagator,
		metrics:     metricsFrom(c.meterProvider),
		serviceName: c.serviceName,
	}
}

// Link implements Stage.
func (l *TracingLoader) Link(next Loader) Loader {
	linked := *l
	linked.next = next
	return &linked
}

// Load implements Loader.
func (l *TracingLoader) Load(ctx context.Context, req request.Descriptor) Result {
	if l.next == nil {
		return notLinked(req)
	}

	start := time.Now()
	method := req.EffectiveMethod().String()

	ctx, span := l.tracer.Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(l.requestAttributes(req)...),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	l.propagator.Inject(ctx, carrier)
	if len(carrier) > 0 {
		req = req.WithHeaders(carrier)
	}

	base := l.baseAttributes()
	l.metrics.recordActiveRequestStart(ctx, base)
	defer l.metrics.recordActiveRequestEnd(ctx, base)

	res := l.next.Load(ctx, req)
	duration := time.Since(start)

	attrs := append(base, attribute.String("http.request.method", method))
	if status := res.StatusCode(); status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
		if status >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}

	if failure, ok := res.Failure(); ok {
		span.SetAttributes(attribute.String("error.type", failure.Kind.String()))
		span.SetStatus(codes.Error, failure.Error())
		if failure.Err != nil {
			span.RecordError(failure.Err)
		}
		l.metrics.recordError(ctx, failure.Kind, base)
		attrs = append(attrs, attribute.String("error.type", failure.Kind.String()))
	} else if resp, ok := res.Response(); ok {
		span.SetAttributes(attribute.Int("http.response.body.size", len(resp.Body)))
	}
	if req.RetryCount > 0 || res.Request().RetryCount > 0 {
		span.SetAttributes(attribute.Int("http.request.resend_count", res.Request().RetryCount))
	}

	l.metrics.recordRequestDuration(ctx, duration, attrs)
	return res
}

func (l *TracingLoader) baseAttributes() []attribute.KeyValue {
	if l.serviceName == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("service.name", l.serviceName)}
}

func (l *TracingLoader) requestAttributes(req request.Descriptor) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)
	attrs = append(attrs, l.baseAttributes()...)
	attrs = append(attrs,
		attribute.String("http.request.method", req.EffectiveMethod().String()),
		attribute.String("request.id", req.ID),
	)

	u, err := req.URL()
	if err != nil {
		return attrs
	}
	attrs = append(attrs,
		attribute.String("url.full", u.String()),
		attribute.String("url.scheme", u.Scheme),
		attribute.String("server.address", u.Hostname()),
	)
	if port := u.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
	} else {
		switch u.Scheme {
		case "http":
			attrs = append(attrs, attribute.Int("server.port", 80))
		case "https":
			attrs = append(attrs, attribute.Int("server.port", 443))
		}
	}
	if ua := req.Header("User-Agent"); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}
