package cache

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerScope is the instrumentation scope of SQLStore spans.
const tracerScope = "github.com/kroma-labs/sentinel-loader/cache"

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLTracerProvider traces every statement the store runs.
//
// Default: otel.GetTracerProvider()
func WithSQLTracerProvider(tp trace.TracerProvider) SQLOption {
	return func(s *SQLStore) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerScope)
		}
	}
}

// WithDBSystem sets the db.system span attribute, e.g. "postgresql".
func WithDBSystem(system string) SQLOption {
	return func(s *SQLStore) {
		s.dbSystem = system
	}
}

// startSpan opens a client span for query. Store queries carry only
// placeholders, so the statement is recorded verbatim.
func (s *SQLStore) startSpan(ctx context.Context, query string) (context.Context, trace.Span) {
	op := sqlOperation(query)
	name := "cache"
	if op != "" {
		name += " " + op
	}

	attrs := make([]attribute.KeyValue, 0, 4)
	if s.dbSystem != "" {
		attrs = append(attrs, attribute.String("db.system", s.dbSystem))
	}
	attrs = append(attrs,
		attribute.String("db.sql.table", s.table),
		attribute.String("db.statement", query),
	)
	if op != "" {
		attrs = append(attrs, attribute.String("db.operation", op))
	}

	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records err, except a missing row, and ends span.
func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// sqlOperation returns the upper-cased first word of query.
func sqlOperation(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	if i := strings.IndexAny(query, " \t\n\r"); i != -1 {
		query = query[:i]
	}
	return strings.ToUpper(query)
}
