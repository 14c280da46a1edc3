package query

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for query operations.
var (
	tracer = otel.Tracer("parseltongue.query")
	meter  = otel.Meter("parseltongue.query")
)

var (
	queryLatency metric.Float64Histogram
	queryResults metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"query_duration_seconds",
			metric.WithDescription("Duration of graph query operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryResults, err = meter.Int64Histogram(
			"query_result_count",
			metric.WithDescription("Number of results returned per query"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordQueryMetrics records metrics for a query operation.
func recordQueryMetrics(ctx context.Context, queryType string, duration time.Duration, resultCount int, truncated bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("query_type", queryType),
		attribute.Bool("truncated", truncated),
	)
	queryLatency.Record(ctx, duration.Seconds(), attrs)
	queryResults.Record(ctx, int64(resultCount), attrs)
}

// startQuerySpan creates a span for a query operation.
func startQuerySpan(ctx context.Context, queryType, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Query."+queryType,
		trace.WithAttributes(
			attribute.String("query.type", queryType),
			attribute.String("query.key", key),
		),
	)
}

// setQuerySpanResult sets the result attributes on a query span.
func setQuerySpanResult(span trace.Span, resultCount int, truncated bool) {
	span.SetAttributes(
		attribute.Int("query.result_count", resultCount),
		attribute.Bool("query.truncated", truncated),
	)
}
