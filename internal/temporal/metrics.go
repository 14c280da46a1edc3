package temporal

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("parseltongue.temporal")
	meter  = otel.Meter("parseltongue.temporal")
)

var (
	batchLatency metric.Float64Histogram
	batchTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		batchLatency, err = meter.Float64Histogram(
			"batch_apply_duration_seconds",
			metric.WithDescription("Duration of batch planning and commit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		batchTotal, err = meter.Int64Counter(
			"batch_apply_total",
			metric.WithDescription("Batches applied or rejected"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func startBatchSpan(ctx context.Context, batchID string, changes int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Temporal.ApplyBatch",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.changes", changes),
		),
	)
}

// recordBatch ends the span status and records the outcome.
func recordBatch(ctx context.Context, span trace.Span, d time.Duration, err error) {
	outcome := "applied"
	if err != nil {
		outcome = "rejected"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	batchLatency.Record(ctx, d.Seconds(), attrs)
	batchTotal.Add(ctx, 1, attrs)
}
