package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/robertor4/transcribe-sub002/job"
)

const meterName = "github.com/robertor4/transcribe-sub002"

// Metrics records job duration and outcome counts with the global OTel
// meter provider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an injected meter, for tests.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, dErr := meter.Float64Histogram(
		"transcribe.job.duration",
		metric.WithDescription("Job processing duration"),
		metric.WithUnit("s"),
	)
	executions, eErr := meter.Int64Counter(
		"transcribe.job.executions",
		metric.WithDescription("Job executions by outcome"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract
	_ = eErr

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx, j)
		elapsed := time.Since(start).Seconds()

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		attrs := metric.WithAttributes(
			attribute.String("outcome", outcome),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
