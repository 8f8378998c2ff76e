package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertor4/transcribe-sub002/job"
)

// Tracing wraps each job in a span using the global OTel tracer provider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(meterName))
}

// TracingWithTracer is Tracing with an injected tracer, for tests.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "transcribe.process",
			trace.WithAttributes(
				attribute.String("transcription.id", j.TranscriptionID.String()),
				attribute.String("user.id", j.UserID),
				attribute.Int("job.attempt", j.Attempt),
			),
		)
		defer span.End()

		err := next(ctx, j)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
