package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/job"
)

const meterName = "github.com/robertor4/transcribe-sub002"

// Metrics counts lifecycle events. Register it on the extension registry.
type Metrics struct {
	submitted metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	recovered metric.Int64Counter
	swept     metric.Int64Counter
	purged    metric.Int64Counter
}

var (
	_ ext.Extension          = (*Metrics)(nil)
	_ ext.JobSubmittedHook   = (*Metrics)(nil)
	_ ext.JobCompletedHook   = (*Metrics)(nil)
	_ ext.JobFailedHook      = (*Metrics)(nil)
	_ ext.JobRecoveredHook   = (*Metrics)(nil)
	_ ext.JobSweptHook       = (*Metrics)(nil)
	_ ext.ArtifactPurgedHook = (*Metrics)(nil)
)

// New creates the metrics extension on the global meter provider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter is New with an injected meter, for tests.
func NewWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}
	// Creation errors are ignored throughout: the OTel API contract
	// guarantees a noop instrument on failure.
	m.submitted, _ = meter.Int64Counter("transcribe.jobs.submitted", //nolint:errcheck
		metric.WithDescription("Jobs submitted"))
	m.completed, _ = meter.Int64Counter("transcribe.jobs.completed", //nolint:errcheck
		metric.WithDescription("Jobs completed"))
	m.failed, _ = meter.Int64Counter("transcribe.jobs.failed", //nolint:errcheck
		metric.WithDescription("Jobs failed"))
	m.recovered, _ = meter.Int64Counter("transcribe.jobs.recovered", //nolint:errcheck
		metric.WithDescription("Orphaned jobs recovered"))
	m.swept, _ = meter.Int64Counter("transcribe.jobs.swept", //nolint:errcheck
		metric.WithDescription("Zombie jobs swept"))
	m.purged, _ = meter.Int64Counter("transcribe.artifacts.purged", //nolint:errcheck
		metric.WithDescription("Source artifacts purged by retention"))
	return m
}

func (m *Metrics) Name() string { return "observability-metrics" }

func (m *Metrics) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("user.id", j.UserID)))
	return nil
}

func (m *Metrics) OnJobCompleted(ctx context.Context, j *job.Job, r *job.Result) error {
	m.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", r.Provider)))
	return nil
}

func (m *Metrics) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.failed.Add(ctx, 1)
	return nil
}

func (m *Metrics) OnJobRecovered(ctx context.Context, _ *job.Job) error {
	m.recovered.Add(ctx, 1)
	return nil
}

func (m *Metrics) OnJobSwept(ctx context.Context, _ *job.Job, reason string) error {
	m.swept.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return nil
}

func (m *Metrics) OnArtifactPurged(ctx context.Context, _ *job.Job) error {
	m.purged.Add(ctx, 1)
	return nil
}
