package ext

import (
	"context"

	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/job"
)

// Extension is the base contract. An extension implements the base plus any
// subset of the hook interfaces below; the registry discovers which at
// registration time.
type Extension interface {
	Name() string
}

// JobSubmittedHook observes new submissions.
type JobSubmittedHook interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStartedHook observes a worker picking a job up.
type JobStartedHook interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgressHook observes progress updates.
type JobProgressHook interface {
	OnJobProgress(ctx context.Context, j *job.Job, percent int, message string) error
}

// JobCompletedHook observes successful completion.
type JobCompletedHook interface {
	OnJobCompleted(ctx context.Context, j *job.Job, r *job.Result) error
}

// JobFailedHook observes failure writes.
type JobFailedHook interface {
	OnJobFailed(ctx context.Context, j *job.Job, cause error) error
}

// JobRecoveredHook observes orphan recovery re-submissions.
type JobRecoveredHook interface {
	OnJobRecovered(ctx context.Context, j *job.Job) error
}

// JobSweptHook observes the zombie sweep failing a job.
type JobSweptHook interface {
	OnJobSwept(ctx context.Context, j *job.Job, reason string) error
}

// ArtifactPurgedHook observes the retention sweep deleting source audio.
type ArtifactPurgedHook interface {
	OnArtifactPurged(ctx context.Context, j *job.Job) error
}

// CronFiredHook observes scheduler firings.
type CronFiredHook interface {
	OnCronFired(ctx context.Context, entry *cron.Entry) error
}

// ShutdownHook observes engine shutdown.
type ShutdownHook interface {
	OnShutdown(ctx context.Context) error
}
