package ext

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/job"
)

type submittedEntry struct {
	name string
	hook JobSubmittedHook
}

type startedEntry struct {
	name string
	hook JobStartedHook
}

type progressEntry struct {
	name string
	hook JobProgressHook
}

type completedEntry struct {
	name string
	hook JobCompletedHook
}

type failedEntry struct {
	name string
	hook JobFailedHook
}

type recoveredEntry struct {
	name string
	hook JobRecoveredHook
}

type sweptEntry struct {
	name string
	hook JobSweptHook
}

type purgedEntry struct {
	name string
	hook ArtifactPurgedHook
}

type cronFiredEntry struct {
	name string
	hook CronFiredHook
}

type shutdownEntry struct {
	name string
	hook ShutdownHook
}

// Registry holds registered extensions with their hooks resolved once at
// registration, so emission never type-asserts on the hot path.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	submitted []submittedEntry
	started   []startedEntry
	progress  []progressEntry
	completed []completedEntry
	failed    []failedEntry
	recovered []recoveredEntry
	swept     []sweptEntry
	purged    []purgedEntry
	cronFired []cronFiredEntry
	shutdown  []shutdownEntry
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension, caching each hook interface it implements.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := e.Name()
	if h, ok := e.(JobSubmittedHook); ok {
		r.submitted = append(r.submitted, submittedEntry{name, h})
	}
	if h, ok := e.(JobStartedHook); ok {
		r.started = append(r.started, startedEntry{name, h})
	}
	if h, ok := e.(JobProgressHook); ok {
		r.progress = append(r.progress, progressEntry{name, h})
	}
	if h, ok := e.(JobCompletedHook); ok {
		r.completed = append(r.completed, completedEntry{name, h})
	}
	if h, ok := e.(JobFailedHook); ok {
		r.failed = append(r.failed, failedEntry{name, h})
	}
	if h, ok := e.(JobRecoveredHook); ok {
		r.recovered = append(r.recovered, recoveredEntry{name, h})
	}
	if h, ok := e.(JobSweptHook); ok {
		r.swept = append(r.swept, sweptEntry{name, h})
	}
	if h, ok := e.(ArtifactPurgedHook); ok {
		r.purged = append(r.purged, purgedEntry{name, h})
	}
	if h, ok := e.(CronFiredHook); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(ShutdownHook); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

func (r *Registry) logHookError(name, hook string, err error) {
	r.logger.Warn("extension hook failed",
		slog.String("extension", name),
		slog.String("hook", hook),
		slog.Any("error", err))
}

// EmitJobSubmitted notifies submission hooks.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.submitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError(e.name, "job_submitted", err)
		}
	}
}

// EmitJobStarted notifies start hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.started {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError(e.name, "job_started", err)
		}
	}
}

// EmitJobProgress notifies progress hooks.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, percent int, message string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.progress {
		if err := e.hook.OnJobProgress(ctx, j, percent, message); err != nil {
			r.logHookError(e.name, "job_progress", err)
		}
	}
}

// EmitJobCompleted notifies completion hooks.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, res *job.Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.completed {
		if err := e.hook.OnJobCompleted(ctx, j, res); err != nil {
			r.logHookError(e.name, "job_completed", err)
		}
	}
}

// EmitJobFailed notifies failure hooks.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, cause error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.failed {
		if err := e.hook.OnJobFailed(ctx, j, cause); err != nil {
			r.logHookError(e.name, "job_failed", err)
		}
	}
}

// EmitJobRecovered notifies recovery hooks.
func (r *Registry) EmitJobRecovered(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.recovered {
		if err := e.hook.OnJobRecovered(ctx, j); err != nil {
			r.logHookError(e.name, "job_recovered", err)
		}
	}
}

// EmitJobSwept notifies sweep hooks.
func (r *Registry) EmitJobSwept(ctx context.Context, j *job.Job, reason string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.swept {
		if err := e.hook.OnJobSwept(ctx, j, reason); err != nil {
			r.logHookError(e.name, "job_swept", err)
		}
	}
}

// EmitArtifactPurged notifies retention hooks.
func (r *Registry) EmitArtifactPurged(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.purged {
		if err := e.hook.OnArtifactPurged(ctx, j); err != nil {
			r.logHookError(e.name, "artifact_purged", err)
		}
	}
}

// EmitCronFired notifies scheduler hooks.
func (r *Registry) EmitCronFired(ctx context.Context, entry *cron.Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entry); err != nil {
			r.logHookError(e.name, "cron_fired", err)
		}
	}
}

// EmitShutdown notifies shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError(e.name, "shutdown", err)
		}
	}
}
