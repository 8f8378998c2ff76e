// Package pipeline runs one transcription job end to end: status writes,
// provider invocation, analysis fan-out, artifact persistence, and the
// terminal status transition.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/provider"
	"github.com/robertor4/transcribe-sub002/uploader"
)

// genericFailureMessage is stored when a failure carries no user-facing
// message. Raw error text never reaches the job record.
const genericFailureMessage = "transcription failed"

// Failure wraps an error with a message safe to show the job owner.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string { return f.Message + ": " + f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Failf builds a Failure with a user-facing message.
func Failf(err error, format string, args ...any) *Failure {
	return &Failure{Message: fmt.Sprintf(format, args...), Err: err}
}

// friendlyMessage extracts the user-facing message from a failure chain.
func friendlyMessage(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	return genericFailureMessage
}

// Analyzer derives a named analysis from a finished transcript. A failed
// analyzer is logged and its entry omitted; it never fails the job.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, j *job.Job, r *job.Result) (json.RawMessage, error)
}

// Processor executes jobs. It satisfies the middleware handler contract.
type Processor struct {
	jobs      job.Store
	providers provider.Provider
	uploads   *uploader.Retrying
	analyzers []Analyzer
	exts      *ext.Registry
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithUploader enables transcript artifact uploads.
func WithUploader(u *uploader.Retrying) Option {
	return func(p *Processor) { p.uploads = u }
}

// WithAnalyzers sets the post-transcription analyzers.
func WithAnalyzers(analyzers ...Analyzer) Option {
	return func(p *Processor) { p.analyzers = analyzers }
}

// WithExtensions sets the extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(p *Processor) { p.exts = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a Processor.
func New(jobs job.Store, providers provider.Provider, opts ...Option) *Processor {
	p := &Processor{
		jobs:      jobs,
		providers: providers,
		exts:      ext.NewRegistry(slog.Default()),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one job to a terminal status. A returned error means the
// queue should retry; nil means the task is done, including the case where
// a concurrent worker already completed the transcription.
func (p *Processor) Process(ctx context.Context, j *job.Job) error {
	reporter := p.newReporter(j)

	// The processing write is idempotent: a retried attempt re-enters the
	// same state.
	if err := p.jobs.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
		Status:   job.StatusProcessing,
		Progress: 5,
	}); err != nil {
		return p.handleFailure(ctx, j, fmt.Errorf("pipeline: mark processing: %w", err))
	}
	j.Status = job.StatusProcessing
	p.exts.EmitJobStarted(ctx, j)
	reporter.report(ctx, 10, "preparing audio")

	result, err := p.providers.Transcribe(ctx, provider.Source{
		Location: j.SourceLocation,
		Key:      j.SourcePath,
		Language: j.Language,
	}, func(percent int, message string) {
		reporter.report(ctx, percent, message)
	})
	if err != nil {
		return p.handleFailure(ctx, j, err)
	}
	result.TranscriptionID = j.TranscriptionID

	p.runAnalyzers(ctx, j, result)
	reporter.report(ctx, 95, "saving transcript")

	// Artifacts persist before the terminal write so a crash between the
	// two is recoverable: the job re-runs, the upserts converge.
	if err := p.persist(ctx, j, result); err != nil {
		return p.handleFailure(ctx, j, err)
	}

	now := p.now()
	if err := p.jobs.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
		Status:      job.StatusCompleted,
		Progress:    100,
		CompletedAt: &now,
	}); err != nil {
		return p.handleFailure(ctx, j, fmt.Errorf("pipeline: mark completed: %w", err))
	}
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	p.exts.EmitJobCompleted(ctx, j, result)
	p.logger.Info("job completed",
		slog.String("transcription_id", j.TranscriptionID.String()),
		slog.String("provider", result.Provider))
	return nil
}

// persist saves the transcript row, uploads the artifact when an uploader
// is configured, and folds the provider's findings back into the job row.
func (p *Processor) persist(ctx context.Context, j *job.Job, result *job.Result) error {
	if err := p.jobs.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("pipeline: save result: %w", err)
	}

	if p.uploads != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("pipeline: encode result: %w", err)
		}
		key := "results/" + j.TranscriptionID.String() + ".json"
		if err := p.uploads.Upload(ctx, key, data, "application/json"); err != nil {
			return Failf(err, "could not store the transcript")
		}
		j.ResultPath = key
	}

	if result.Language != "" {
		j.Language = result.Language
	}
	if result.DurationSeconds > 0 {
		j.DurationSeconds = result.DurationSeconds
	}
	if err := p.jobs.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("pipeline: update job: %w", err)
	}
	return nil
}

// runAnalyzers fans analyses out bounded by the job's concurrency. Each
// analyzer's failure only drops its own entry.
func (p *Processor) runAnalyzers(ctx context.Context, j *job.Job, result *job.Result) {
	if len(p.analyzers) == 0 {
		return
	}
	limit := j.Concurrency
	if limit < 1 {
		limit = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, a := range p.analyzers {
		g.Go(func() error {
			out, err := a.Analyze(gctx, j, result)
			if err != nil {
				p.logger.Warn("analysis failed",
					slog.String("transcription_id", j.TranscriptionID.String()),
					slog.String("analyzer", a.Name()),
					slog.Any("error", err))
				return nil
			}
			mu.Lock()
			if result.Analyses == nil {
				result.Analyses = make(map[string]json.RawMessage, len(p.analyzers))
			}
			result.Analyses[a.Name()] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // analyzer errors are swallowed above
}

// handleFailure writes the failed status unless another worker already
// completed the job, in which case the failure is suppressed and the task
// acked.
func (p *Processor) handleFailure(ctx context.Context, j *job.Job, cause error) error {
	fresh, err := p.jobs.GetJob(ctx, j.TranscriptionID)
	if err == nil && fresh.Status == job.StatusCompleted {
		p.logger.Warn("suppressing failure for completed job",
			slog.String("transcription_id", j.TranscriptionID.String()),
			slog.Any("error", cause))
		return nil
	}

	progress := j.Progress
	if err == nil {
		progress = fresh.Progress
	}
	if wErr := p.jobs.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
		Status:   job.StatusFailed,
		Progress: progress,
		Error:    friendlyMessage(cause),
	}); wErr != nil {
		p.logger.Error("failure write failed",
			slog.String("transcription_id", j.TranscriptionID.String()),
			slog.Any("error", wErr))
	}
	j.Status = job.StatusFailed
	p.exts.EmitJobFailed(ctx, j, cause)
	return cause
}

// ──────────────────────────────────────────────────

// reporter clamps progress monotonic and mirrors it to the store and the
// extension registry. Store errors are logged, never fatal.
type reporter struct {
	p    *Processor
	j    *job.Job
	mu   sync.Mutex
	last int
}

func (p *Processor) newReporter(j *job.Job) *reporter {
	return &reporter{p: p, j: j, last: -1}
}

func (r *reporter) report(ctx context.Context, percent int, message string) {
	if percent > 100 {
		percent = 100
	}
	r.mu.Lock()
	if percent <= r.last {
		r.mu.Unlock()
		return
	}
	r.last = percent
	r.mu.Unlock()

	if err := r.p.jobs.WriteStatus(ctx, r.j.TranscriptionID, job.StatusWrite{
		Status:   job.StatusProcessing,
		Progress: percent,
	}); err != nil {
		r.p.logger.Warn("progress write failed",
			slog.String("transcription_id", r.j.TranscriptionID.String()),
			slog.Int("percent", percent),
			slog.Any("error", err))
		return
	}
	r.j.Progress = percent
	r.p.exts.EmitJobProgress(ctx, r.j, percent, message)
}
