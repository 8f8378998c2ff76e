// Package sweeper holds the scheduled maintenance jobs: the zombie sweep
// fails jobs that have sat non-terminal past an absolute age, and the
// retention sweep deletes source audio of old terminal jobs.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/uploader"
)

// purgeBatchLimit bounds one retention pass so a large backlog drains over
// several runs instead of one long transaction.
const purgeBatchLimit = 500

// Sweeper runs the maintenance passes. Both are idempotent; the scheduler
// fires them on the configured cron expressions.
type Sweeper struct {
	cfg     transcribe.Config
	jobs    job.Store
	objects uploader.ObjectStore
	exts    *ext.Registry
	logger  *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithObjectStore enables source deletion in the retention sweep. Without
// it the sweep only clears the stored path.
func WithObjectStore(s uploader.ObjectStore) Option {
	return func(sw *Sweeper) { sw.objects = s }
}

// WithExtensions sets the extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(sw *Sweeper) { sw.exts = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sw *Sweeper) { sw.logger = l }
}

// New creates a Sweeper.
func New(cfg transcribe.Config, jobs job.Store, opts ...Option) *Sweeper {
	sw := &Sweeper{
		cfg:    cfg,
		jobs:   jobs,
		exts:   ext.NewRegistry(slog.Default()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Register binds both sweeps to the scheduler.
func (sw *Sweeper) Register(ctx context.Context, sched *cron.Scheduler) error {
	if err := sched.Register(ctx, "zombie-sweep", sw.cfg.ZombieSweepSchedule, sw.SweepZombies); err != nil {
		return err
	}
	return sched.Register(ctx, "artifact-retention", sw.cfg.RetentionSweepSchedule, sw.PurgeArtifacts)
}

// SweepZombies fails every non-terminal job older than the zombie age.
// Age is measured from creation: a job that keeps getting recovered still
// dies at the absolute deadline.
func (sw *Sweeper) SweepZombies(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-sw.cfg.ZombieAge)
	zombies, err := sw.jobs.ListAged(ctx, []job.Status{job.StatusPending, job.StatusProcessing}, cutoff)
	if err != nil {
		return fmt.Errorf("sweeper: list zombies: %w", err)
	}
	if len(zombies) == 0 {
		return nil
	}
	sw.logger.Info("zombie sweep", slog.Int("count", len(zombies)))

	message := fmt.Sprintf("transcription timed out after %s", sw.cfg.ZombieAge)
	for _, j := range zombies {
		if err := sw.jobs.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
			Status:   job.StatusFailed,
			Progress: j.Progress,
			Error:    message,
		}); err != nil {
			sw.logger.Error("fail zombie",
				slog.String("transcription_id", j.TranscriptionID.String()),
				slog.Any("error", err))
			continue
		}
		j.Status = job.StatusFailed
		sw.exts.EmitJobSwept(ctx, j, "timeout")
	}
	return nil
}

// PurgeArtifacts deletes source audio of terminal jobs past the retention
// window and clears their stored path. One job failing to purge never
// blocks the batch.
func (sw *Sweeper) PurgeArtifacts(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-sw.cfg.RetentionWindow)
	expired, err := sw.jobs.ListExpiredSources(ctx, cutoff, purgeBatchLimit)
	if err != nil {
		return fmt.Errorf("sweeper: list expired sources: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}
	sw.logger.Info("retention sweep", slog.Int("count", len(expired)))

	for _, j := range expired {
		if sw.objects != nil {
			if err := sw.objects.Delete(ctx, j.SourcePath); err != nil {
				sw.logger.Error("delete source",
					slog.String("transcription_id", j.TranscriptionID.String()),
					slog.String("key", j.SourcePath),
					slog.Any("error", err))
				continue
			}
		}
		if err := sw.jobs.ClearSource(ctx, j.TranscriptionID); err != nil {
			sw.logger.Error("clear source path",
				slog.String("transcription_id", j.TranscriptionID.String()),
				slog.Any("error", err))
			continue
		}
		j.SourcePath = ""
		sw.exts.EmitArtifactPurged(ctx, j)
	}
	return nil
}
