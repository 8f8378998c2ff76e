// Package recovery returns orphaned jobs to the queue. A job is orphaned
// when its record says pending or processing but no queue task backs it,
// which happens when a worker dies between the status write and the queue
// settlement. The service scans at startup after a settle delay, reacts to
// queue stall and exhaustion events, and rescans periodically.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/queue"
)

// errAttemptsExhausted is the cause reported when a job has been recovered
// too many times to trust another run.
var errAttemptsExhausted = errors.New("recovery: attempts exhausted")

// Service watches for orphaned jobs and re-submits them.
type Service struct {
	cfg    transcribe.Config
	jobs   job.Store
	queue  queue.Queue
	exts   *ext.Registry
	logger *slog.Logger

	scanInterval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the service.
type Option func(*Service)

// WithExtensions sets the extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Service) { s.exts = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithScanInterval sets the periodic rescan interval. Zero disables
// rescans; startup and event-driven recovery still run.
func WithScanInterval(d time.Duration) Option {
	return func(s *Service) { s.scanInterval = d }
}

// New creates the recovery service.
func New(cfg transcribe.Config, jobs job.Store, q queue.Queue, opts ...Option) *Service {
	s := &Service{
		cfg:          cfg,
		jobs:         jobs,
		queue:        q,
		exts:         ext.NewRegistry(slog.Default()),
		logger:       slog.Default(),
		scanInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scan and event loops and returns immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(2)
	go s.scanLoop(runCtx)
	go s.eventLoop(runCtx)
	return nil
}

// Stop halts the loops.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	s.wg.Wait()
}

// scanLoop waits for in-flight work to settle, scans once, then rescans on
// the interval.
func (s *Service) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.SettleDelay):
	}
	s.Scan(ctx)

	if s.scanInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan finds stalled jobs and recovers each one. A failing candidate never
// blocks the rest.
func (s *Service) Scan(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.GracePeriod)
	stalled, err := s.jobs.ListStalled(ctx, []job.Status{job.StatusPending, job.StatusProcessing}, cutoff)
	if err != nil {
		s.logger.Error("recovery scan failed", slog.Any("error", err))
		return
	}
	if len(stalled) == 0 {
		return
	}
	s.logger.Info("recovery scan found candidates", slog.Int("count", len(stalled)))
	for _, j := range stalled {
		if err := s.recoverOne(ctx, j); err != nil {
			s.logger.Error("recover job failed",
				slog.String("transcription_id", j.TranscriptionID.String()),
				slog.Any("error", err))
		}
	}
}

// recoverOne re-submits a single orphaned job, or fails it when its
// recovery budget is spent. Jobs that still have a queue task are left
// alone.
func (s *Service) recoverOne(ctx context.Context, j *job.Job) error {
	queued, err := s.queue.Contains(ctx, j.TranscriptionID)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}

	if j.Attempt >= s.cfg.RecoveryMaxAttempts {
		return s.failJob(ctx, j, errAttemptsExhausted)
	}

	j.Attempt++
	if err := s.jobs.UpdateJob(ctx, j); err != nil {
		return err
	}
	if err := s.jobs.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
		Status:   job.StatusPending,
		Progress: 0,
	}); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.queue.Enqueue(ctx, &queue.Task{
		TranscriptionID: j.TranscriptionID,
		UserID:          j.UserID,
		Attempt:         j.Attempt,
		MaxAttempts:     j.MaxAttempts,
		Priority:        j.Priority,
		RunAt:           now,
		EnqueuedAt:      now,
	}); err != nil {
		return err
	}

	j.Status = job.StatusPending
	s.exts.EmitJobRecovered(ctx, j)
	s.logger.Info("job recovered",
		slog.String("transcription_id", j.TranscriptionID.String()),
		slog.Int("attempt", j.Attempt))
	return nil
}

func (s *Service) failJob(ctx context.Context, j *job.Job, cause error) error {
	if err := s.jobs.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
		Status:   job.StatusFailed,
		Progress: j.Progress,
		Error:    "transcription failed",
	}); err != nil {
		return err
	}
	j.Status = job.StatusFailed
	s.exts.EmitJobFailed(ctx, j, cause)
	return nil
}

// eventLoop reacts to queue notifications: a stalled task's job goes back
// to pending so its owner sees it queued again, and an exhausted task's
// job is failed.
func (s *Service) eventLoop(ctx context.Context) {
	defer s.wg.Done()
	events := s.queue.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.handleEvent(ctx, ev); err != nil {
				s.logger.Error("handle queue event failed",
					slog.String("event", string(ev.Type)),
					slog.String("transcription_id", ev.TranscriptionID.String()),
					slog.Any("error", err))
			}
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, ev queue.Event) error {
	j, err := s.jobs.GetJob(ctx, ev.TranscriptionID)
	if err != nil {
		if errors.Is(err, transcribe.ErrJobNotFound) {
			return nil
		}
		return err
	}
	if j.Status.Terminal() {
		return nil
	}

	switch ev.Type {
	case queue.EventStalled:
		// The queue already returned the task to the waiting set; only the
		// record needs to reflect that.
		if j.Status != job.StatusProcessing {
			return nil
		}
		if err := s.jobs.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
			Status:   job.StatusPending,
			Progress: j.Progress,
		}); err != nil {
			return err
		}
		j.Status = job.StatusPending
		s.exts.EmitJobRecovered(ctx, j)
		return nil
	case queue.EventExhausted:
		return s.failJob(ctx, j, errors.New("recovery: queue attempts exhausted"))
	default:
		return nil
	}
}
