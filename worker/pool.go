// Package worker runs the dequeue loop: it leases tasks from the queue,
// admits them through the per-user manager, and executes them through the
// middleware chain while keeping leases and cluster heartbeats alive.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/middleware"
	"github.com/robertor4/transcribe-sub002/queue"
)

type activeTask struct {
	task   *queue.Task
	cancel context.CancelFunc
}

// Pool processes queued transcription tasks with bounded concurrency.
type Pool struct {
	cfg     transcribe.Config
	queue   queue.Queue
	jobs    job.Store
	handler middleware.Handler
	manager *queue.Manager
	workers cluster.Store
	logger  *slog.Logger

	workerID id.WorkerID
	hostname string

	mu      sync.Mutex
	active  map[string]*activeTask
	started bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	slots   chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithManager enables per-user admission control.
func WithManager(m *queue.Manager) Option {
	return func(p *Pool) { p.manager = m }
}

// WithClusterStore enables worker registration and heartbeats.
func WithClusterStore(s cluster.Store) Option {
	return func(p *Pool) { p.workers = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithHostname overrides the reported hostname.
func WithHostname(name string) Option {
	return func(p *Pool) { p.hostname = name }
}

// New creates a pool. The handler is typically a middleware chain ending
// in the pipeline processor.
func New(cfg transcribe.Config, q queue.Queue, jobs job.Store, handler middleware.Handler, opts ...Option) *Pool {
	hostname, _ := os.Hostname() //nolint:errcheck // empty hostname is acceptable
	p := &Pool{
		cfg:      cfg,
		queue:    q,
		jobs:     jobs,
		handler:  handler,
		logger:   slog.Default(),
		workerID: id.NewWorkerID(),
		hostname: hostname,
		active:   make(map[string]*activeTask),
	}
	for _, opt := range opts {
		opt(p)
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	p.slots = make(chan struct{}, concurrency)
	return p
}

// ID returns the pool's worker identity.
func (p *Pool) ID() id.WorkerID { return p.workerID }

// Start registers the worker and launches the dequeue, lease and heartbeat
// loops. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	if p.queue == nil {
		return transcribe.ErrNoQueue
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.baseCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Unlock()

	if p.workers != nil {
		w := &cluster.Worker{
			Entity:      transcribe.NewEntity(),
			ID:          p.workerID,
			Hostname:    p.hostname,
			Concurrency: cap(p.slots),
			State:       cluster.WorkerActive,
			LastSeen:    time.Now().UTC(),
		}
		if err := p.workers.RegisterWorker(ctx, w); err != nil {
			return err
		}
	}

	p.wg.Add(2)
	go p.dequeueLoop()
	go p.leaseLoop()
	if p.workers != nil {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	p.logger.Info("worker started",
		slog.String("worker_id", p.workerID.String()),
		slog.String("hostname", p.hostname),
		slog.Int("concurrency", cap(p.slots)))
	return nil
}

// Stop drains in-flight tasks within the shutdown timeout, cancels the
// stragglers, and deregisters the worker.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("shutdown timeout, canceling in-flight tasks")
		p.cancelActive()
		<-done
	case <-ctx.Done():
		p.cancelActive()
		<-done
	}

	if p.workers != nil {
		if err := p.workers.DeregisterWorker(ctx, p.workerID); err != nil {
			p.logger.Warn("deregister worker", slog.Any("error", err))
		}
	}
	p.logger.Info("worker stopped", slog.String("worker_id", p.workerID.String()))
	return nil
}

func (p *Pool) cancelActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, at := range p.active {
		at.cancel()
	}
}

// ──────────────────────────────────────────────────

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// pollOnce leases up to the free capacity and dispatches each task.
func (p *Pool) pollOnce() {
	free := cap(p.slots) - len(p.slots)
	if free <= 0 {
		return
	}
	tasks, err := p.queue.Dequeue(p.baseCtx, free)
	if err != nil {
		if !errors.Is(err, transcribe.ErrQueueClosed) && p.baseCtx.Err() == nil {
			p.logger.Error("dequeue failed", slog.Any("error", err))
		}
		return
	}
	for _, t := range tasks {
		p.dispatch(t)
	}
}

// dispatch admits the task through the per-user manager and hands it to a
// goroutine. A declined task goes back to the waiting set without
// consuming an attempt.
func (p *Pool) dispatch(t *queue.Task) {
	if p.manager != nil && !p.manager.Acquire(t.UserID) {
		if err := p.queue.Requeue(p.baseCtx, t.ID, p.cfg.PollInterval); err != nil {
			p.logger.Warn("requeue declined task",
				slog.String("task_id", t.ID), slog.Any("error", err))
		}
		return
	}

	select {
	case p.slots <- struct{}{}:
	default:
		// Capacity raced away between poll and dispatch.
		if p.manager != nil {
			p.manager.Release(t.UserID)
		}
		if err := p.queue.Requeue(p.baseCtx, t.ID, p.cfg.PollInterval); err != nil {
			p.logger.Warn("requeue overflow task",
				slog.String("task_id", t.ID), slog.Any("error", err))
		}
		return
	}

	taskCtx, cancel := context.WithCancel(p.baseCtx)
	p.mu.Lock()
	p.active[t.ID] = &activeTask{task: t, cancel: cancel}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			cancel()
			p.mu.Lock()
			delete(p.active, t.ID)
			p.mu.Unlock()
			<-p.slots
			if p.manager != nil {
				p.manager.Release(t.UserID)
			}
		}()
		p.run(taskCtx, t)
	}()
}

// run executes one leased task and settles it with the queue. Settlement
// uses a background-derived context so a canceled task still acks or
// retries cleanly.
func (p *Pool) run(ctx context.Context, t *queue.Task) {
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer settleCancel()

	j, err := p.jobs.GetJob(ctx, t.TranscriptionID)
	if err != nil {
		if errors.Is(err, transcribe.ErrJobNotFound) {
			// The job record is gone; the task has nothing to do.
			p.logger.Warn("acking task for missing job",
				slog.String("task_id", t.ID),
				slog.String("transcription_id", t.TranscriptionID.String()))
			if ackErr := p.queue.Ack(settleCtx, t.ID); ackErr != nil {
				p.logger.Error("ack failed", slog.String("task_id", t.ID), slog.Any("error", ackErr))
			}
			return
		}
		p.settleFailure(settleCtx, t, err)
		return
	}
	j.Attempt = t.Attempt

	if err := p.handler(ctx, j); err != nil {
		p.settleFailure(settleCtx, t, err)
		return
	}
	if err := p.queue.Ack(settleCtx, t.ID); err != nil {
		p.logger.Error("ack failed", slog.String("task_id", t.ID), slog.Any("error", err))
	}
}

func (p *Pool) settleFailure(ctx context.Context, t *queue.Task, cause error) {
	p.logger.Warn("task failed",
		slog.String("task_id", t.ID),
		slog.String("transcription_id", t.TranscriptionID.String()),
		slog.Int("attempt", t.Attempt),
		slog.Any("error", cause))
	if err := p.queue.Retry(ctx, t.ID, cause); err != nil {
		p.logger.Error("retry failed", slog.String("task_id", t.ID), slog.Any("error", err))
	}
}

func (p *Pool) leaseLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.LeaseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case <-ticker.C:
			p.extendLeases()
		}
	}
}

func (p *Pool) extendLeases() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.active))
	for taskID := range p.active {
		ids = append(ids, taskID)
	}
	p.mu.Unlock()

	for _, taskID := range ids {
		if err := p.queue.ExtendLease(p.baseCtx, taskID); err != nil {
			if errors.Is(err, transcribe.ErrTaskNotFound) {
				continue
			}
			p.logger.Warn("extend lease failed",
				slog.String("task_id", taskID), slog.Any("error", err))
		}
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case <-ticker.C:
			if err := p.workers.HeartbeatWorker(p.baseCtx, p.workerID); err != nil {
				p.logger.Warn("heartbeat failed", slog.Any("error", err))
			}
		}
	}
}
