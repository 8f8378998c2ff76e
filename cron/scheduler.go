package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/id"
)

// cronParser accepts standard five-field expressions plus descriptors like
// @hourly and @every 10m.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression and returns its schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: parse %q: %w", expr, err)
	}
	return sched, nil
}

// HandlerFunc is the work a cron entry fires. Handler errors are logged;
// the entry keeps its schedule.
type HandlerFunc func(ctx context.Context) error

type extensionEmitter interface {
	EmitCronFired(ctx context.Context, entry *Entry)
}

// Scheduler fires due entries. Only the elected leader ticks; each firing
// additionally takes a per-entry lock, so a leadership handover mid-tick
// cannot double-fire.
type Scheduler struct {
	store      Store
	leadership cluster.Store
	workerID   id.WorkerID
	logger     *slog.Logger
	extensions extensionEmitter

	tickInterval time.Duration
	lockTTL      time.Duration
	leaderTTL    time.Duration

	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	schedules map[string]cron.Schedule
	isLeader  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often due entries are checked.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the per-entry firing lock duration.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithLeaderTTL sets the leadership lease duration.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithExtensions sets the hook emitter.
func WithExtensions(e extensionEmitter) SchedulerOption {
	return func(s *Scheduler) { s.extensions = e }
}

// NewScheduler creates a scheduler bound to a worker identity.
func NewScheduler(store Store, leadership cluster.Store, workerID id.WorkerID, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        store,
		leadership:   leadership,
		workerID:     workerID,
		logger:       slog.Default(),
		tickInterval: 10 * time.Second,
		lockTTL:      5 * time.Minute,
		leaderTTL:    30 * time.Second,
		handlers:     make(map[string]HandlerFunc),
		schedules:    make(map[string]cron.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register persists an entry and binds its handler. Re-registering an
// existing name updates the schedule and handler in place.
func (s *Scheduler) Register(ctx context.Context, name, schedule string, fn HandlerFunc) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	next := sched.Next(time.Now())
	entry := &Entry{
		Entity:    transcribe.NewEntity(),
		ID:        id.NewCronID(),
		Name:      name,
		Schedule:  schedule,
		Enabled:   true,
		NextRunAt: &next,
	}
	err = s.store.RegisterCron(ctx, entry)
	if errors.Is(err, transcribe.ErrDuplicateCron) {
		existing, getErr := s.store.GetCron(ctx, name)
		if getErr != nil {
			return getErr
		}
		if existing.Schedule != schedule {
			existing.Schedule = schedule
			existing.NextRunAt = &next
			existing.Touch()
			if updErr := s.store.UpdateCronEntry(ctx, existing); updErr != nil {
				return updErr
			}
		}
	} else if err != nil {
		return err
	}

	s.mu.Lock()
	s.handlers[name] = fn
	s.schedules[name] = sched
	s.mu.Unlock()
	return nil
}

// Start begins leader election and ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop(ctx)
	go s.tickLoop(ctx)
	return nil
}

// Stop halts the scheduler and releases leadership.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.RLock()
	wasLeader := s.isLeader
	s.mu.RUnlock()
	if wasLeader {
		// Best effort; the lease expires on its own regardless.
		if _, err := s.leadership.RenewLeadership(ctx, s.workerID, 0); err != nil {
			s.logger.Debug("release leadership", slog.Any("error", err))
		}
	}
	return nil
}

// IsLeader reports whether this scheduler currently holds leadership.
func (s *Scheduler) IsLeader() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLeader
}

// RunNow fires a registered entry immediately, outside its schedule.
// Only the leader may trigger entries; followers get ErrNotLeader.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	if !s.IsLeader() {
		return transcribe.ErrNotLeader
	}
	entry, err := s.store.GetCron(ctx, name)
	if err != nil {
		return err
	}
	s.fireEntry(ctx, entry, time.Now())
	return nil
}

func (s *Scheduler) leaderLoop(ctx context.Context) {
	defer s.wg.Done()
	s.electOnce(ctx)
	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.electOnce(ctx)
		}
	}
}

// electOnce renews when leading, otherwise tries to acquire.
func (s *Scheduler) electOnce(ctx context.Context) {
	s.mu.RLock()
	leading := s.isLeader
	s.mu.RUnlock()

	var ok bool
	var err error
	if leading {
		ok, err = s.leadership.RenewLeadership(ctx, s.workerID, s.leaderTTL)
		if err != nil || !ok {
			ok, err = s.leadership.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
		}
	} else {
		ok, err = s.leadership.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	}
	if err != nil {
		s.logger.Warn("leader election", slog.Any("error", err))
		ok = false
	}

	s.mu.Lock()
	changed := s.isLeader != ok
	s.isLeader = ok
	s.mu.Unlock()
	if changed {
		s.logger.Info("leadership changed",
			slog.Bool("leader", ok),
			slog.String("worker_id", s.workerID.String()))
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.IsLeader() {
		return
	}
	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list cron entries", slog.Any("error", err))
		return
	}
	now := time.Now()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt != nil && entry.NextRunAt.After(now) {
			continue
		}
		s.fireEntry(ctx, entry, now)
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) {
	holder := s.workerID.String()
	if err := s.store.AcquireCronLock(ctx, entry.Name, holder, s.lockTTL); err != nil {
		if !errors.Is(err, transcribe.ErrCronLocked) {
			s.logger.Error("acquire cron lock", slog.String("name", entry.Name), slog.Any("error", err))
		}
		return
	}
	defer func() {
		if err := s.store.ReleaseCronLock(ctx, entry.Name, holder); err != nil {
			s.logger.Warn("release cron lock", slog.String("name", entry.Name), slog.Any("error", err))
		}
	}()

	s.mu.RLock()
	fn := s.handlers[entry.Name]
	sched := s.schedules[entry.Name]
	s.mu.RUnlock()
	if fn == nil {
		// Entry registered by another process version; skip locally.
		s.logger.Debug("no handler for cron entry", slog.String("name", entry.Name))
		return
	}
	if sched == nil {
		var err error
		sched, err = ParseSchedule(entry.Schedule)
		if err != nil {
			s.logger.Error("invalid stored schedule", slog.String("name", entry.Name), slog.Any("error", err))
			return
		}
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("cron handler failed",
			slog.String("name", entry.Name),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
	} else {
		s.logger.Info("cron handler fired",
			slog.String("name", entry.Name),
			slog.Duration("elapsed", time.Since(start)))
	}

	if err := s.store.UpdateCronLastRun(ctx, entry.Name, now); err != nil {
		s.logger.Warn("record cron last run", slog.String("name", entry.Name), slog.Any("error", err))
	}
	next := sched.Next(now)
	entry.LastRunAt = &now
	entry.NextRunAt = &next
	entry.Touch()
	if err := s.store.UpdateCronEntry(ctx, entry); err != nil {
		s.logger.Warn("update cron entry", slog.String("name", entry.Name), slog.Any("error", err))
	}
	if s.extensions != nil {
		s.extensions.EmitCronFired(ctx, entry)
	}
}
