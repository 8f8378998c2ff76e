// Package memory provides an in-memory Store for tests and development.
// All state lives behind one RWMutex; records are copied on the way in and
// out so callers can never alias internal state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job    // keyed by transcription ID
	results map[string]*job.Result // keyed by transcription ID
	crons   map[string]*cron.Entry // keyed by name
	workers map[string]*cluster.Worker

	leaderID    string
	leaderUntil time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		results: make(map[string]*job.Result),
		crons:   make(map[string]*cron.Entry),
		workers: make(map[string]*cluster.Worker),
	}
}

var _ store.Store = (*Store)(nil)

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

func (s *Store) CreateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := j.TranscriptionID.String()
	if _, ok := s.jobs[key]; ok {
		return fmt.Errorf("store/memory: %s: %w", key, transcribe.ErrJobAlreadyExists)
	}
	cp := *j
	s.jobs[key] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, trID id.TranscriptionID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[trID.String()]
	if !ok {
		return nil, fmt.Errorf("store/memory: %s: %w", trID, transcribe.ErrJobNotFound)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) UpdateJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := j.TranscriptionID.String()
	if _, ok := s.jobs[key]; !ok {
		return fmt.Errorf("store/memory: %s: %w", key, transcribe.ErrJobNotFound)
	}
	cp := *j
	cp.Touch()
	s.jobs[key] = &cp
	return nil
}

func (s *Store) WriteStatus(_ context.Context, trID id.TranscriptionID, w job.StatusWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[trID.String()]
	if !ok {
		return fmt.Errorf("store/memory: %s: %w", trID, transcribe.ErrJobNotFound)
	}
	// A completed job never leaves that state through a status write.
	if j.Status == job.StatusCompleted && w.Status != job.StatusCompleted {
		return fmt.Errorf("store/memory: %s: %w", trID, transcribe.ErrTerminalState)
	}
	j.Status = w.Status
	j.Progress = w.Progress
	j.Error = w.Error
	j.CompletedAt = w.CompletedAt
	j.Touch()
	return nil
}

func (s *Store) DeleteJob(_ context.Context, trID id.TranscriptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trID.String()
	if _, ok := s.jobs[key]; !ok {
		return fmt.Errorf("store/memory: %s: %w", key, transcribe.ErrJobNotFound)
	}
	delete(s.jobs, key)
	delete(s.results, key)
	return nil
}

func (s *Store) ListJobsByStatus(_ context.Context, statuses []job.Status, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if !statusIn(j.Status, statuses) {
			continue
		}
		if opts.UserID != "" && j.UserID != opts.UserID {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return slice(out, opts.Offset, opts.Limit), nil
}

func (s *Store) ListStalled(_ context.Context, statuses []job.Status, updatedBefore time.Time) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if !statusIn(j.Status, statuses) || !j.UpdatedAt.Before(updatedBefore) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) ListAged(_ context.Context, statuses []job.Status, createdBefore time.Time) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if !statusIn(j.Status, statuses) || !j.CreatedAt.Before(createdBefore) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) ListExpiredSources(_ context.Context, completedBefore time.Time, limit int) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if !j.Status.Terminal() || j.SourcePath == "" {
			continue
		}
		if !terminalAt(j).Before(completedBefore) {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClearSource(_ context.Context, trID id.TranscriptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[trID.String()]
	if !ok {
		return fmt.Errorf("store/memory: %s: %w", trID, transcribe.ErrJobNotFound)
	}
	j.SourcePath = ""
	j.Touch()
	return nil
}

func (s *Store) SaveResult(_ context.Context, r *job.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.TranscriptionID.String()] = &cp
	return nil
}

func (s *Store) GetResult(_ context.Context, trID id.TranscriptionID) (*job.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[trID.String()]
	if !ok {
		return nil, fmt.Errorf("store/memory: %s: %w", trID, transcribe.ErrResultNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, j := range s.jobs {
		if opts.UserID != "" && j.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Cron store
// ──────────────────────────────────────────────────

func (s *Store) RegisterCron(_ context.Context, e *cron.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crons[e.Name]; ok {
		return fmt.Errorf("store/memory: %s: %w", e.Name, transcribe.ErrDuplicateCron)
	}
	cp := *e
	s.crons[e.Name] = &cp
	return nil
}

func (s *Store) GetCron(_ context.Context, name string) (*cron.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.crons[name]
	if !ok {
		return nil, fmt.Errorf("store/memory: %s: %w", name, transcribe.ErrCronNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*cron.Entry, 0, len(s.crons))
	for _, e := range s.crons {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

func (s *Store) UpdateCronEntry(_ context.Context, e *cron.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crons[e.Name]; !ok {
		return fmt.Errorf("store/memory: %s: %w", e.Name, transcribe.ErrCronNotFound)
	}
	cp := *e
	s.crons[e.Name] = &cp
	return nil
}

func (s *Store) DeleteCron(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.crons[name]; !ok {
		return fmt.Errorf("store/memory: %s: %w", name, transcribe.ErrCronNotFound)
	}
	delete(s.crons, name)
	return nil
}

func (s *Store) AcquireCronLock(_ context.Context, name, holder string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.crons[name]
	if !ok {
		return fmt.Errorf("store/memory: %s: %w", name, transcribe.ErrCronNotFound)
	}
	now := time.Now()
	if e.LockedBy != "" && e.LockedBy != holder && e.LockedUntil != nil && e.LockedUntil.After(now) {
		return fmt.Errorf("store/memory: %s held by %s: %w", name, e.LockedBy, transcribe.ErrCronLocked)
	}
	until := now.Add(ttl)
	e.LockedBy = holder
	e.LockedUntil = &until
	return nil
}

func (s *Store) ReleaseCronLock(_ context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.crons[name]
	if !ok {
		return fmt.Errorf("store/memory: %s: %w", name, transcribe.ErrCronNotFound)
	}
	if e.LockedBy == holder {
		e.LockedBy = ""
		e.LockedUntil = nil
	}
	return nil
}

func (s *Store) UpdateCronLastRun(_ context.Context, name string, ranAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.crons[name]
	if !ok {
		return fmt.Errorf("store/memory: %s: %w", name, transcribe.ErrCronNotFound)
	}
	at := ranAt
	e.LastRunAt = &at
	return nil
}

// ──────────────────────────────────────────────────
// Cluster store
// ──────────────────────────────────────────────────

func (s *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.workers[w.ID.String()] = &cp
	return nil
}

func (s *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workerID.String()
	if _, ok := s.workers[key]; !ok {
		return fmt.Errorf("store/memory: %s: %w", key, transcribe.ErrWorkerNotFound)
	}
	delete(s.workers, key)
	if s.leaderID == key {
		s.leaderID = ""
	}
	return nil
}

func (s *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID.String()]
	if !ok {
		return fmt.Errorf("store/memory: %s: %w", workerID, transcribe.ErrWorkerNotFound)
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

func (s *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*cluster.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ReapDeadWorkers(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, w := range s.workers {
		if w.State != cluster.WorkerDead && w.LastSeen.Before(cutoff) {
			w.State = cluster.WorkerDead
			n++
		}
	}
	return n, nil
}

func (s *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := workerID.String()
	if s.leaderID != "" && s.leaderID != key && s.leaderUntil.After(now) {
		return false, nil
	}
	s.leaderID = key
	s.leaderUntil = now.Add(ttl)
	s.markLeader(key, s.leaderUntil)
	return true, nil
}

func (s *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workerID.String()
	if s.leaderID != key {
		return false, nil
	}
	s.leaderUntil = time.Now().Add(ttl)
	s.markLeader(key, s.leaderUntil)
	return true, nil
}

func (s *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.leaderID == "" || !s.leaderUntil.After(time.Now()) {
		return nil, transcribe.ErrWorkerNotFound
	}
	w, ok := s.workers[s.leaderID]
	if !ok {
		return nil, transcribe.ErrWorkerNotFound
	}
	cp := *w
	return &cp, nil
}

// markLeader mirrors leadership onto worker records. Callers hold s.mu.
func (s *Store) markLeader(leaderKey string, until time.Time) {
	for key, w := range s.workers {
		if key == leaderKey {
			w.IsLeader = true
			u := until
			w.LeaderUntil = &u
		} else {
			w.IsLeader = false
			w.LeaderUntil = nil
		}
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func statusIn(s job.Status, set []job.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func sortByCreated(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
}

// terminalAt is when a job reached its terminal state: CompletedAt when
// set, otherwise the last update.
func terminalAt(j *job.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.UpdatedAt
}

func slice(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
