package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robertor4/transcribe-sub002/backoff"
	"github.com/robertor4/transcribe-sub002/id"
)

type location int

const (
	locWaiting location = iota
	locDelayed
	locActive
)

type taskEntry struct {
	task *Task
	loc  location
}

// Memory is an in-process Queue for tests and single-node deployments. A
// background monitor returns expired leases to the waiting set and emits
// EventStalled.
type Memory struct {
	mu       sync.Mutex
	tasks    map[string]*taskEntry
	events   chan Event
	closed   bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
	leaseTTL time.Duration
	interval time.Duration
	retry    backoff.Strategy
	seq      int
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithLeaseTTL sets how long a lease lasts before the task counts as
// stalled.
func WithLeaseTTL(d time.Duration) MemoryOption {
	return func(m *Memory) { m.leaseTTL = d }
}

// WithMonitorInterval sets how often expired leases are collected.
func WithMonitorInterval(d time.Duration) MemoryOption {
	return func(m *Memory) { m.interval = d }
}

// WithRetryStrategy sets the delay strategy applied by Retry.
func WithRetryStrategy(s backoff.Strategy) MemoryOption {
	return func(m *Memory) { m.retry = s }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = l }
}

// NewMemory creates an in-memory queue and starts its lease monitor.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tasks:    make(map[string]*taskEntry),
		events:   make(chan Event, 64),
		stopCh:   make(chan struct{}),
		logger:   slog.Default(),
		leaseTTL: 30 * time.Second,
		interval: 500 * time.Millisecond,
		retry:    backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.wg.Add(1)
	go m.monitorLoop()
	return m
}

var _ Queue = (*Memory)(nil)

func (m *Memory) Enqueue(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed()
	}
	cp := *t
	if cp.ID == "" {
		m.seq++
		cp.ID = fmt.Sprintf("task-%d", m.seq)
		t.ID = cp.ID
	}
	if cp.EnqueuedAt.IsZero() {
		cp.EnqueuedAt = time.Now().UTC()
	}
	loc := locWaiting
	if cp.RunAt.After(time.Now()) {
		loc = locDelayed
	}
	m.tasks[cp.ID] = &taskEntry{task: &cp, loc: loc}
	return nil
}

func (m *Memory) Dequeue(_ context.Context, limit int) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed()
	}
	now := time.Now()

	var due []*taskEntry
	for _, e := range m.tasks {
		if e.loc == locActive {
			continue
		}
		if e.task.RunAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].task.Priority != due[j].task.Priority {
			return due[i].task.Priority > due[j].task.Priority
		}
		return due[i].task.RunAt.Before(due[j].task.RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Task, 0, len(due))
	for _, e := range due {
		leased := now
		deadline := now.Add(m.leaseTTL)
		e.loc = locActive
		e.task.LeasedAt = &leased
		e.task.LeaseDeadline = &deadline
		cp := *e.task
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) Ack(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return ErrNotFound(taskID)
	}
	delete(m.tasks, taskID)
	return nil
}

func (m *Memory) Retry(_ context.Context, taskID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound(taskID)
	}
	e.task.Attempt++
	e.task.LeasedAt = nil
	e.task.LeaseDeadline = nil
	if e.task.MaxAttempts > 0 && e.task.Attempt >= e.task.MaxAttempts {
		delete(m.tasks, taskID)
		m.emit(Event{Type: EventExhausted, TaskID: taskID, TranscriptionID: e.task.TranscriptionID})
		m.logger.Warn("task exhausted retries",
			slog.String("task_id", taskID),
			slog.Int("attempts", e.task.Attempt),
			slog.Any("cause", cause))
		return nil
	}
	e.loc = locDelayed
	e.task.RunAt = time.Now().Add(m.retry.Delay(e.task.Attempt))
	return nil
}

func (m *Memory) Requeue(_ context.Context, taskID string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound(taskID)
	}
	e.task.LeasedAt = nil
	e.task.LeaseDeadline = nil
	e.task.RunAt = time.Now().Add(delay)
	if delay > 0 {
		e.loc = locDelayed
	} else {
		e.loc = locWaiting
	}
	return nil
}

func (m *Memory) ExtendLease(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[taskID]
	if !ok || e.loc != locActive {
		return ErrNotFound(taskID)
	}
	deadline := time.Now().Add(m.leaseTTL)
	e.task.LeaseDeadline = &deadline
	return nil
}

func (m *Memory) Active(_ context.Context) ([]id.TranscriptionID, error) {
	return m.list(locActive), nil
}

func (m *Memory) Waiting(_ context.Context) ([]id.TranscriptionID, error) {
	return m.list(locWaiting), nil
}

func (m *Memory) Delayed(_ context.Context) ([]id.TranscriptionID, error) {
	return m.list(locDelayed), nil
}

func (m *Memory) Contains(_ context.Context, trID id.TranscriptionID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.tasks {
		if e.task.TranscriptionID == trID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Events() <-chan Event { return m.events }

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	close(m.events)
	return nil
}

func (m *Memory) list(loc location) []id.TranscriptionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []id.TranscriptionID
	for _, e := range m.tasks {
		if e.loc == loc {
			out = append(out, e.task.TranscriptionID)
		}
	}
	return out
}

func (m *Memory) monitorLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collectStalled()
		}
	}
}

func (m *Memory) collectStalled() {
	now := time.Now()
	m.mu.Lock()
	var stalled []Event
	for _, e := range m.tasks {
		if e.loc != locActive || e.task.LeaseDeadline == nil {
			continue
		}
		if e.task.LeaseDeadline.After(now) {
			continue
		}
		e.loc = locWaiting
		e.task.LeasedAt = nil
		e.task.LeaseDeadline = nil
		e.task.RunAt = now
		stalled = append(stalled, Event{
			Type:            EventStalled,
			TaskID:          e.task.ID,
			TranscriptionID: e.task.TranscriptionID,
		})
	}
	m.mu.Unlock()

	for _, ev := range stalled {
		m.emit(ev)
	}
}

// emit delivers without blocking; a full channel drops the event. Recovery
// scans on startup regardless, so a dropped event delays but never loses a
// job.
func (m *Memory) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("queue event dropped", slog.String("type", string(ev.Type)))
	}
}
