// Package redisqueue implements the durable task queue on Redis: sorted
// sets hold the waiting, delayed and active (leased) task IDs, string keys
// hold MessagePack task records, and a monitor promotes due delayed tasks
// and reports expired leases.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/robertor4/transcribe-sub002/backoff"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/queue"
)

// Queue is a Redis-backed queue.Queue.
type Queue struct {
	client   redis.UniversalClient
	logger   *slog.Logger
	leaseTTL time.Duration
	interval time.Duration
	retry    backoff.Strategy

	events chan queue.Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithLeaseTTL sets how long a lease lasts before the task counts as
// stalled.
func WithLeaseTTL(d time.Duration) Option {
	return func(q *Queue) { q.leaseTTL = d }
}

// WithMonitorInterval sets how often due and stalled tasks are collected.
func WithMonitorInterval(d time.Duration) Option {
	return func(q *Queue) { q.interval = d }
}

// WithRetryStrategy sets the delay strategy applied by Retry.
func WithRetryStrategy(s backoff.Strategy) Option {
	return func(q *Queue) { q.retry = s }
}

// New creates a Redis queue and starts its monitor.
func New(client redis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		client:   client,
		logger:   slog.Default(),
		leaseTTL: 30 * time.Second,
		interval: time.Second,
		retry:    backoff.DefaultStrategy(),
		events:   make(chan queue.Event, 64),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.wg.Add(1)
	go q.monitorLoop()
	return q
}

var _ queue.Queue = (*Queue)(nil)

// waitingScore orders the waiting set: higher priority first, then enqueue
// order. The millisecond timestamp is scaled down so priority always
// dominates.
func waitingScore(priority int, runAt time.Time) float64 {
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

func (q *Queue) Enqueue(ctx context.Context, t *queue.Task) error {
	if q.isClosed() {
		return queue.ErrClosed()
	}
	now := time.Now().UTC()
	cp := *t
	if cp.ID == "" {
		cp.ID = uuid.NewString()
		t.ID = cp.ID
	}
	if cp.EnqueuedAt.IsZero() {
		cp.EnqueuedAt = now
	}
	data, err := encodeTask(&cp)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKey(cp.ID), data, 0)
	pipe.SAdd(ctx, trTasksKey(cp.TranscriptionID), cp.ID)
	if cp.RunAt.After(now) {
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(cp.RunAt.UnixMilli()), Member: cp.ID})
	} else {
		pipe.ZAdd(ctx, waitingKey, redis.Z{Score: waitingScore(cp.Priority, cp.EnqueuedAt), Member: cp.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: enqueue: %w", err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, limit int) ([]*queue.Task, error) {
	if q.isClosed() {
		return nil, queue.ErrClosed()
	}
	if limit < 1 {
		limit = 1
	}

	var out []*queue.Task
	for len(out) < limit {
		members, err := q.client.ZPopMin(ctx, waitingKey, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("queue/redis: dequeue: %w", err)
		}
		if len(members) == 0 {
			break
		}
		taskID, _ := members[0].Member.(string)
		t, err := q.loadTask(ctx, taskID)
		if err != nil {
			// Record vanished under us; drop the dangling member.
			q.logger.Warn("dangling waiting member", slog.String("task_id", taskID), slog.Any("error", err))
			continue
		}
		now := time.Now().UTC()
		deadline := now.Add(q.leaseTTL)
		t.LeasedAt = &now
		t.LeaseDeadline = &deadline
		if err := q.saveTask(ctx, t); err != nil {
			return nil, err
		}
		if err := q.client.ZAdd(ctx, activeKey, redis.Z{
			Score:  float64(deadline.UnixMilli()),
			Member: t.ID,
		}).Err(); err != nil {
			return nil, fmt.Errorf("queue/redis: lease: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (q *Queue) Ack(ctx context.Context, taskID string) error {
	t, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	return q.removeTask(ctx, t)
}

func (q *Queue) Retry(ctx context.Context, taskID string, cause error) error {
	t, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	t.Attempt++
	t.LeasedAt = nil
	t.LeaseDeadline = nil

	if t.MaxAttempts > 0 && t.Attempt >= t.MaxAttempts {
		if err := q.removeTask(ctx, t); err != nil {
			return err
		}
		q.emit(queue.Event{Type: queue.EventExhausted, TaskID: t.ID, TranscriptionID: t.TranscriptionID})
		q.logger.Warn("task exhausted retries",
			slog.String("task_id", t.ID),
			slog.Int("attempts", t.Attempt),
			slog.Any("cause", cause))
		return nil
	}

	t.RunAt = time.Now().Add(q.retry.Delay(t.Attempt))
	if err := q.saveTask(ctx, t); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, t.ID)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(t.RunAt.UnixMilli()), Member: t.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: retry: %w", err)
	}
	return nil
}

func (q *Queue) Requeue(ctx context.Context, taskID string, delay time.Duration) error {
	t, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	t.LeasedAt = nil
	t.LeaseDeadline = nil
	t.RunAt = time.Now().Add(delay)
	if err := q.saveTask(ctx, t); err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, t.ID)
	if delay > 0 {
		pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(t.RunAt.UnixMilli()), Member: t.ID})
	} else {
		pipe.ZAdd(ctx, waitingKey, redis.Z{Score: waitingScore(t.Priority, t.RunAt), Member: t.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: requeue: %w", err)
	}
	return nil
}

func (q *Queue) ExtendLease(ctx context.Context, taskID string) error {
	t, err := q.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(q.leaseTTL)
	t.LeaseDeadline = &deadline
	if err := q.saveTask(ctx, t); err != nil {
		return err
	}
	if err := q.client.ZAdd(ctx, activeKey, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: taskID,
	}).Err(); err != nil {
		return fmt.Errorf("queue/redis: extend lease: %w", err)
	}
	return nil
}

func (q *Queue) Active(ctx context.Context) ([]id.TranscriptionID, error) {
	return q.listSet(ctx, activeKey)
}

func (q *Queue) Waiting(ctx context.Context) ([]id.TranscriptionID, error) {
	return q.listSet(ctx, waitingKey)
}

func (q *Queue) Delayed(ctx context.Context) ([]id.TranscriptionID, error) {
	return q.listSet(ctx, delayedKey)
}

func (q *Queue) Contains(ctx context.Context, trID id.TranscriptionID) (bool, error) {
	n, err := q.client.SCard(ctx, trTasksKey(trID)).Result()
	if err != nil {
		return false, fmt.Errorf("queue/redis: contains: %w", err)
	}
	return n > 0, nil
}

func (q *Queue) Events() <-chan queue.Event { return q.events }

func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	close(q.events)
	return nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) loadTask(ctx context.Context, taskID string) (*queue.Task, error) {
	data, err := q.client.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrNotFound(taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("queue/redis: load task: %w", err)
	}
	return decodeTask(data)
}

func (q *Queue) saveTask(ctx context.Context, t *queue.Task) error {
	data, err := encodeTask(t)
	if err != nil {
		return err
	}
	if err := q.client.Set(ctx, taskKey(t.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("queue/redis: save task: %w", err)
	}
	return nil
}

func (q *Queue) removeTask(ctx context.Context, t *queue.Task) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, taskKey(t.ID))
	pipe.SRem(ctx, trTasksKey(t.TranscriptionID), t.ID)
	pipe.ZRem(ctx, waitingKey, t.ID)
	pipe.ZRem(ctx, delayedKey, t.ID)
	pipe.ZRem(ctx, activeKey, t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: remove task: %w", err)
	}
	return nil
}

func (q *Queue) listSet(ctx context.Context, key string) ([]id.TranscriptionID, error) {
	taskIDs, err := q.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: list %s: %w", key, err)
	}
	out := make([]id.TranscriptionID, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		t, err := q.loadTask(ctx, taskID)
		if err != nil {
			continue //nolint:errcheck // dangling member, skipped
		}
		out = append(out, t.TranscriptionID)
	}
	return out, nil
}

func (q *Queue) monitorLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			q.promoteDue(ctx)
			q.collectStalled(ctx)
			cancel()
		}
	}
}

// promoteDue moves delayed tasks whose run time has arrived into the
// waiting set.
func (q *Queue) promoteDue(ctx context.Context) {
	now := time.Now()
	taskIDs, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		q.logger.Error("promote due tasks", slog.Any("error", err))
		return
	}
	for _, taskID := range taskIDs {
		t, err := q.loadTask(ctx, taskID)
		if err != nil {
			q.client.ZRem(ctx, delayedKey, taskID)
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, taskID)
		pipe.ZAdd(ctx, waitingKey, redis.Z{Score: waitingScore(t.Priority, t.RunAt), Member: taskID})
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("promote task", slog.String("task_id", taskID), slog.Any("error", err))
		}
	}
}

// collectStalled returns expired leases to the waiting set and emits
// EventStalled for each.
func (q *Queue) collectStalled(ctx context.Context) {
	now := time.Now()
	taskIDs, err := q.client.ZRangeByScore(ctx, activeKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		q.logger.Error("collect stalled leases", slog.Any("error", err))
		return
	}
	for _, taskID := range taskIDs {
		t, err := q.loadTask(ctx, taskID)
		if err != nil {
			q.client.ZRem(ctx, activeKey, taskID)
			continue
		}
		t.LeasedAt = nil
		t.LeaseDeadline = nil
		t.RunAt = now
		if err := q.saveTask(ctx, t); err != nil {
			q.logger.Error("reset stalled task", slog.String("task_id", taskID), slog.Any("error", err))
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, activeKey, taskID)
		pipe.ZAdd(ctx, waitingKey, redis.Z{Score: waitingScore(t.Priority, t.RunAt), Member: taskID})
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("requeue stalled task", slog.String("task_id", taskID), slog.Any("error", err))
			continue
		}
		q.emit(queue.Event{Type: queue.EventStalled, TaskID: taskID, TranscriptionID: t.TranscriptionID})
	}
}

// emit delivers without blocking; the startup recovery scan covers dropped
// events.
func (q *Queue) emit(ev queue.Event) {
	select {
	case q.events <- ev:
	default:
		q.logger.Warn("queue event dropped", slog.String("type", string(ev.Type)))
	}
}
