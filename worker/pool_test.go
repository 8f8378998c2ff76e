package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/queue"
	"github.com/robertor4/transcribe-sub002/store/memory"
	"github.com/robertor4/transcribe-sub002/worker"
)

func fastConfig() transcribe.Config {
	cfg := transcribe.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.LeaseInterval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func seedJobAndTask(t *testing.T, store job.Store, q queue.Queue, userID string) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          userID,
		SourceLocation:  "https://example.com/a.mp3",
		Status:          job.StatusPending,
		MaxAttempts:     3,
	}
	if err := store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := q.Enqueue(context.Background(), &queue.Task{
		TranscriptionID: j.TranscriptionID,
		UserID:          j.UserID,
		MaxAttempts:     j.MaxAttempts,
		RunAt:           time.Now(),
		EnqueuedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return j
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolProcessesAndAcks(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory(queue.WithMonitorInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	j := seedJobAndTask(t, store, q, "user-1")

	var processed atomic.Int32
	pool := worker.New(fastConfig(), q, store, func(_ context.Context, got *job.Job) error {
		if got.TranscriptionID != j.TranscriptionID {
			t.Errorf("handler got transcription %s", got.TranscriptionID)
		}
		processed.Add(1)
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = pool.Stop(context.Background()) }) //nolint:errcheck // test cleanup

	waitFor(t, 2*time.Second, func() bool { return processed.Load() == 1 })
	waitFor(t, 2*time.Second, func() bool {
		ok, err := q.Contains(context.Background(), j.TranscriptionID)
		return err == nil && !ok
	})
}

func TestPoolStartRequiresQueue(t *testing.T) {
	pool := worker.New(fastConfig(), nil, memory.New(), func(context.Context, *job.Job) error {
		return nil
	})
	if err := pool.Start(context.Background()); !errors.Is(err, transcribe.ErrNoQueue) {
		t.Fatalf("err = %v, want ErrNoQueue", err)
	}
}

func TestPoolRetriesFailedTask(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory(queue.WithMonitorInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	seedJobAndTask(t, store, q, "user-1")

	var attempts atomic.Int32
	pool := worker.New(fastConfig(), q, store, func(context.Context, *job.Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient blowup")
		}
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = pool.Stop(context.Background()) }) //nolint:errcheck // test cleanup

	waitFor(t, 5*time.Second, func() bool { return attempts.Load() >= 2 })
}

func TestPoolRequeuesWhenUserAtCapacity(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory(queue.WithMonitorInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	seedJobAndTask(t, store, q, "busy-user")
	seedJobAndTask(t, store, q, "busy-user")

	manager := queue.NewManager(queue.UserConfig{MaxConcurrency: 1})
	release := make(chan struct{})
	var started atomic.Int32
	cfg := fastConfig()
	cfg.Concurrency = 4
	pool := worker.New(cfg, q, store, func(context.Context, *job.Job) error {
		started.Add(1)
		<-release
		return nil
	}, worker.WithManager(manager))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = pool.Stop(context.Background()) }) //nolint:errcheck // test cleanup

	waitFor(t, 2*time.Second, func() bool { return started.Load() == 1 })
	// The second task stays requeued while the first holds the user slot.
	time.Sleep(100 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Fatalf("started = %d, want 1 while slot held", got)
	}
	close(release)
	waitFor(t, 5*time.Second, func() bool { return started.Load() == 2 })
}

func TestPoolAcksTaskForMissingJob(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory(queue.WithMonitorInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	trID := id.NewTranscriptionID()
	if err := q.Enqueue(context.Background(), &queue.Task{
		TranscriptionID: trID,
		UserID:          "user-1",
		MaxAttempts:     3,
		RunAt:           time.Now(),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pool := worker.New(fastConfig(), q, store, func(context.Context, *job.Job) error {
		t.Error("handler ran for missing job")
		return nil
	})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = pool.Stop(context.Background()) }) //nolint:errcheck // test cleanup

	waitFor(t, 2*time.Second, func() bool {
		ok, err := q.Contains(context.Background(), trID)
		return err == nil && !ok
	})
}

func TestPoolRegistersWorker(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory(queue.WithMonitorInterval(10 * time.Millisecond))
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	pool := worker.New(fastConfig(), q, store, func(context.Context, *job.Job) error { return nil },
		worker.WithClusterStore(store), worker.WithHostname("test-host"))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	workers, err := store.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].Hostname != "test-host" {
		t.Fatalf("workers = %+v", workers)
	}

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	workers, err = store.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 0 {
		t.Fatalf("worker not deregistered: %+v", workers)
	}
}
