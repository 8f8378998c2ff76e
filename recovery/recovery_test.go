package recovery_test

import (
	"context"
	"testing"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/queue"
	"github.com/robertor4/transcribe-sub002/recovery"
	"github.com/robertor4/transcribe-sub002/store/memory"
)

func fastConfig() transcribe.Config {
	cfg := transcribe.DefaultConfig()
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.GracePeriod = 50 * time.Millisecond
	return cfg
}

// seedStalled creates a job whose record is old enough to fall outside the
// grace period.
func seedStalled(t *testing.T, store job.Store, status job.Status, attempt int) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		SourceLocation:  "https://example.com/a.mp3",
		Status:          status,
		Attempt:         attempt,
		MaxAttempts:     3,
		Priority:        7,
	}
	j.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	if err := store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func TestScanReenqueuesOrphan(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory()
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	j := seedStalled(t, store, job.StatusProcessing, 0)
	svc := recovery.New(fastConfig(), store, q)

	svc.Scan(context.Background())

	fresh, err := store.GetJob(context.Background(), j.TranscriptionID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fresh.Status != job.StatusPending || fresh.Progress != 0 {
		t.Fatalf("status = %s, progress = %d", fresh.Status, fresh.Progress)
	}
	if fresh.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", fresh.Attempt)
	}
	queued, err := q.Contains(context.Background(), j.TranscriptionID)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !queued {
		t.Fatal("orphan not re-enqueued")
	}
}

func TestScanSkipsJobStillQueued(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory()
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	j := seedStalled(t, store, job.StatusPending, 0)
	if err := q.Enqueue(context.Background(), &queue.Task{
		TranscriptionID: j.TranscriptionID,
		UserID:          j.UserID,
		MaxAttempts:     3,
		RunAt:           time.Now(),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	svc := recovery.New(fastConfig(), store, q)
	svc.Scan(context.Background())

	fresh, err := store.GetJob(context.Background(), j.TranscriptionID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	// Still backed by a task: nothing to recover, attempt untouched.
	if fresh.Attempt != 0 {
		t.Fatalf("attempt = %d, want 0", fresh.Attempt)
	}
}

func TestScanRespectsGracePeriod(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory()
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	j := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		Status:          job.StatusProcessing,
		MaxAttempts:     3,
	}
	if err := store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	cfg := fastConfig()
	cfg.GracePeriod = time.Hour
	svc := recovery.New(cfg, store, q)
	svc.Scan(context.Background())

	queued, err := q.Contains(context.Background(), j.TranscriptionID)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if queued {
		t.Fatal("freshly updated job was recovered")
	}
}

func TestScanFailsJobPastRecoveryBudget(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory()
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	j := seedStalled(t, store, job.StatusProcessing, 3)
	svc := recovery.New(fastConfig(), store, q)
	svc.Scan(context.Background())

	fresh, err := store.GetJob(context.Background(), j.TranscriptionID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fresh.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", fresh.Status)
	}
	if fresh.Error != "transcription failed" {
		t.Fatalf("error = %q", fresh.Error)
	}
	queued, err := q.Contains(context.Background(), j.TranscriptionID)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if queued {
		t.Fatal("exhausted job was re-enqueued")
	}
}

func TestStalledEventResetsProcessingJob(t *testing.T) {
	store := memory.New()
	q := queue.NewMemory(queue.WithMonitorInterval(10*time.Millisecond), queue.WithLeaseTTL(20*time.Millisecond))
	t.Cleanup(func() { _ = q.Close() }) //nolint:errcheck // test cleanup

	j := seedStalled(t, store, job.StatusProcessing, 0)
	if err := store.WriteStatus(context.Background(), j.TranscriptionID, job.StatusWrite{
		Status:   job.StatusProcessing,
		Progress: 40,
	}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	if err := q.Enqueue(context.Background(), &queue.Task{
		TranscriptionID: j.TranscriptionID,
		UserID:          j.UserID,
		MaxAttempts:     3,
		RunAt:           time.Now(),
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	svc := recovery.New(fastConfig(), store, q, recovery.WithScanInterval(0))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(svc.Stop)

	// Lease the task and let it stall.
	tasks, err := q.Dequeue(context.Background(), 1)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("Dequeue = %v, %v", tasks, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fresh, err := store.GetJob(context.Background(), j.TranscriptionID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fresh.Status == job.StatusPending && fresh.Progress == 40 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stalled job not reset to pending")
}
