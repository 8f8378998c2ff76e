package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/engine"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	"github.com/robertor4/transcribe-sub002/notify"
	"github.com/robertor4/transcribe-sub002/pipeline"
	"github.com/robertor4/transcribe-sub002/provider"
	"github.com/robertor4/transcribe-sub002/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastConfig() transcribe.Config {
	cfg := transcribe.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.LeaseInterval = 50 * time.Millisecond
	cfg.LeaseTTL = 200 * time.Millisecond
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.GracePeriod = 50 * time.Millisecond
	cfg.ShutdownTimeout = 3 * time.Second
	return cfg
}

func newTranscriber(t *testing.T, s *memory.Store) *transcribe.Transcriber {
	t.Helper()
	tr, err := transcribe.New(
		transcribe.WithStore(s),
		transcribe.WithConfig(fastConfig()),
		transcribe.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("transcribe.New: %v", err)
	}
	return tr
}

// stubProvider returns a canned transcript, or an error, and counts calls.
type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, src provider.Source, report provider.ProgressFunc) (*job.Result, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Transcribe(ctx context.Context, src provider.Source, report provider.ProgressFunc) (*job.Result, error) {
	p.calls.Add(1)
	return p.fn(ctx, src, report)
}

func okProvider(name, text string) *stubProvider {
	return &stubProvider{
		name: name,
		fn: func(_ context.Context, _ provider.Source, report provider.ProgressFunc) (*job.Result, error) {
			report(50, "transcribing")
			return &job.Result{Text: text, Language: "en", DurationSeconds: 12, Provider: name}, nil
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func stopEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ──────────────────────────────────────────────────
// End-to-end: Submit → Process → Completed
// ──────────────────────────────────────────────────

func TestEngineSubmitToCompletion(t *testing.T) {
	s := memory.New()
	eng, err := engine.Build(newTranscriber(t, s),
		engine.WithProvider(okProvider("stub", "hello world")),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	j, err := eng.Submit(ctx, "user-1", "https://cdn.example.com/call.mp3",
		job.WithLanguage("en"),
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Fatalf("status after submit = %q", j.Status)
	}

	waitFor(t, "job completion", func() bool {
		got, getErr := eng.Job(ctx, j.TranscriptionID)
		return getErr == nil && got.Status == job.StatusCompleted
	})

	got, err := eng.Job(ctx, j.TranscriptionID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got.Progress != 100 || got.CompletedAt == nil {
		t.Errorf("job = progress %d, completedAt %v", got.Progress, got.CompletedAt)
	}
	if got.Language != "en" || got.DurationSeconds != 12 {
		t.Errorf("job = language %q, duration %v", got.Language, got.DurationSeconds)
	}

	res, err := eng.Result(ctx, j.TranscriptionID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Text != "hello world" || res.Provider != "stub" {
		t.Errorf("result = %q from %q", res.Text, res.Provider)
	}
}

// ──────────────────────────────────────────────────
// Provider failover
// ──────────────────────────────────────────────────

func TestEngineProviderFailover(t *testing.T) {
	s := memory.New()

	primary := &stubProvider{
		name: "primary",
		fn: func(_ context.Context, _ provider.Source, _ provider.ProgressFunc) (*job.Result, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
	fallback := okProvider("fallback", "rescued transcript")
	chain, err := provider.NewChain(primary, fallback)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	eng, err := engine.Build(newTranscriber(t, s), engine.WithProvider(chain))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	j, err := eng.Submit(ctx, "user-1", "https://cdn.example.com/call.mp3")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "fallback completion", func() bool {
		got, getErr := eng.Job(ctx, j.TranscriptionID)
		return getErr == nil && got.Status == job.StatusCompleted
	})

	res, err := eng.Result(ctx, j.TranscriptionID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Provider != "fallback" {
		t.Errorf("provider = %q, want fallback", res.Provider)
	}
	if primary.calls.Load() == 0 {
		t.Error("primary was never tried")
	}
}

// ──────────────────────────────────────────────────
// Crash recovery
// ──────────────────────────────────────────────────

func TestEngineRecoversOrphanedJob(t *testing.T) {
	s := memory.New()

	// A job a crashed worker left PROCESSING: stale record, no queue task.
	orphan := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		SourceLocation:  "https://cdn.example.com/call.mp3",
		Status:          job.StatusProcessing,
		MaxAttempts:     3,
	}
	orphan.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	if err := s.CreateJob(context.Background(), orphan); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	stub := okProvider("stub", "recovered transcript")
	eng, err := engine.Build(newTranscriber(t, s), engine.WithProvider(stub))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	// The startup scan re-enqueues the orphan and a worker finishes it.
	waitFor(t, "orphan completion", func() bool {
		got, getErr := eng.Job(ctx, orphan.TranscriptionID)
		return getErr == nil && got.Status == job.StatusCompleted
	})

	got, err := eng.Job(ctx, orphan.TranscriptionID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got.CompletedAt == nil || got.Progress != 100 {
		t.Errorf("job = progress %d, completedAt %v", got.Progress, got.CompletedAt)
	}
	res, err := eng.Result(ctx, orphan.TranscriptionID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Text != "recovered transcript" {
		t.Errorf("result = %q", res.Text)
	}
	if stub.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", stub.calls.Load())
	}
}

// ──────────────────────────────────────────────────
// Exhausted retries fail with the generic message
// ──────────────────────────────────────────────────

func TestEngineExhaustedRetriesFailJob(t *testing.T) {
	s := memory.New()
	failing := &stubProvider{
		name: "failing",
		fn: func(_ context.Context, _ provider.Source, _ provider.ProgressFunc) (*job.Result, error) {
			return nil, errors.New("codec not supported: vorbis-floor1")
		},
	}

	eng, err := engine.Build(newTranscriber(t, s), engine.WithProvider(failing))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	j, err := eng.Submit(ctx, "user-1", "https://cdn.example.com/call.mp3",
		job.WithMaxAttempts(1),
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "job failure", func() bool {
		got, getErr := eng.Job(ctx, j.TranscriptionID)
		return getErr == nil && got.Status == job.StatusFailed
	})

	got, err := eng.Job(ctx, j.TranscriptionID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	// The raw provider error never reaches the user-facing record.
	if got.Error != "transcription failed" {
		t.Errorf("error = %q", got.Error)
	}
}

// ──────────────────────────────────────────────────
// User-facing failure messages survive
// ──────────────────────────────────────────────────

func TestEngineUserFacingFailureMessage(t *testing.T) {
	s := memory.New()
	failing := &stubProvider{
		name: "failing",
		fn: func(_ context.Context, _ provider.Source, _ provider.ProgressFunc) (*job.Result, error) {
			return nil, pipeline.Failf(errors.New("404"), "the audio file could not be found")
		},
	}

	eng, err := engine.Build(newTranscriber(t, s), engine.WithProvider(failing))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	j, err := eng.Submit(ctx, "user-1", "https://cdn.example.com/missing.mp3",
		job.WithMaxAttempts(1),
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "job failure", func() bool {
		got, getErr := eng.Job(ctx, j.TranscriptionID)
		return getErr == nil && got.Status == job.StatusFailed
	})

	got, err := eng.Job(ctx, j.TranscriptionID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got.Error != "the audio file could not be found" {
		t.Errorf("error = %q", got.Error)
	}
}

// ──────────────────────────────────────────────────
// Notifications reach broker subscribers
// ──────────────────────────────────────────────────

func TestEngineNotifiesSubscribers(t *testing.T) {
	s := memory.New()
	eng, err := engine.Build(newTranscriber(t, s),
		engine.WithProvider(okProvider("stub", "notified")),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sub := eng.Broker().Subscribe("test-sub", notify.UserTopic("user-1"))

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	if _, err := eng.Submit(ctx, "user-1", "https://cdn.example.com/call.mp3"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var sawCompleted bool
	deadline := time.After(5 * time.Second)
	for !sawCompleted {
		select {
		case evt := <-sub.C():
			if evt.Type == notify.EventCompleted {
				sawCompleted = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for completion event")
		}
	}
}

// ──────────────────────────────────────────────────
// Concurrent jobs
// ──────────────────────────────────────────────────

func TestEngineProcessesConcurrentJobs(t *testing.T) {
	s := memory.New()
	p := okProvider("stub", "bulk")
	eng, err := engine.Build(newTranscriber(t, s), engine.WithProvider(p))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	const n = 10
	ids := make([]*job.Job, 0, n)
	for range n {
		j, submitErr := eng.Submit(ctx, "user-1", "https://cdn.example.com/call.mp3")
		if submitErr != nil {
			t.Fatalf("Submit: %v", submitErr)
		}
		ids = append(ids, j)
	}

	waitFor(t, "all jobs", func() bool {
		for _, j := range ids {
			got, getErr := eng.Job(ctx, j.TranscriptionID)
			if getErr != nil || got.Status != job.StatusCompleted {
				return false
			}
		}
		return true
	})

	if got := p.calls.Load(); got != n {
		t.Errorf("provider calls = %d, want %d", got, n)
	}
}

// ──────────────────────────────────────────────────
// Submit validation and build errors
// ──────────────────────────────────────────────────

func TestEngineSubmitValidation(t *testing.T) {
	s := memory.New()
	eng, err := engine.Build(newTranscriber(t, s),
		engine.WithProvider(okProvider("stub", "x")),
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := eng.Submit(context.Background(), "", "https://x/y.mp3"); !errors.Is(err, transcribe.ErrInvalidConfig) {
		t.Errorf("missing user: %v", err)
	}
	if _, err := eng.Submit(context.Background(), "user-1", ""); !errors.Is(err, transcribe.ErrInvalidConfig) {
		t.Errorf("missing source: %v", err)
	}
}

func TestEngineBuildRequiresProvider(t *testing.T) {
	_, err := engine.Build(newTranscriber(t, memory.New()))
	if !errors.Is(err, transcribe.ErrNoProvider) {
		t.Fatalf("err = %v", err)
	}
}

// badStore implements Storer but none of the subsystem interfaces.
type badStore struct{}

func (badStore) Migrate(_ context.Context) error { return nil }
func (badStore) Ping(_ context.Context) error    { return nil }
func (badStore) Close() error                    { return nil }

func TestEngineBuildBadStore(t *testing.T) {
	tr, err := transcribe.New(transcribe.WithStore(badStore{}), transcribe.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("transcribe.New: %v", err)
	}
	if _, err := engine.Build(tr, engine.WithProvider(okProvider("stub", "x"))); err == nil {
		t.Fatal("expected error for store missing job.Store")
	}
}
