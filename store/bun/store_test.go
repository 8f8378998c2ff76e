//go:build integration

package bunstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	bunstore "github.com/robertor4/transcribe-sub002/store/bun"
)

func setupStore(t *testing.T) *bunstore.Store {
	t.Helper()
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx, "postgres:16-alpine",
		pgcontainer.WithDatabase("transcribe_test"),
		pgcontainer.WithUsername("transcribe"),
		pgcontainer.WithPassword("transcribe"),
		pgcontainer.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	s, err := bunstore.Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		SourceLocation:  "https://example.com/audio.mp3",
		SourcePath:      "audio/source.mp3",
		Status:          job.StatusPending,
		MaxAttempts:     3,
	}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, transcribe.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	if err := s.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
		Status:   job.StatusProcessing,
		Progress: 5,
	}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	got, err := s.GetJob(ctx, j.TranscriptionID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusProcessing || got.Progress != 5 {
		t.Fatalf("after write: %+v", got)
	}

	now := time.Now().UTC()
	if err := s.WriteStatus(ctx, j.TranscriptionID, job.StatusWrite{
		Status:      job.StatusCompleted,
		Progress:    100,
		CompletedAt: &now,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.GetJob(ctx, j.TranscriptionID)
	if got.Status != job.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("after complete: %+v", got)
	}
	if got.Error != "" {
		t.Fatalf("error not cleared by whole-block write: %q", got.Error)
	}
}

func TestResultUpsert(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		SourceLocation:  "https://example.com/audio.mp3",
		Status:          job.StatusProcessing,
	}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	r := &job.Result{
		TranscriptionID: j.TranscriptionID,
		Text:            "first pass",
		Language:        "en",
		Speakers:        []string{"S1", "S2"},
		Segments:        []job.Segment{{Start: 0, End: 2.5, Text: "first pass", Speaker: "S1"}},
		DurationSeconds: 2.5,
		Provider:        "remote",
	}
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	r.Text = "second pass"
	if err := s.SaveResult(ctx, r); err != nil {
		t.Fatalf("SaveResult upsert: %v", err)
	}
	got, err := s.GetResult(ctx, j.TranscriptionID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Text != "second pass" || len(got.Speakers) != 2 || len(got.Segments) != 1 {
		t.Fatalf("result = %+v", got)
	}
}

func TestRetentionSelection(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	old := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		SourceLocation:  "https://example.com/a.mp3",
		SourcePath:      "audio/a.mp3",
		Status:          job.StatusCompleted,
	}
	past := time.Now().UTC().Add(-40 * 24 * time.Hour)
	old.CompletedAt = &past
	if err := s.CreateJob(ctx, old); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	expired, err := s.ListExpiredSources(ctx, time.Now().UTC().Add(-30*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListExpiredSources: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}

	if err := s.ClearSource(ctx, old.TranscriptionID); err != nil {
		t.Fatalf("ClearSource: %v", err)
	}
	expired, _ = s.ListExpiredSources(ctx, time.Now().UTC().Add(-30*24*time.Hour), 10)
	if len(expired) != 0 {
		t.Fatal("cleared source still selected")
	}
}

func TestLeadershipExclusive(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a, b := id.NewWorkerID(), id.NewWorkerID()

	ok, err := s.AcquireLeadership(ctx, a, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = s.AcquireLeadership(ctx, b, time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second worker stole a live lease")
	}
	ok, err = s.RenewLeadership(ctx, a, time.Minute)
	if err != nil || !ok {
		t.Fatalf("renew: ok=%v err=%v", ok, err)
	}
}
