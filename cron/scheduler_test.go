package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fastScheduler ticks and elects quickly enough for tests.
func fastScheduler(s *memory.Store) *cron.Scheduler {
	return cron.NewScheduler(s, s, id.NewWorkerID(),
		cron.WithTickInterval(10*time.Millisecond),
		cron.WithLeaderTTL(100*time.Millisecond),
		cron.WithLockTTL(time.Second),
		cron.WithLogger(testLogger()),
	)
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

func stopScheduler(t *testing.T, sched *cron.Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerFiresDueEntry(t *testing.T) {
	s := memory.New()
	sched := fastScheduler(s)

	var fired atomic.Int32
	ctx := context.Background()
	if err := sched.Register(ctx, "heartbeat", "@every 50ms", func(_ context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopScheduler(t, sched)

	waitFor(t, "entry to fire twice", func() bool { return fired.Load() >= 2 })

	entry, err := s.GetCron(ctx, "heartbeat")
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if entry.LastRunAt == nil {
		t.Error("LastRunAt not recorded")
	}
	if entry.NextRunAt == nil || !entry.NextRunAt.After(*entry.LastRunAt) {
		t.Errorf("NextRunAt = %v, LastRunAt = %v", entry.NextRunAt, entry.LastRunAt)
	}
}

func TestSchedulerRunNow(t *testing.T) {
	s := memory.New()
	sched := fastScheduler(s)

	var fired atomic.Int32
	ctx := context.Background()
	if err := sched.Register(ctx, "retention", "@every 24h", func(_ context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Not started yet: no leadership, manual trigger refused.
	if err := sched.RunNow(ctx, "retention"); !errors.Is(err, transcribe.ErrNotLeader) {
		t.Fatalf("err = %v, want ErrNotLeader", err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopScheduler(t, sched)
	waitFor(t, "leadership", sched.IsLeader)

	if err := sched.RunNow(ctx, "retention"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if fired.Load() != 1 {
		t.Fatalf("fired = %d, want 1", fired.Load())
	}
	if err := sched.RunNow(ctx, "no-such-entry"); !errors.Is(err, transcribe.ErrCronNotFound) {
		t.Fatalf("err = %v, want ErrCronNotFound", err)
	}
}

func TestSchedulerOnlyLeaderTicks(t *testing.T) {
	s := memory.New()
	leader := fastScheduler(s)
	follower := fastScheduler(s)

	var leaderFired, followerFired atomic.Int32
	ctx := context.Background()
	if err := leader.Register(ctx, "report", "@every 50ms", func(_ context.Context) error {
		leaderFired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := leader.Start(ctx); err != nil {
		t.Fatalf("start leader: %v", err)
	}
	defer stopScheduler(t, leader)
	waitFor(t, "leadership", leader.IsLeader)

	// Same entry name; the follower would also fire it if it ever ticked.
	if err := follower.Register(ctx, "report", "@every 50ms", func(_ context.Context) error {
		followerFired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("register follower: %v", err)
	}
	if err := follower.Start(ctx); err != nil {
		t.Fatalf("start follower: %v", err)
	}
	defer stopScheduler(t, follower)

	waitFor(t, "leader to fire", func() bool { return leaderFired.Load() >= 2 })

	if follower.IsLeader() {
		t.Error("both schedulers claim leadership")
	}
	if got := followerFired.Load(); got != 0 {
		t.Errorf("follower fired %d times", got)
	}
}

func TestSchedulerFollowerTakesOverLeadership(t *testing.T) {
	s := memory.New()
	first := fastScheduler(s)
	second := fastScheduler(s)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first: %v", err)
	}
	waitFor(t, "first leadership", first.IsLeader)

	if err := second.Start(ctx); err != nil {
		t.Fatalf("start second: %v", err)
	}
	defer stopScheduler(t, second)

	// Stopping the first releases its lease; the second should win the
	// next election.
	stopScheduler(t, first)
	waitFor(t, "second leadership", second.IsLeader)
}

func TestSchedulerReregisterUpdatesSchedule(t *testing.T) {
	s := memory.New()
	sched := fastScheduler(s)

	ctx := context.Background()
	noop := func(_ context.Context) error { return nil }
	if err := sched.Register(ctx, "sweep", "@every 1h", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := sched.Register(ctx, "sweep", "@every 5m", noop); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	entries, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Schedule != "@every 5m" {
		t.Errorf("schedule = %q", entries[0].Schedule)
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	s := memory.New()
	sched := fastScheduler(s)

	err := sched.Register(context.Background(), "bad", "every day at nine", func(_ context.Context) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSchedulerSkipsDisabledEntry(t *testing.T) {
	s := memory.New()
	sched := fastScheduler(s)

	var fired atomic.Int32
	ctx := context.Background()
	if err := sched.Register(ctx, "paused", "@every 20ms", func(_ context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	entry, err := s.GetCron(ctx, "paused")
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	entry.Enabled = false
	if err := s.UpdateCronEntry(ctx, entry); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopScheduler(t, sched)

	waitFor(t, "leadership", sched.IsLeader)
	time.Sleep(150 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("disabled entry fired %d times", got)
	}
}

func TestSchedulerKeepsScheduleAfterHandlerError(t *testing.T) {
	s := memory.New()
	sched := fastScheduler(s)

	var fired atomic.Int32
	ctx := context.Background()
	if err := sched.Register(ctx, "flaky", "@every 30ms", func(_ context.Context) error {
		fired.Add(1)
		return context.DeadlineExceeded
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopScheduler(t, sched)

	// A failing handler keeps firing on schedule.
	waitFor(t, "repeated fires despite errors", func() bool { return fired.Load() >= 2 })
}
