package redisqueue

import (
	"testing"
	"time"

	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/queue"
)

func TestWaitingScorePriorityDominates(t *testing.T) {
	now := time.Now()
	high := waitingScore(10, now)
	low := waitingScore(0, now.Add(-time.Hour))
	if high >= low {
		t.Fatalf("priority 10 score %v not below priority 0 score %v", high, low)
	}
}

func TestWaitingScoreFIFOWithinPriority(t *testing.T) {
	now := time.Now()
	first := waitingScore(5, now)
	second := waitingScore(5, now.Add(time.Second))
	if first >= second {
		t.Fatalf("earlier enqueue %v not below later %v", first, second)
	}
}

func TestTaskCodecRoundTrip(t *testing.T) {
	in := &queue.Task{
		ID:              "task-1",
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          "user-1",
		Priority:        3,
		MaxAttempts:     3,
		RunAt:           time.Now().UTC().Truncate(time.Millisecond),
		EnqueuedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	data, err := encodeTask(in)
	if err != nil {
		t.Fatalf("encodeTask: %v", err)
	}
	out, err := decodeTask(data)
	if err != nil {
		t.Fatalf("decodeTask: %v", err)
	}
	if out.ID != in.ID || out.TranscriptionID != in.TranscriptionID || out.Priority != in.Priority {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}
