package queue

import (
	"context"
	"time"

	"github.com/robertor4/transcribe-sub002/id"
)

// Task is a unit of queued work referencing a transcription job.
type Task struct {
	ID              string             `json:"id" msgpack:"id"`
	TranscriptionID id.TranscriptionID `json:"transcription_id" msgpack:"transcription_id"`
	UserID          string             `json:"user_id" msgpack:"user_id"`
	Payload         []byte             `json:"payload,omitempty" msgpack:"payload"`

	Attempt     int `json:"attempt" msgpack:"attempt"`
	MaxAttempts int `json:"max_attempts" msgpack:"max_attempts"`
	Priority    int `json:"priority" msgpack:"priority"`

	RunAt      time.Time `json:"run_at" msgpack:"run_at"`
	EnqueuedAt time.Time `json:"enqueued_at" msgpack:"enqueued_at"`

	LeasedAt      *time.Time `json:"leased_at,omitempty" msgpack:"leased_at"`
	LeaseDeadline *time.Time `json:"lease_deadline,omitempty" msgpack:"lease_deadline"`
}

// EventType classifies queue events.
type EventType string

const (
	// EventStalled fires when a leased task outlives its lease deadline.
	EventStalled EventType = "stalled"

	// EventExhausted fires when a task fails its final attempt and is
	// dropped from the queue.
	EventExhausted EventType = "exhausted"
)

// Event is an asynchronous queue notification.
type Event struct {
	Type            EventType
	TaskID          string
	TranscriptionID id.TranscriptionID
}

// Queue is the durable task queue contract. Dequeue leases tasks; a lease
// must be acked, retried, or extended before its deadline, otherwise the
// queue reports the task stalled and returns it to the waiting set.
type Queue interface {
	// Enqueue adds a task. RunAt in the future places it in the delayed
	// set.
	Enqueue(ctx context.Context, t *Task) error

	// Dequeue leases up to limit due tasks, highest priority first.
	Dequeue(ctx context.Context, limit int) ([]*Task, error)

	// Ack removes a successfully processed task.
	Ack(ctx context.Context, taskID string) error

	// Retry records a failed attempt. The task is re-queued with a
	// backoff delay, or dropped (with an EventExhausted) once attempts
	// are exhausted.
	Retry(ctx context.Context, taskID string, cause error) error

	// Requeue returns a leased task to the waiting set after delay
	// without consuming an attempt. Used when a worker declines a task.
	Requeue(ctx context.Context, taskID string, delay time.Duration) error

	// ExtendLease pushes out the lease deadline of an active task.
	ExtendLease(ctx context.Context, taskID string) error

	// Active, Waiting and Delayed list the transcription IDs currently
	// present in each set.
	Active(ctx context.Context) ([]id.TranscriptionID, error)
	Waiting(ctx context.Context) ([]id.TranscriptionID, error)
	Delayed(ctx context.Context) ([]id.TranscriptionID, error)

	// Contains reports whether the transcription has a task in any of the
	// active, waiting or delayed sets.
	Contains(ctx context.Context, trID id.TranscriptionID) (bool, error)

	// Events returns the queue's notification channel. The channel is
	// closed by Close.
	Events() <-chan Event

	// Close releases queue resources.
	Close() error
}
