package queue

import (
	"fmt"

	transcribe "github.com/robertor4/transcribe-sub002"
)

// ErrClosed reports the queue is closed.
func ErrClosed() error { return transcribe.ErrQueueClosed }

// ErrNotFound wraps ErrTaskNotFound with the task ID.
func ErrNotFound(taskID string) error {
	return fmt.Errorf("queue: task %s: %w", taskID, transcribe.ErrTaskNotFound)
}
