package transcribe

import "errors"

// Configuration errors.
var (
	// ErrNoStore is returned when the engine is built without a store.
	ErrNoStore = errors.New("transcribe: no store configured")

	// ErrNoQueue is returned when starting a worker pool without a queue.
	ErrNoQueue = errors.New("transcribe: no queue configured")

	// ErrNoProvider is returned when the engine is built without a
	// transcription provider.
	ErrNoProvider = errors.New("transcribe: no provider configured")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("transcribe: invalid configuration")
)

// Job errors.
var (
	// ErrJobNotFound is returned when a job record does not exist.
	ErrJobNotFound = errors.New("transcribe: job not found")

	// ErrJobAlreadyExists is returned when creating a job whose
	// transcription ID is already present.
	ErrJobAlreadyExists = errors.New("transcribe: job already exists")

	// ErrResultNotFound is returned when a transcript result does not exist.
	ErrResultNotFound = errors.New("transcribe: result not found")

	// ErrTerminalState is returned when a write would move a job out of a
	// terminal state through a path that does not allow it.
	ErrTerminalState = errors.New("transcribe: job is in a terminal state")
)

// Queue errors.
var (
	// ErrTaskNotFound is returned when a queue task does not exist.
	ErrTaskNotFound = errors.New("transcribe: task not found")

	// ErrQueueClosed is returned when operating on a closed queue.
	ErrQueueClosed = errors.New("transcribe: queue closed")
)

// Upload errors.
var (
	// ErrVerificationFailed is returned when a completed upload cannot be
	// found in the object store afterward.
	ErrVerificationFailed = errors.New("transcribe: upload verification failed")

	// ErrObjectNotFound is returned when an object store key does not exist.
	ErrObjectNotFound = errors.New("transcribe: object not found")
)

// Cron errors.
var (
	// ErrCronNotFound is returned when a cron entry does not exist.
	ErrCronNotFound = errors.New("transcribe: cron entry not found")

	// ErrDuplicateCron is returned when registering a cron entry whose name
	// is already taken.
	ErrDuplicateCron = errors.New("transcribe: cron entry already registered")

	// ErrCronLocked is returned when a cron entry is locked by another
	// scheduler instance.
	ErrCronLocked = errors.New("transcribe: cron entry locked")
)

// Cluster errors.
var (
	// ErrWorkerNotFound is returned when a worker record does not exist.
	ErrWorkerNotFound = errors.New("transcribe: worker not found")

	// ErrNotLeader is returned when a leader-only operation is attempted by
	// a non-leader.
	ErrNotLeader = errors.New("transcribe: not the leader")
)
