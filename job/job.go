package job

import (
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/id"
)

// Status is the lifecycle state of a transcription job.
type Status string

const (
	// StatusPending means the job is queued and waiting for a worker.
	StatusPending Status = "pending"

	// StatusProcessing means a worker holds the job.
	StatusProcessing Status = "processing"

	// StatusCompleted means the transcript was produced and persisted.
	StatusCompleted Status = "completed"

	// StatusFailed means the job exhausted its attempts or hit a
	// permanent error.
	StatusFailed Status = "failed"

	// StatusDeleted marks a soft-deleted record. Nothing in the core
	// transitions into it; the retention sweep only selects on it.
	StatusDeleted Status = "deleted"
)

// Terminal reports whether the status admits no further processing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeleted
}

// Job is a transcription job record. TranscriptionID is the domain key and
// stays stable across queue retries and recovery re-submissions; ID changes
// with each enqueue.
type Job struct {
	transcribe.Entity

	ID              id.JobID           `json:"id"`
	TranscriptionID id.TranscriptionID `json:"transcription_id"`
	UserID          string             `json:"user_id"`

	// SourceLocation is the URI the audio was submitted from.
	SourceLocation string `json:"source_location"`

	// SourcePath is the object-store key of the stored source audio.
	// Cleared by the retention sweep after the audio is deleted.
	SourcePath string `json:"source_path,omitempty"`

	// ResultPath is the object-store key of the persisted transcript.
	ResultPath string `json:"result_path,omitempty"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`

	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`
	Priority    int `json:"priority"`

	// Concurrency bounds the analysis fan-out for this job and feeds the
	// per-user limiter.
	Concurrency int `json:"concurrency"`

	// Timeout is an optional per-job deadline. Zero disables it.
	Timeout time.Duration `json:"timeout,omitempty"`

	Language        string     `json:"language,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// StatusWrite is a whole replacement of a job's status block. Every write
// replaces status, progress, error and completion time together, so a stale
// writer can never leave a half-merged record behind.
type StatusWrite struct {
	Status      Status
	Progress    int
	Error       string
	CompletedAt *time.Time
}
