package webhook

import (
	"time"

	"github.com/robertor4/transcribe-sub002/job"
)

// Webhook event names.
const (
	EventSubmitted      = "transcription.submitted"
	EventStarted        = "transcription.started"
	EventCompleted      = "transcription.completed"
	EventFailed         = "transcription.failed"
	EventRecovered      = "transcription.recovered"
	EventSwept          = "transcription.swept"
	EventArtifactPurged = "artifact.purged"
	EventCronFired      = "cron.fired"
)

// Envelope is the JSON body posted to the endpoint.
type Envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// JobPayload describes the transcription a job event concerns.
type JobPayload struct {
	TranscriptionID string `json:"transcription_id"`
	UserID          string `json:"user_id"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	Attempt         int    `json:"attempt"`
	Error           string `json:"error,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// CronPayload describes a fired cron entry.
type CronPayload struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

func newJobPayload(j *job.Job) JobPayload {
	return JobPayload{
		TranscriptionID: j.TranscriptionID.String(),
		UserID:          j.UserID,
		Status:          string(j.Status),
		Progress:        j.Progress,
		Attempt:         j.Attempt,
		Error:           j.Error,
	}
}
