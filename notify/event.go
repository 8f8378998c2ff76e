// Package notify streams transcription lifecycle events to connected
// clients. The broker listens on the extension hooks and fans events out
// over topic-based pub/sub with credit-based flow control; the hub exposes
// the broker over WebSocket.
package notify

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventSubmitted EventType = "transcription.submitted"
	EventStarted   EventType = "transcription.started"
	EventProgress  EventType = "transcription.progress"
	EventCompleted EventType = "transcription.completed"
	EventFailed    EventType = "transcription.failed"
	EventRecovered EventType = "transcription.recovered"
	EventSwept     EventType = "transcription.swept"

	EventArtifactPurged EventType = "artifact.purged"
	EventCronFired      EventType = "cron.fired"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic this event belongs to, e.g.
	// "transcription:tr_01h...".
	Topic string `json:"topic"`

	// UserID scopes the event to its owner's topic.
	UserID string `json:"user_id,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// TranscriptionEventData is the payload for transcription lifecycle events.
type TranscriptionEventData struct {
	TranscriptionID string `json:"transcription_id"`
	UserID          string `json:"user_id"`
	Status          string `json:"status,omitempty"`
	Progress        int    `json:"progress,omitempty"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// CronEventData is the payload for scheduler firings.
type CronEventData struct {
	EntryName string `json:"entry_name"`
	Schedule  string `json:"schedule"`
}
