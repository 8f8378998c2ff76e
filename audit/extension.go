package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/job"
)

// Compile-time hook checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.JobSubmittedHook   = (*Extension)(nil)
	_ ext.JobStartedHook     = (*Extension)(nil)
	_ ext.JobCompletedHook   = (*Extension)(nil)
	_ ext.JobFailedHook      = (*Extension)(nil)
	_ ext.JobRecoveredHook   = (*Extension)(nil)
	_ ext.JobSweptHook       = (*Extension)(nil)
	_ ext.ArtifactPurgedHook = (*Extension)(nil)
	_ ext.CronFiredHook      = (*Extension)(nil)
)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc adapts a plain function to a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Event is the audit record for a single lifecycle occurrence.
type Event struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Severity levels.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges lifecycle hooks to a Recorder.
type Extension struct {
	recorder Recorder
	logger   *slog.Logger
	enabled  map[string]bool // nil = all actions enabled
	now      func() time.Time
}

// New creates an audit extension over a recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

func (e *Extension) record(ctx context.Context, evt *Event) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}
	evt.OccurredAt = e.now().UTC()
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit record failed",
			slog.String("action", evt.Action),
			slog.Any("error", err))
	}
	return nil
}

func jobEvent(action string, j *job.Job) *Event {
	return &Event{
		Action:     action,
		Resource:   "transcription",
		ResourceID: j.TranscriptionID.String(),
		UserID:     j.UserID,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata: map[string]any{
			"status":  string(j.Status),
			"attempt": j.Attempt,
		},
	}
}

// ── Lifecycle hooks ─────────────────────────────────

func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, jobEvent(ActionSubmitted, j))
}

func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, jobEvent(ActionStarted, j))
}

func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, r *job.Result) error {
	evt := jobEvent(ActionCompleted, j)
	evt.Metadata["provider"] = r.Provider
	evt.Metadata["duration_seconds"] = r.DurationSeconds
	return e.record(ctx, evt)
}

func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, cause error) error {
	evt := jobEvent(ActionFailed, j)
	evt.Outcome = OutcomeFailure
	evt.Severity = SeverityError
	if cause != nil {
		evt.Reason = cause.Error()
	}
	return e.record(ctx, evt)
}

func (e *Extension) OnJobRecovered(ctx context.Context, j *job.Job) error {
	evt := jobEvent(ActionRecovered, j)
	evt.Severity = SeverityWarning
	return e.record(ctx, evt)
}

func (e *Extension) OnJobSwept(ctx context.Context, j *job.Job, reason string) error {
	evt := jobEvent(ActionSwept, j)
	evt.Outcome = OutcomeFailure
	evt.Severity = SeverityWarning
	evt.Reason = reason
	return e.record(ctx, evt)
}

func (e *Extension) OnArtifactPurged(ctx context.Context, j *job.Job) error {
	return e.record(ctx, jobEvent(ActionArtifactPurged, j))
}

func (e *Extension) OnCronFired(ctx context.Context, entry *cron.Entry) error {
	return e.record(ctx, &Event{
		Action:     ActionCronFired,
		Resource:   "cron",
		ResourceID: entry.Name,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata:   map[string]any{"schedule": entry.Schedule},
	})
}
