package job

import (
	"context"
	"time"

	"github.com/robertor4/transcribe-sub002/id"
)

// ListOpts controls listing queries.
type ListOpts struct {
	UserID string
	Limit  int
	Offset int
}

// CountOpts controls counting queries.
type CountOpts struct {
	UserID string
	Status Status
}

// Store is the persistence contract for job records and transcript results.
// All methods are safe for concurrent use.
type Store interface {
	// CreateJob inserts a new record. Returns ErrJobAlreadyExists when the
	// transcription ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob fetches a record by transcription ID.
	GetJob(ctx context.Context, trID id.TranscriptionID) (*Job, error)

	// UpdateJob replaces a record. Returns ErrJobNotFound when absent.
	UpdateJob(ctx context.Context, j *Job) error

	// WriteStatus atomically replaces the status block (status, progress,
	// error, completed-at) and refreshes UpdatedAt.
	WriteStatus(ctx context.Context, trID id.TranscriptionID, w StatusWrite) error

	// DeleteJob removes a record.
	DeleteJob(ctx context.Context, trID id.TranscriptionID) error

	// ListJobsByStatus lists records in any of the given statuses, newest
	// first.
	ListJobsByStatus(ctx context.Context, statuses []Status, opts ListOpts) ([]*Job, error)

	// ListStalled lists records in the given statuses whose UpdatedAt is
	// before the cutoff. Used by the recovery service.
	ListStalled(ctx context.Context, statuses []Status, updatedBefore time.Time) ([]*Job, error)

	// ListAged lists records in the given statuses whose CreatedAt is
	// before the cutoff. Used by the zombie sweep.
	ListAged(ctx context.Context, statuses []Status, createdBefore time.Time) ([]*Job, error)

	// ListExpiredSources lists terminal records completed before the
	// cutoff that still hold a source object. Used by the retention sweep.
	ListExpiredSources(ctx context.Context, completedBefore time.Time, limit int) ([]*Job, error)

	// ClearSource empties SourcePath after the source object was deleted.
	ClearSource(ctx context.Context, trID id.TranscriptionID) error

	// SaveResult upserts the transcript for a transcription.
	SaveResult(ctx context.Context, r *Result) error

	// GetResult fetches the transcript. Returns ErrResultNotFound when
	// absent.
	GetResult(ctx context.Context, trID id.TranscriptionID) (*Result, error)

	// CountJobs counts records matching the options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
