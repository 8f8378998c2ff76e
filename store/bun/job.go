package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
)

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := jobToModel(j)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("store/bun: %s: %w", j.TranscriptionID, transcribe.ErrJobAlreadyExists)
		}
		return fmt.Errorf("store/bun: create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, trID id.TranscriptionID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("transcription_id = ?", trID.String()).
		Scan(ctx)
	if isNoRows(err) {
		return nil, fmt.Errorf("store/bun: %s: %w", trID, transcribe.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store/bun: get job: %w", err)
	}
	return modelToJob(m)
}

func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	j.Touch()
	m := jobToModel(j)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", j.TranscriptionID, transcribe.ErrJobNotFound)
	}
	return nil
}

func (s *Store) WriteStatus(ctx context.Context, trID id.TranscriptionID, w job.StatusWrite) error {
	q := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("status = ?", string(w.Status)).
		Set("progress = ?", w.Progress).
		Set("error = ?", w.Error).
		Set("completed_at = ?", w.CompletedAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("transcription_id = ?", trID.String())
	// A completed job never leaves that state through a status write.
	if w.Status != job.StatusCompleted {
		q = q.Where("status != ?", string(job.StatusCompleted))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: write status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		if _, getErr := s.GetJob(ctx, trID); getErr == nil {
			return fmt.Errorf("store/bun: %s: %w", trID, transcribe.ErrTerminalState)
		}
		return fmt.Errorf("store/bun: %s: %w", trID, transcribe.ErrJobNotFound)
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, trID id.TranscriptionID) error {
	res, err := s.db.NewDelete().Model((*jobModel)(nil)).
		Where("transcription_id = ?", trID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", trID, transcribe.ErrJobNotFound)
	}
	return nil
}

func (s *Store) ListJobsByStatus(ctx context.Context, statuses []job.Status, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("status IN (?)", bun.In(statusStrings(statuses))).
		OrderExpr("created_at DESC")
	if opts.UserID != "" {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("store/bun: list jobs: %w", err)
	}
	return modelsToJobs(models)
}

func (s *Store) ListStalled(ctx context.Context, statuses []job.Status, updatedBefore time.Time) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("status IN (?)", bun.In(statusStrings(statuses))).
		Where("updated_at < ?", updatedBefore).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store/bun: list stalled: %w", err)
	}
	return modelsToJobs(models)
}

func (s *Store) ListAged(ctx context.Context, statuses []job.Status, createdBefore time.Time) ([]*job.Job, error) {
	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("status IN (?)", bun.In(statusStrings(statuses))).
		Where("created_at < ?", createdBefore).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store/bun: list aged: %w", err)
	}
	return modelsToJobs(models)
}

func (s *Store) ListExpiredSources(ctx context.Context, completedBefore time.Time, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("status IN (?)", bun.In(statusStrings([]job.Status{job.StatusCompleted, job.StatusFailed, job.StatusDeleted}))).
		Where("source_path <> ''").
		Where("COALESCE(completed_at, updated_at) < ?", completedBefore).
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("store/bun: list expired sources: %w", err)
	}
	return modelsToJobs(models)
}

func (s *Store) ClearSource(ctx context.Context, trID id.TranscriptionID) error {
	res, err := s.db.NewUpdate().Model((*jobModel)(nil)).
		Set("source_path = ''").
		Set("updated_at = ?", time.Now().UTC()).
		Where("transcription_id = ?", trID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: clear source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", trID, transcribe.ErrJobNotFound)
	}
	return nil
}

func (s *Store) SaveResult(ctx context.Context, r *job.Result) error {
	m, err := resultToModel(r)
	if err != nil {
		return fmt.Errorf("store/bun: encode result: %w", err)
	}
	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (transcription_id) DO UPDATE").
		Set("text = EXCLUDED.text").
		Set("language = EXCLUDED.language").
		Set("speakers = EXCLUDED.speakers").
		Set("segments = EXCLUDED.segments").
		Set("duration_seconds = EXCLUDED.duration_seconds").
		Set("provider = EXCLUDED.provider").
		Set("analyses = EXCLUDED.analyses").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: save result: %w", err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, trID id.TranscriptionID) (*job.Result, error) {
	m := new(resultModel)
	err := s.db.NewSelect().Model(m).
		Where("transcription_id = ?", trID.String()).
		Scan(ctx)
	if isNoRows(err) {
		return nil, fmt.Errorf("store/bun: %s: %w", trID, transcribe.ErrResultNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store/bun: get result: %w", err)
	}
	return modelToResult(m)
}

func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))
	if opts.UserID != "" {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("store/bun: count jobs: %w", err)
	}
	return int64(n), nil
}

func modelsToJobs(models []jobModel) ([]*job.Job, error) {
	out := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := modelToJob(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func statusStrings(statuses []job.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
