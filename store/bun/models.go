package bunstore

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
)

type jobModel struct {
	bun.BaseModel `bun:"table:transcribe_jobs"`

	TranscriptionID string     `bun:"transcription_id,pk"`
	ID              string     `bun:"id,notnull"`
	UserID          string     `bun:"user_id,notnull"`
	SourceLocation  string     `bun:"source_location,notnull"`
	SourcePath      string     `bun:"source_path"`
	ResultPath      string     `bun:"result_path"`
	Status          string     `bun:"status,notnull"`
	Progress        int        `bun:"progress"`
	Error           string     `bun:"error"`
	Attempt         int        `bun:"attempt"`
	MaxAttempts     int        `bun:"max_attempts"`
	Priority        int        `bun:"priority"`
	Concurrency     int        `bun:"concurrency"`
	TimeoutNS       int64      `bun:"timeout_ns"`
	Language        string     `bun:"language"`
	DurationSeconds float64    `bun:"duration_seconds"`
	CompletedAt     *time.Time `bun:"completed_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

func jobToModel(j *job.Job) *jobModel {
	return &jobModel{
		TranscriptionID: j.TranscriptionID.String(),
		ID:              j.ID.String(),
		UserID:          j.UserID,
		SourceLocation:  j.SourceLocation,
		SourcePath:      j.SourcePath,
		ResultPath:      j.ResultPath,
		Status:          string(j.Status),
		Progress:        j.Progress,
		Error:           j.Error,
		Attempt:         j.Attempt,
		MaxAttempts:     j.MaxAttempts,
		Priority:        j.Priority,
		Concurrency:     j.Concurrency,
		TimeoutNS:       int64(j.Timeout),
		Language:        j.Language,
		DurationSeconds: j.DurationSeconds,
		CompletedAt:     j.CompletedAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func modelToJob(m *jobModel) (*job.Job, error) {
	trID, err := id.Parse(m.TranscriptionID)
	if err != nil {
		return nil, err
	}
	jobID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &job.Job{
		Entity:          transcribe.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              jobID,
		TranscriptionID: trID,
		UserID:          m.UserID,
		SourceLocation:  m.SourceLocation,
		SourcePath:      m.SourcePath,
		ResultPath:      m.ResultPath,
		Status:          job.Status(m.Status),
		Progress:        m.Progress,
		Error:           m.Error,
		Attempt:         m.Attempt,
		MaxAttempts:     m.MaxAttempts,
		Priority:        m.Priority,
		Concurrency:     m.Concurrency,
		Timeout:         time.Duration(m.TimeoutNS),
		Language:        m.Language,
		DurationSeconds: m.DurationSeconds,
		CompletedAt:     m.CompletedAt,
	}, nil
}

type resultModel struct {
	bun.BaseModel `bun:"table:transcribe_results"`

	TranscriptionID string          `bun:"transcription_id,pk"`
	Text            string          `bun:"text,notnull"`
	Language        string          `bun:"language"`
	Speakers        json.RawMessage `bun:"speakers,type:jsonb"`
	Segments        json.RawMessage `bun:"segments,type:jsonb"`
	DurationSeconds float64         `bun:"duration_seconds"`
	Provider        string          `bun:"provider"`
	Analyses        json.RawMessage `bun:"analyses,type:jsonb"`
}

func resultToModel(r *job.Result) (*resultModel, error) {
	m := &resultModel{
		TranscriptionID: r.TranscriptionID.String(),
		Text:            r.Text,
		Language:        r.Language,
		DurationSeconds: r.DurationSeconds,
		Provider:        r.Provider,
	}
	var err error
	if len(r.Speakers) > 0 {
		if m.Speakers, err = json.Marshal(r.Speakers); err != nil {
			return nil, err
		}
	}
	if len(r.Segments) > 0 {
		if m.Segments, err = json.Marshal(r.Segments); err != nil {
			return nil, err
		}
	}
	if len(r.Analyses) > 0 {
		if m.Analyses, err = json.Marshal(r.Analyses); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func modelToResult(m *resultModel) (*job.Result, error) {
	trID, err := id.Parse(m.TranscriptionID)
	if err != nil {
		return nil, err
	}
	r := &job.Result{
		TranscriptionID: trID,
		Text:            m.Text,
		Language:        m.Language,
		DurationSeconds: m.DurationSeconds,
		Provider:        m.Provider,
	}
	if len(m.Speakers) > 0 {
		if err := json.Unmarshal(m.Speakers, &r.Speakers); err != nil {
			return nil, err
		}
	}
	if len(m.Segments) > 0 {
		if err := json.Unmarshal(m.Segments, &r.Segments); err != nil {
			return nil, err
		}
	}
	if len(m.Analyses) > 0 {
		if err := json.Unmarshal(m.Analyses, &r.Analyses); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type cronModel struct {
	bun.BaseModel `bun:"table:transcribe_crons"`

	Name        string     `bun:"name,pk"`
	ID          string     `bun:"id,notnull"`
	Schedule    string     `bun:"schedule,notnull"`
	Enabled     bool       `bun:"enabled"`
	LastRunAt   *time.Time `bun:"last_run_at"`
	NextRunAt   *time.Time `bun:"next_run_at"`
	LockedBy    string     `bun:"locked_by"`
	LockedUntil *time.Time `bun:"locked_until"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func cronToModel(e *cron.Entry) *cronModel {
	return &cronModel{
		Name:        e.Name,
		ID:          e.ID.String(),
		Schedule:    e.Schedule,
		Enabled:     e.Enabled,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func modelToCron(m *cronModel) (*cron.Entry, error) {
	cronID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &cron.Entry{
		Entity:      transcribe.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          cronID,
		Name:        m.Name,
		Schedule:    m.Schedule,
		Enabled:     m.Enabled,
		LastRunAt:   m.LastRunAt,
		NextRunAt:   m.NextRunAt,
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
	}, nil
}

type workerModel struct {
	bun.BaseModel `bun:"table:transcribe_workers"`

	ID          string          `bun:"id,pk"`
	Hostname    string          `bun:"hostname,notnull"`
	Concurrency int             `bun:"concurrency"`
	State       string          `bun:"state,notnull"`
	IsLeader    bool            `bun:"is_leader"`
	LeaderUntil *time.Time      `bun:"leader_until"`
	LastSeen    time.Time       `bun:"last_seen,notnull"`
	Metadata    json.RawMessage `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time       `bun:"created_at,notnull"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull"`
}

func workerToModel(w *cluster.Worker) (*workerModel, error) {
	m := &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		IsLeader:    w.IsLeader,
		LeaderUntil: w.LeaderUntil,
		LastSeen:    w.LastSeen,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	if len(w.Metadata) > 0 {
		var err error
		if m.Metadata, err = json.Marshal(w.Metadata); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func modelToWorker(m *workerModel) (*cluster.Worker, error) {
	workerID, err := id.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	w := &cluster.Worker{
		Entity:      transcribe.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          workerID,
		Hostname:    m.Hostname,
		Concurrency: m.Concurrency,
		State:       cluster.WorkerState(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen,
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &w.Metadata); err != nil {
			return nil, err
		}
	}
	return w, nil
}

type leadershipModel struct {
	bun.BaseModel `bun:"table:transcribe_leadership"`

	Singleton   bool      `bun:"singleton,pk"`
	LeaderID    string    `bun:"leader_id,notnull"`
	LeaderUntil time.Time `bun:"leader_until,notnull"`
}
