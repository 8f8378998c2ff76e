package cron

import (
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/id"
)

// Entry is a persisted recurring schedule. Name is unique; the handler it
// fires is registered in-process on the scheduler.
type Entry struct {
	transcribe.Entity

	ID       id.CronID `json:"id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Enabled  bool      `json:"enabled"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// LockedBy and LockedUntil implement the per-entry firing lock.
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}
