package cron

import (
	"context"
	"time"
)

// Store is the persistence contract for cron entries.
type Store interface {
	// RegisterCron inserts an entry. Returns ErrDuplicateCron when the
	// name is taken.
	RegisterCron(ctx context.Context, e *Entry) error

	// GetCron fetches an entry by name.
	GetCron(ctx context.Context, name string) (*Entry, error)

	// ListCrons lists all entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// UpdateCronEntry replaces an entry.
	UpdateCronEntry(ctx context.Context, e *Entry) error

	// DeleteCron removes an entry by name.
	DeleteCron(ctx context.Context, name string) error

	// AcquireCronLock locks an entry for firing. Returns ErrCronLocked
	// when another holder's lock is still live.
	AcquireCronLock(ctx context.Context, name, holder string, ttl time.Duration) error

	// ReleaseCronLock releases the holder's lock.
	ReleaseCronLock(ctx context.Context, name, holder string) error

	// UpdateCronLastRun records a firing.
	UpdateCronLastRun(ctx context.Context, name string, ranAt time.Time) error
}
