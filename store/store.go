package store

import (
	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/job"
)

// Store is the full persistence surface a backend provides.
type Store interface {
	transcribe.Storer
	job.Store
	cron.Store
	cluster.Store
}
