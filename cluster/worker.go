package cluster

import (
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/id"
)

// WorkerState is the liveness state of a worker process.
type WorkerState string

const (
	WorkerActive   WorkerState = "active"
	WorkerDraining WorkerState = "draining"
	WorkerDead     WorkerState = "dead"
)

// Worker is a registered worker process.
type Worker struct {
	transcribe.Entity

	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`

	IsLeader    bool       `json:"is_leader"`
	LeaderUntil *time.Time `json:"leader_until,omitempty"`

	LastSeen time.Time         `json:"last_seen"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
