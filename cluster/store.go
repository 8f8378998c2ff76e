package cluster

import (
	"context"
	"time"

	"github.com/robertor4/transcribe-sub002/id"
)

// Store is the persistence contract for worker registration and leadership.
type Store interface {
	// RegisterWorker inserts or refreshes a worker record.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker record.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker refreshes LastSeen.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers lists all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers marks workers unseen for olderThan as dead and
	// returns how many were reaped.
	ReapDeadWorkers(ctx context.Context, olderThan time.Duration) (int, error)

	// AcquireLeadership attempts to become leader for ttl. Returns false
	// when another live leader holds the lease.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the caller's lease. Returns false when the
	// caller is no longer leader.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or ErrWorkerNotFound when
	// there is none.
	GetLeader(ctx context.Context) (*Worker, error)
}
