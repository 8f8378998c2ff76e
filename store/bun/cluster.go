package bunstore

import (
	"context"
	"fmt"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/id"
)

func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	m, err := workerToModel(w)
	if err != nil {
		return fmt.Errorf("store/bun: encode worker: %w", err)
	}
	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("concurrency = EXCLUDED.concurrency").
		Set("state = EXCLUDED.state").
		Set("last_seen = EXCLUDED.last_seen").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: register worker: %w", err)
	}
	return nil
}

func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewDelete().Model((*workerModel)(nil)).
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: deregister worker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", workerID, transcribe.ErrWorkerNotFound)
	}
	return nil
}

func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().Model((*workerModel)(nil)).
		Set("last_seen = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: heartbeat worker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", workerID, transcribe.ErrWorkerNotFound)
	}
	return nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	var models []workerModel
	if err := s.db.NewSelect().Model(&models).OrderExpr("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("store/bun: list workers: %w", err)
	}
	out := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, err := modelToWorker(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) ReapDeadWorkers(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.NewUpdate().Model((*workerModel)(nil)).
		Set("state = ?", string(cluster.WorkerDead)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("state <> ?", string(cluster.WorkerDead)).
		Where("last_seen < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("store/bun: reap dead workers: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver supports RowsAffected
	return int(n), nil
}

// AcquireLeadership upserts the singleton leadership row; the conditional
// DO UPDATE only succeeds when the previous lease expired or already
// belongs to the caller.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	m := &leadershipModel{
		Singleton:   true,
		LeaderID:    workerID.String(),
		LeaderUntil: now.Add(ttl),
	}
	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (singleton) DO UPDATE").
		Set("leader_id = EXCLUDED.leader_id").
		Set("leader_until = EXCLUDED.leader_until").
		Where("transcribe_leadership.leader_until < ? OR transcribe_leadership.leader_id = ?", now, workerID.String()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("store/bun: acquire leadership: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver supports RowsAffected
	return n > 0, nil
}

func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().Model((*leadershipModel)(nil)).
		Set("leader_until = ?", now.Add(ttl)).
		Where("leader_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("store/bun: renew leadership: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver supports RowsAffected
	return n > 0, nil
}

func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	lead := new(leadershipModel)
	err := s.db.NewSelect().Model(lead).
		Where("leader_until > ?", time.Now().UTC()).
		Scan(ctx)
	if isNoRows(err) {
		return nil, transcribe.ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store/bun: get leader: %w", err)
	}

	m := new(workerModel)
	err = s.db.NewSelect().Model(m).Where("id = ?", lead.LeaderID).Scan(ctx)
	if isNoRows(err) {
		return nil, transcribe.ErrWorkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store/bun: get leader worker: %w", err)
	}
	w, err := modelToWorker(m)
	if err != nil {
		return nil, err
	}
	w.IsLeader = true
	w.LeaderUntil = &lead.LeaderUntil
	return w, nil
}
