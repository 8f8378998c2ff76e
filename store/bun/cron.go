package bunstore

import (
	"context"
	"fmt"
	"time"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cron"
)

func (s *Store) RegisterCron(ctx context.Context, e *cron.Entry) error {
	m := cronToModel(e)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("store/bun: %s: %w", e.Name, transcribe.ErrDuplicateCron)
		}
		return fmt.Errorf("store/bun: register cron: %w", err)
	}
	return nil
}

func (s *Store) GetCron(ctx context.Context, name string) (*cron.Entry, error) {
	m := new(cronModel)
	err := s.db.NewSelect().Model(m).Where("name = ?", name).Scan(ctx)
	if isNoRows(err) {
		return nil, fmt.Errorf("store/bun: %s: %w", name, transcribe.ErrCronNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store/bun: get cron: %w", err)
	}
	return modelToCron(m)
}

func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	var models []cronModel
	if err := s.db.NewSelect().Model(&models).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("store/bun: list crons: %w", err)
	}
	out := make([]*cron.Entry, 0, len(models))
	for i := range models {
		e, err := modelToCron(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) UpdateCronEntry(ctx context.Context, e *cron.Entry) error {
	m := cronToModel(e)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: update cron: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", e.Name, transcribe.ErrCronNotFound)
	}
	return nil
}

func (s *Store) DeleteCron(ctx context.Context, name string) error {
	res, err := s.db.NewDelete().Model((*cronModel)(nil)).Where("name = ?", name).Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: delete cron: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", name, transcribe.ErrCronNotFound)
	}
	return nil
}

// AcquireCronLock claims the entry unless another holder's lock is live.
// The conditional UPDATE makes the claim atomic across schedulers.
func (s *Store) AcquireCronLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().Model((*cronModel)(nil)).
		Set("locked_by = ?", holder).
		Set("locked_until = ?", now.Add(ttl)).
		Where("name = ?", name).
		Where("locked_by = '' OR locked_by = ? OR locked_until IS NULL OR locked_until < ?", holder, now).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: acquire cron lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		// Either missing or locked; disambiguate for the caller.
		if _, getErr := s.GetCron(ctx, name); getErr != nil {
			return getErr
		}
		return fmt.Errorf("store/bun: %s: %w", name, transcribe.ErrCronLocked)
	}
	return nil
}

func (s *Store) ReleaseCronLock(ctx context.Context, name, holder string) error {
	_, err := s.db.NewUpdate().Model((*cronModel)(nil)).
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Where("name = ?", name).
		Where("locked_by = ?", holder).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: release cron lock: %w", err)
	}
	return nil
}

func (s *Store) UpdateCronLastRun(ctx context.Context, name string, ranAt time.Time) error {
	res, err := s.db.NewUpdate().Model((*cronModel)(nil)).
		Set("last_run_at = ?", ranAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store/bun: update cron last run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // driver supports RowsAffected
		return fmt.Errorf("store/bun: %s: %w", name, transcribe.ErrCronNotFound)
	}
	return nil
}
