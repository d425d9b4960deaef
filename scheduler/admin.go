package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/ephemeral"
	"github.com/loomwire/loomwire/storage"
)

// Admin exposes the operator surface: requeue, pause, DLQ listing, stats,
// next-N preview. Sweeping operations take a short Valkey lock (SET NX EX)
// so two replicas don't double-run the same sweep.
type Admin struct {
	db    *storage.DB
	store ephemeral.Store
}

func NewAdmin(db *storage.DB, store ephemeral.Store) *Admin {
	return &Admin{db: db, store: store}
}

func (a *Admin) tryLock(ctx context.Context, name string, ttl time.Duration) bool {
	if a.store == nil {
		return true
	}
	ok, err := a.store.SetNX(ctx, "lock:admin:"+name, []byte("1"), ttl)
	return err == nil && ok
}

// RequeueByType flips every failed job of jobType back to pending with
// retries reset, and clears its DLQ mirror. Returns how many were requeued.
func (a *Admin) RequeueByType(ctx context.Context, jobType string) (int64, error) {
	if !a.tryLock(ctx, "requeue:"+jobType, 30*time.Second) {
		return 0, nil
	}
	var count int64
	now := time.Now().UTC()
	err := a.db.Raw().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&storage.ProcessingJob{}).
			Where("job_type = ? AND status = 'failed'", jobType).
			Updates(map[string]any{
				"status": "pending", "retries": 0, "next_run_at": now,
				"last_error": "", "updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		count = res.RowsAffected
		return tx.Where("job_type = ?", jobType).Delete(&storage.ProcessingJobDLQ{}).Error
	})
	if err == nil && count > 0 {
		Wake(ctx, a.store)
	}
	return count, err
}

// RequeueOne resets a single job back to pending, following the DLQ scenario:
// retries reset to zero, DLQ row removed.
func (a *Admin) RequeueOne(ctx context.Context, jobID uuid.UUID) error {
	now := time.Now().UTC()
	err := a.db.Raw().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&storage.ProcessingJob{}).
			Where("id = ?", jobID).
			Updates(map[string]any{
				"status": "pending", "retries": 0, "next_run_at": now,
				"last_error": "", "updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFoundError("job not found")
		}
		return tx.Where("job_id = ?", jobID).Delete(&storage.ProcessingJobDLQ{}).Error
	})
	if err == nil {
		Wake(ctx, a.store)
	}
	return err
}

// Pause sets or clears the paused flag; paused jobs are invisible to the
// claim query until unpaused.
func (a *Admin) Pause(ctx context.Context, jobID uuid.UUID, pause bool) error {
	res := a.db.Raw().WithContext(ctx).Model(&storage.ProcessingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{"paused": pause, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError("job not found")
	}
	if !pause {
		Wake(ctx, a.store)
	}
	return nil
}

// ListDLQ returns the dead-letter rows, optionally filtered by job type.
func (a *Admin) ListDLQ(ctx context.Context, jobType string, limit int) ([]storage.ProcessingJobDLQ, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := a.db.Raw().WithContext(ctx).Order("moved_at DESC").Limit(limit)
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	var rows []storage.ProcessingJobDLQ
	err := q.Find(&rows).Error
	return rows, err
}

// JobStats is one (job_type, status) bucket of the stats rollup.
type JobStats struct {
	JobType string `json:"job_type"`
	Status  string `json:"status"`
	Count   int64  `json:"count"`
}

func (a *Admin) Stats(ctx context.Context) ([]JobStats, error) {
	var rows []JobStats
	err := a.db.Raw().WithContext(ctx).Model(&storage.ProcessingJob{}).
		Select("job_type, status, count(*) as count").
		Group("job_type, status").
		Order("job_type, status").
		Scan(&rows).Error
	return rows, err
}

// Next previews the jobs the claim query would pick up soonest, without
// claiming them.
func (a *Admin) Next(ctx context.Context, limit int) ([]storage.ProcessingJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var rows []storage.ProcessingJob
	err := a.db.Raw().WithContext(ctx).
		Where("status IN ('pending','retry') AND paused = ?", false).
		Order("priority ASC, next_run_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
