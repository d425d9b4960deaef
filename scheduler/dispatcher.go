// Package scheduler implements C6: the generic persistent job queue over
// processing_jobs rows. One poll loop claims due work under per-type
// concurrency caps and priorities, hands each row to its registered
// executor, and turns failures into backoff retries or DLQ entries. A
// reactive wake-up (Valkey pub/sub) rides on top of the poll tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomwire/loomwire/apperr"
	"github.com/loomwire/loomwire/config"
	"github.com/loomwire/loomwire/ephemeral"
	"github.com/loomwire/loomwire/observability"
	"github.com/loomwire/loomwire/storage"
)

// Executor runs one claimed job to completion. A nil return completes the
// job; any error schedules a retry (or the DLQ once retries are exhausted).
type Executor func(ctx context.Context, job storage.ProcessingJob) error

// wakeChannel is the Valkey pub/sub channel an enqueue can ping to wake a
// sleeping dispatcher before its next poll tick.
const wakeChannel = "scheduler:wake"

// Dispatcher is constructed with an explicit job_type → executor table at
// startup.
type Dispatcher struct {
	db        *storage.DB
	store     ephemeral.Store
	metrics   *observability.Metrics
	breakers  *BreakerSet
	cfg       config.SchedulerConfig
	executors map[string]Executor

	semaphores map[string]chan struct{}
	wg         sync.WaitGroup
}

func NewDispatcher(db *storage.DB, store ephemeral.Store, metrics *observability.Metrics, cfg config.SchedulerConfig, executors map[string]Executor) *Dispatcher {
	semaphores := map[string]chan struct{}{
		"extract": make(chan struct{}, max1(cfg.MaxConcurrencyExtract)),
		"chunk":   make(chan struct{}, max1(cfg.MaxConcurrencyChunk)),
		"embed":   make(chan struct{}, max1(cfg.MaxConcurrencyEmbed)),
	}
	return &Dispatcher{
		db:         db,
		store:      store,
		metrics:    metrics,
		breakers:   NewBreakerSet(cfg.EmbeddingCBFails, time.Duration(cfg.EmbeddingCBWindowSec)*time.Second, time.Duration(cfg.EmbeddingCBCooldownSec)*time.Second),
		cfg:        cfg,
		executors:  executors,
		semaphores: semaphores,
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Run polls until ctx is cancelled. A Valkey pub/sub subscription on
// wakeChannel shortcuts the poll interval when someone enqueues work.
func (d *Dispatcher) Run(ctx context.Context) {
	var wake <-chan []byte
	if d.store != nil {
		ch, unsubscribe, err := d.store.Subscribe(ctx, wakeChannel)
		if err != nil {
			logrus.WithError(err).Warn("[SCHEDULER] Pub/sub unavailable, falling back to polling only")
		} else {
			wake = ch
			defer unsubscribe()
		}
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	logrus.WithFields(observability.Fields{"component": "scheduler", "poll_interval": d.cfg.PollInterval.String()}).
		Info("dispatcher started")

	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// Wake signals every running dispatcher replica that new work exists.
func Wake(ctx context.Context, store ephemeral.Store) {
	if store == nil {
		return
	}
	_ = store.Publish(ctx, wakeChannel, []byte("1"))
}

// tick claims one batch and dispatches each claimed job onto its per-type
// semaphore. The claim itself enforces quotas, so tick never over-admits.
func (d *Dispatcher) tick(ctx context.Context) {
	jobs, err := d.claim(ctx)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] Claim failed")
		return
	}
	for _, job := range jobs {
		job := job
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			sem := d.semaphores[job.JobType]
			if sem == nil {
				sem = make(chan struct{}, 1)
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				d.release(context.Background(), job, ctx.Err())
				return
			}
			defer func() { <-sem }()
			d.execute(ctx, job)
		}()
	}
}

// claim atomically flips due rows to processing, respecting per-type caps
// and priorities. Lower priority numbers run first; within a type, oldest
// next_run_at wins. The UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP
// LOCKED) shape lets multiple dispatcher replicas poll the same table.
func (d *Dispatcher) claim(ctx context.Context) ([]storage.ProcessingJob, error) {
	var claimed []storage.ProcessingJob
	now := time.Now().UTC()
	err := d.db.Raw().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, jobType := range []string{"extract", "chunk", "embed"} {
			quota := cap(d.semaphores[jobType]) - d.running(jobType)
			if quota <= 0 {
				continue
			}
			var ids []uuid.UUID
			sub := tx.Model(&storage.ProcessingJob{}).
				Where("job_type = ? AND status IN ('pending','retry') AND paused = ? AND next_run_at <= ?", jobType, false, now).
				Order("priority ASC, next_run_at ASC").
				Limit(quota)
			if d.db.Driver() == "postgres" {
				sub = sub.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}
			if err := sub.Pluck("id", &ids).Error; err != nil {
				return err
			}
			if len(ids) == 0 {
				continue
			}
			if err := tx.Model(&storage.ProcessingJob{}).
				Where("id IN ?", ids).
				Updates(map[string]any{"status": "processing", "updated_at": now}).Error; err != nil {
				return err
			}
			var rows []storage.ProcessingJob
			if err := tx.Where("id IN ?", ids).Find(&rows).Error; err != nil {
				return err
			}
			claimed = append(claimed, rows...)
		}
		return nil
	})
	return claimed, err
}

func (d *Dispatcher) running(jobType string) int {
	if sem, ok := d.semaphores[jobType]; ok {
		return len(sem)
	}
	return 0
}

// execute runs one claimed job through its executor, inside the workspace's
// circuit breaker for breaker-guarded types (embed in particular). Breaker
// rejections fail fast without calling the backend but still count as a
// retry.
func (d *Dispatcher) execute(ctx context.Context, job storage.ProcessingJob) {
	executor, ok := d.executors[job.JobType]
	if !ok {
		d.release(ctx, job, fmt.Errorf("no executor registered for job type %q", job.JobType))
		return
	}

	d.metrics.JobsRunning.WithLabelValues(job.JobType).Inc()
	defer d.metrics.JobsRunning.WithLabelValues(job.JobType).Dec()

	start := time.Now()
	var err error
	if d.breakers.Guards(job.JobType) {
		err = d.breakers.Do(job.WorkspaceID, job.JobType, func() error {
			return executor(ctx, job)
		})
	} else {
		err = executor(ctx, job)
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
		if errors.As(err, new(apperr.CircuitOpenError)) {
			outcome = "circuit_open"
		}
	}
	d.metrics.JobDuration.WithLabelValues(job.JobType, outcome).Observe(time.Since(start).Seconds())

	d.release(ctx, job, err)
}

// release finalizes a claimed job: completed on success, retry with backoff
// on failure, failed + DLQ mirror once retries are exhausted.
func (d *Dispatcher) release(ctx context.Context, job storage.ProcessingJob, execErr error) {
	now := time.Now().UTC()
	err := d.db.Raw().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if execErr == nil {
			return tx.Model(&storage.ProcessingJob{}).Where("id = ?", job.ID).
				Updates(map[string]any{"status": "completed", "last_error": "", "updated_at": now}).Error
		}

		retries := job.Retries + 1
		d.metrics.JobRetries.WithLabelValues(job.JobType, "failure").Inc()

		if retries >= job.MaxRetries {
			if err := tx.Model(&storage.ProcessingJob{}).Where("id = ?", job.ID).
				Updates(map[string]any{
					"status": "failed", "retries": retries,
					"last_error": execErr.Error(), "updated_at": now,
				}).Error; err != nil {
				return err
			}
			dlq := storage.ProcessingJobDLQ{
				ID:          uuid.New(),
				JobID:       job.ID,
				WorkspaceID: job.WorkspaceID,
				JobType:     job.JobType,
				ExternalKey: job.ExternalKey,
				LastError:   execErr.Error(),
				Retries:     retries,
				MovedAt:     now,
			}
			return tx.Create(&dlq).Error
		}

		nextRun := now.Add(Backoff(job.BackoffBaseSeconds, job.BackoffFactor, job.JitterSeconds, retries))
		return tx.Model(&storage.ProcessingJob{}).Where("id = ?", job.ID).
			Updates(map[string]any{
				"status": "retry", "retries": retries, "next_run_at": nextRun,
				"last_error": execErr.Error(), "updated_at": now,
			}).Error
	})
	if err != nil {
		logrus.WithError(err).WithFields(observability.Fields{
			"component": "scheduler", "job_id": job.ID, "job_type": job.JobType,
		}).Error("failed to finalize job")
	}
	if execErr != nil {
		logrus.WithError(execErr).WithFields(observability.Fields{
			"component": "scheduler", "job_id": job.ID, "job_type": job.JobType,
			"workspace": job.WorkspaceID, "retries": job.Retries + 1,
		}).Warn("job attempt failed")
	}
}
