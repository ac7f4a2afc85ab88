package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/tidyflow/internal/artifact"
	"github.com/kiranshivaraju/tidyflow/internal/store"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

const sweepBatch = 100

// Sweeper fails jobs stuck in a stage past the stage timeout and deletes
// terminal jobs past retention. Stuck jobs are those whose pipeline died
// with a previous process; live pipelines time themselves out.
type Sweeper struct {
	svc       *Service
	interval  time.Duration
	grace     time.Duration
	retention time.Duration
}

// NewSweeper creates a sweeper. A zero retention disables deletion.
func NewSweeper(svc *Service, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		svc:       svc,
		interval:  interval,
		grace:     svc.stageTimeout / 2,
		retention: retention,
	}
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	TimedOut int
	Deleted  int
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.SweepOnce(ctx)
			if err != nil {
				w.svc.logger.Error("sweep failed", "error", err)
				continue
			}
			if res.TimedOut > 0 || res.Deleted > 0 {
				w.svc.logger.Info("sweep finished", "timed_out", res.TimedOut, "deleted", res.Deleted)
			}
		}
	}
}

func (w *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	n, err := w.failStale(ctx)
	res.TimedOut = n
	if err != nil {
		return res, err
	}

	if w.retention > 0 {
		n, err = w.deleteExpired(ctx)
		res.Deleted = n
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (w *Sweeper) failStale(ctx context.Context) (int, error) {
	cutoff := w.svc.now().Add(-(w.svc.stageTimeout + w.grace))
	jobs, err := w.svc.store.ListStaleJobs(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	count := 0
	for _, job := range jobs {
		stage := models.Stage(job.Status)
		msg := fmt.Sprintf("stage %s exceeded %s", stage, w.svc.stageTimeout)

		unlock := w.svc.locks.Lock(job.ID)
		failed, err := w.svc.store.TransitionJob(ctx, job.ID, job.Status, models.JobStatusFailed,
			store.WithError(models.ErrorKindTimeout, msg, string(stage)))
		if err == nil {
			w.svc.cacheJob(ctx, failed)
		}
		unlock()

		switch {
		case err == nil:
			count++
			w.svc.logger.Warn("stale job timed out", "job_id", job.ID, "stage", stage)
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		default:
			return count, fmt.Errorf("time out job %s: %w", job.ID, err)
		}
	}
	return count, nil
}

func (w *Sweeper) deleteExpired(ctx context.Context) (int, error) {
	cutoff := w.svc.now().Add(-w.retention)
	jobs, err := w.svc.store.ListExpiredJobs(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list expired jobs: %w", err)
	}

	count := 0
	for _, job := range jobs {
		if err := w.svc.deleteJob(ctx, job); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// deleteJob removes a terminal job's artifacts, row and cache entries.
// Artifacts go first so a crash leaves a row that the next sweep retries.
func (s *Service) deleteJob(ctx context.Context, job *models.Job) error {
	unlock := s.locks.Lock(job.ID)
	defer unlock()

	if err := s.artifacts.DeletePrefix(ctx, artifact.JobPrefix(job.ID)); err != nil {
		return fmt.Errorf("delete artifacts of %s: %w", job.ID, err)
	}
	if err := s.store.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete job %s: %w", job.ID, err)
	}
	if s.cache != nil {
		if err := s.cache.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Warn("cache delete failed", "job_id", job.ID, "error", err)
		}
	}
	s.logger.Info("expired job deleted", "job_id", job.ID, "status", job.Status)
	return nil
}
