package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/internal/engine"
	"github.com/kiranshivaraju/tidyflow/internal/store"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

type stageOutcome struct {
	result engine.Result
	err    error
}

// run executes the stages in order for a job already in profiling. The
// per-job lock is only taken to commit a transition, never across a
// stage call.
func (s *Service) run(job *models.Job) {
	defer s.wg.Done()
	defer s.ledger.Forget(job.ID)

	for _, stage := range models.Stages {
		if job.Status != stage.Status() {
			s.logger.Warn("pipeline out of step", "job_id", job.ID, "stage", stage, "status", job.Status)
			return
		}
		if !s.ledger.Begin(job.ID, stage) {
			s.logger.Warn("stage already dispatched", "job_id", job.ID, "stage", stage)
			return
		}

		logger := s.logger.With("job_id", job.ID, "stage", stage)
		logger.Info("stage started")

		res, err := s.runStage(job, stage)
		if err != nil {
			kind, msg := s.classifyStageError(stage, err)
			logger.Error("stage failed", "kind", kind, "error", err)
			s.fail(job.ID, stage, kind, msg)
			return
		}

		next, err := s.advance(job, stage, res)
		if err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				logger.Warn("job moved while stage ran, dropping result", "error", err)
				return
			}
			logger.Error("commit stage result failed", "error", err)
			s.fail(job.ID, stage, models.ErrorKindStageFailure, "commit stage result: "+err.Error())
			return
		}
		logger.Info("stage completed", "summary", res.Summary, "status", next.Status)
		job = next
	}
}

// runStage calls the engine in its own goroutine and waits for the result
// or the stage deadline, whichever comes first.
func (s *Service) runStage(job *models.Job, stage models.Stage) (engine.Result, error) {
	ctx, cancel := context.WithTimeout(s.runCtx, s.stageTimeout)
	defer cancel()

	req := engine.Request{
		JobID:            job.ID,
		Stage:            stage,
		OriginalFilename: job.OriginalFilename,
		InputRef:         job.InputRef,
	}
	if job.ProfileRef != nil {
		req.ProfileRef = *job.ProfileRef
	}
	if job.SuggestionsRef != nil {
		req.SuggestionsRef = *job.SuggestionsRef
	}

	done := make(chan stageOutcome, 1)
	go func() {
		res, err := s.engine.RunStage(ctx, req)
		done <- stageOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && ctx.Err() != nil {
			return engine.Result{}, ctx.Err()
		}
		return out.result, out.err
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}

func (s *Service) classifyStageError(stage models.Stage, err error) (kind, message string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, engine.ErrEngineTimeout):
		return models.ErrorKindTimeout, fmt.Sprintf("stage %s exceeded %s", stage, s.stageTimeout)
	case errors.Is(err, context.Canceled):
		return models.ErrorKindStageFailure, fmt.Sprintf("stage %s interrupted: %s", stage, ErrShuttingDown)
	}
	return models.ErrorKindStageFailure, err.Error()
}

// advance commits a successful stage. Completion is only committed once
// both outputs are readable.
func (s *Service) advance(job *models.Job, stage models.Stage, res engine.Result) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	var opts []store.TransitionOption
	switch stage {
	case models.StageProfiling:
		opts = append(opts, store.WithProfileRef(res.Ref))
	case models.StageSuggesting:
		opts = append(opts, store.WithSuggestionsRef(res.Ref))
	case models.StageApplying:
		for _, ref := range []string{res.Ref, res.ReportRef} {
			ok, err := s.artifacts.Exists(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("check output %q: %w", ref, err)
			}
			if !ok {
				return nil, fmt.Errorf("engine reported output %q that does not exist", ref)
			}
		}
		opts = append(opts, store.WithOutputRefs(res.Ref, res.ReportRef))
	}

	unlock := s.locks.Lock(job.ID)
	defer unlock()

	next, err := s.store.TransitionJob(ctx, job.ID, stage.Status(), stage.Status().Next(), opts...)
	if err != nil {
		return nil, err
	}
	s.cacheJob(ctx, next)
	return next, nil
}

// fail records a terminal failure for the job's current stage. A job that
// has already moved on (for example, timed out by the sweeper) is left as is.
func (s *Service) fail(id uuid.UUID, stage models.Stage, kind, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	unlock := s.locks.Lock(id)
	defer unlock()

	failed, err := s.store.TransitionJob(ctx, id, stage.Status(), models.JobStatusFailed,
		store.WithError(kind, message, string(stage)))
	if err != nil {
		s.logger.Warn("could not record stage failure", "job_id", id, "stage", stage, "error", err)
		return
	}
	s.cacheJob(ctx, failed)
}
