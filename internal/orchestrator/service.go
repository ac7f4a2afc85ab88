// Package orchestrator drives cleaning jobs through the stage pipeline and
// serves the polling read model.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/internal/artifact"
	"github.com/kiranshivaraju/tidyflow/internal/cache"
	"github.com/kiranshivaraju/tidyflow/internal/dataset"
	"github.com/kiranshivaraju/tidyflow/internal/engine"
	"github.com/kiranshivaraju/tidyflow/internal/store"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

const (
	defaultStageTimeout = 2 * time.Minute
	defaultCacheTTL     = 30 * time.Minute
	defaultFilename     = "upload.csv"
	maxFilenameBytes    = 255
	// commitTimeout bounds store writes made after a stage context is gone.
	commitTimeout = 10 * time.Second
)

// Service is the job orchestrator.
type Service struct {
	store     store.Store
	artifacts artifact.Store
	engine    engine.Engine
	cache     cache.Cache

	stageTimeout time.Duration
	cacheTTL     time.Duration
	now          func() time.Time
	logger       *slog.Logger

	locks  *keyedMutex
	ledger *stageLedger

	wg       sync.WaitGroup
	mu       sync.Mutex
	closing  bool
	runCtx   context.Context
	stopRuns context.CancelFunc
}

type Option func(*Service)

// WithCache enables the status read cache. Snapshots expire after ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithStageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stageTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, artifacts artifact.Store, eng engine.Engine, opts ...Option) *Service {
	s := &Service{
		store:        st,
		artifacts:    artifacts,
		engine:       eng,
		stageTimeout: defaultStageTimeout,
		cacheTTL:     defaultCacheTTL,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       slog.Default(),
		locks:        newKeyedMutex(),
		ledger:       newStageLedger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runCtx, s.stopRuns = context.WithCancel(context.Background())
	return s
}

// StageTimeout is the time one stage may run before the job fails.
func (s *Service) StageTimeout() time.Duration { return s.stageTimeout }

// Create stores data as the input artifact of a new queued job.
func (s *Service) Create(ctx context.Context, filename string, data []byte) (*models.Job, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no file content", ErrInvalidInput)
	}
	if _, err := dataset.ParseCSV(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now()
	job := &models.Job{
		ID:               uuid.New(),
		Status:           models.JobStatusQueued,
		OriginalFilename: cleanFilename(filename),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	job.InputRef = artifact.Key(job.ID, artifact.NameInput)

	if err := s.artifacts.Put(ctx, job.InputRef, data); err != nil {
		return nil, fmt.Errorf("store input: %w", err)
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if delErr := s.artifacts.DeletePrefix(ctx, artifact.JobPrefix(job.ID)); delErr != nil {
			s.logger.Warn("failed to remove orphaned input", "job_id", job.ID, "error", delErr)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.cacheJob(ctx, job)

	s.logger.Info("job created", "job_id", job.ID, "filename", job.OriginalFilename, "bytes", len(data))
	return job.Clone(), nil
}

// Start moves a queued job to profiling and runs the pipeline in the
// background. It returns once the first transition is committed.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusQueued {
		return nil, fmt.Errorf("%w: job is %s, start requires %s", ErrInvalidState, job.Status, models.JobStatusQueued)
	}

	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if closing {
		failed, err := s.store.TransitionJob(ctx, id, models.JobStatusQueued, models.JobStatusFailed,
			store.WithError(models.ErrorKindStageFailure, "pipeline could not be started: "+ErrShuttingDown.Error(), ""))
		if err == nil {
			s.cacheJob(ctx, failed)
		}
		return nil, ErrShuttingDown
	}

	started, err := s.store.TransitionJob(ctx, id, models.JobStatusQueued, models.JobStatusProfiling)
	if err != nil {
		s.wg.Done()
		return nil, s.mapStoreError(err)
	}
	s.cacheJob(ctx, started)

	s.logger.Info("pipeline started", "job_id", id)
	go s.run(started.Clone())
	return started, nil
}

// GetStatus returns the latest committed snapshot of the job. Cached
// snapshots are served only once terminal; a live snapshot may be older
// than the store if a write-through and its invalidation both failed.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if s.cache != nil {
		job, found, err := s.cache.GetJob(ctx, id)
		if err != nil {
			s.logger.Warn("status cache read failed", "job_id", id, "error", err)
		} else if found && job.Status.IsTerminal() {
			return job, nil
		}
	}

	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	// Only terminal snapshots are repopulated here. Live jobs are written
	// through on every transition, and a reader racing a transition must
	// not put an older snapshot back.
	if job.Status.IsTerminal() {
		s.cacheJob(ctx, job)
	}
	return job, nil
}

// Artifact is a downloadable job output.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (s *Service) GetOutput(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	job, err := s.completedJob(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.artifacts.Get(ctx, *job.OutputRef)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return &Artifact{
		Filename:    fmt.Sprintf("%s_cleaned.csv", id),
		ContentType: "text/csv",
		Data:        data,
	}, nil
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	job, err := s.completedJob(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.artifacts.Get(ctx, *job.ReportRef)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return &Artifact{
		Filename:    fmt.Sprintf("%s_report.md", id),
		ContentType: "text/markdown; charset=utf-8",
		Data:        data,
	}, nil
}

func (s *Service) completedJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted || job.OutputRef == nil || job.ReportRef == nil {
		return nil, fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}
	return job, nil
}

// GetProfile returns the profiling result once the profiling stage has
// committed, including for jobs that failed later.
func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	if s.cache != nil {
		if data, found, err := s.cache.Get(ctx, cache.ProfileKey(id)); err == nil && found {
			var p models.Profile
			if json.Unmarshal(data, &p) == nil {
				return &p, nil
			}
		}
	}

	job, err := s.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.ProfileRef == nil {
		return nil, fmt.Errorf("%w: profile not available while job is %s", ErrNotReady, job.Status)
	}
	data, err := s.artifacts.Get(ctx, *job.ProfileRef)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p models.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.ProfileKey(id), data, s.cacheTTL); err != nil {
			s.logger.Warn("profile cache write failed", "job_id", id, "error", err)
		}
	}
	return &p, nil
}

// GetSuggestions returns the proposed cleaning steps once the suggesting
// stage has committed.
func (s *Service) GetSuggestions(ctx context.Context, id uuid.UUID) ([]models.Suggestion, error) {
	job, err := s.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.SuggestionsRef == nil {
		return nil, fmt.Errorf("%w: suggestions not available while job is %s", ErrNotReady, job.Status)
	}
	data, err := s.artifacts.Get(ctx, *job.SuggestionsRef)
	if err != nil {
		return nil, fmt.Errorf("read suggestions: %w", err)
	}
	suggestions := []models.Suggestion{}
	if err := json.Unmarshal(data, &suggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	return suggestions, nil
}

// Resubmit creates a new queued job from the input of a failed one. The
// failed job is left untouched.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: only failed jobs can be resubmitted, job is %s", ErrInvalidState, job.Status)
	}
	data, err := s.artifacts.Get(ctx, job.InputRef)
	if err != nil {
		return nil, fmt.Errorf("read input of %s: %w", id, err)
	}
	next, err := s.Create(ctx, job.OriginalFilename, data)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job resubmitted", "job_id", next.ID, "failed_job_id", id)
	return next, nil
}

// Wait blocks until every pipeline started by this Service has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting new pipelines and waits for running ones. When
// ctx expires first, running stages are cancelled and their jobs fail.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stopRuns()
		return nil
	case <-ctx.Done():
		s.stopRuns()
		<-done
		return ctx.Err()
	}
}

func (s *Service) loadJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

func (s *Service) mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalidTransition):
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return err
}

// cacheJob writes a snapshot through to the cache. If the write fails the
// key is dropped so readers fall back to the store.
func (s *Service) cacheJob(ctx context.Context, job *models.Job) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJob(ctx, job, s.cacheTTL); err != nil {
		s.logger.Warn("status cache write failed", "job_id", job.ID, "error", err)
		if err := s.cache.DeleteJob(ctx, job.ID); err != nil {
			s.logger.Error("status cache invalidation failed", "job_id", job.ID, "error", err)
		}
	}
}

func cleanFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return defaultFilename
	}
	if len(name) > maxFilenameBytes {
		n := maxFilenameBytes
		for n > 0 && !utf8.RuneStart(name[n]) {
			n--
		}
		name = name[:n]
	}
	return name
}
