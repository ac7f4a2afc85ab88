package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, status, original_filename, input_ref, profile_ref, suggestions_ref,
	output_ref, report_ref, error_kind, error_message, error_stage,
	started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j                        models.Job
		errKind, errMsg, errStge *string
	)
	err := row.Scan(&j.ID, &j.Status, &j.OriginalFilename, &j.InputRef, &j.ProfileRef, &j.SuggestionsRef,
		&j.OutputRef, &j.ReportRef, &errKind, &errMsg, &errStge,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if errKind != nil {
		j.Error = &models.JobError{Kind: *errKind}
		if errMsg != nil {
			j.Error.Message = *errMsg
		}
		if errStge != nil {
			j.Error.Stage = *errStge
		}
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, original_filename, input_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.Status, job.OriginalFilename, job.InputRef, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// TransitionJob is a compare-and-set on status. Refs and the error record are
// write-once: COALESCE keeps whatever is already stored.
func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, from, to models.Status, opts ...TransitionOption) (*models.Job, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}

	now := time.Now().UTC()
	var startedAt, completedAt *time.Time
	if to == models.JobStatusProfiling {
		startedAt = &now
	}
	if to.IsTerminal() {
		completedAt = &now
	}

	var errKind, errMsg, errStage *string
	if params.Error != nil {
		errKind = &params.Error.Kind
		errMsg = &params.Error.Message
		if params.Error.Stage != "" {
			errStage = &params.Error.Stage
		}
	}

	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET
		   status = $3,
		   updated_at = $4,
		   started_at = COALESCE(started_at, $5),
		   completed_at = COALESCE(completed_at, $6),
		   profile_ref = COALESCE(profile_ref, $7),
		   suggestions_ref = COALESCE(suggestions_ref, $8),
		   output_ref = COALESCE(output_ref, $9),
		   report_ref = COALESCE(report_ref, $10),
		   error_kind = COALESCE(error_kind, $11),
		   error_message = COALESCE(error_message, $12),
		   error_stage = COALESCE(error_stage, $13)
		 WHERE id = $1 AND status = $2
		 RETURNING `+jobColumns,
		id, from, to, now, startedAt, completedAt,
		params.ProfileRef, params.SuggestionsRef, params.OutputRef, params.ReportRef,
		errKind, errMsg, errStage))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition job: %w", err)
	}

	// Nothing matched: either the job is gone or someone else moved it.
	var current models.Status
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return nil, fmt.Errorf("%w: expected %s, found %s", ErrConflict, from, current)
}

func (s *PostgresStore) ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error) {
	return s.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('profiling', 'suggesting', 'applying') AND updated_at < $1
		 ORDER BY updated_at ASC LIMIT $2`, before, normalizeLimit(limit))
}

func (s *PostgresStore) ListExpiredJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error) {
	return s.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('completed', 'failed') AND updated_at < $1
		 ORDER BY updated_at ASC LIMIT $2`, before, normalizeLimit(limit))
}

func (s *PostgresStore) listJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
