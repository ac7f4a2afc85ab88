package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when from -> to is not an edge of the job state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrConflict is returned when the job is no longer in the expected from status.
var ErrConflict = errors.New("job status changed concurrently")

// Store is the data access interface. All job persistence goes through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// TransitionJob atomically moves a job from one status to the next and
	// returns the committed row. It never overwrites a reference that is
	// already set.
	TransitionJob(ctx context.Context, id uuid.UUID, from, to models.Status, opts ...TransitionOption) (*models.Job, error)
	// ListStaleJobs returns jobs in a stage status not updated since before.
	ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error)
	// ListExpiredJobs returns terminal jobs last updated before the cutoff.
	ListExpiredJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

var validTransitions = map[models.Status][]models.Status{
	models.JobStatusQueued:     {models.JobStatusProfiling, models.JobStatusFailed},
	models.JobStatusProfiling:  {models.JobStatusSuggesting, models.JobStatusFailed},
	models.JobStatusSuggesting: {models.JobStatusApplying, models.JobStatusFailed},
	models.JobStatusApplying:   {models.JobStatusCompleted, models.JobStatusFailed},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to models.Status) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

type transitionParams struct {
	ProfileRef     *string
	SuggestionsRef *string
	OutputRef      *string
	ReportRef      *string
	Error          *models.JobError
}

type TransitionOption func(*transitionParams)

func WithProfileRef(ref string) TransitionOption {
	return func(p *transitionParams) {
		p.ProfileRef = &ref
	}
}

func WithSuggestionsRef(ref string) TransitionOption {
	return func(p *transitionParams) {
		p.SuggestionsRef = &ref
	}
}

// WithOutputRefs records the cleaned dataset and the report together.
func WithOutputRefs(outputRef, reportRef string) TransitionOption {
	return func(p *transitionParams) {
		p.OutputRef = &outputRef
		p.ReportRef = &reportRef
	}
}

func WithError(kind, message, stage string) TransitionOption {
	return func(p *transitionParams) {
		p.Error = &models.JobError{Kind: kind, Message: message, Stage: stage}
	}
}

// ApplyTransition mutates job in memory the same way TransitionJob mutates
// the stored row. Used by in-process implementations and test doubles.
func ApplyTransition(job *models.Job, to models.Status, now time.Time, opts ...TransitionOption) {
	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}

	job.Status = to
	job.UpdatedAt = now
	if to == models.JobStatusProfiling && job.StartedAt == nil {
		t := now
		job.StartedAt = &t
	}
	if to.IsTerminal() && job.CompletedAt == nil {
		t := now
		job.CompletedAt = &t
	}
	if params.ProfileRef != nil && job.ProfileRef == nil {
		job.ProfileRef = params.ProfileRef
	}
	if params.SuggestionsRef != nil && job.SuggestionsRef == nil {
		job.SuggestionsRef = params.SuggestionsRef
	}
	if params.OutputRef != nil && job.OutputRef == nil {
		job.OutputRef = params.OutputRef
	}
	if params.ReportRef != nil && job.ReportRef == nil {
		job.ReportRef = params.ReportRef
	}
	if params.Error != nil && job.Error == nil {
		job.Error = params.Error
	}
}
