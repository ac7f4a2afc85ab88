package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a cleaning job.
type Status string

const (
	JobStatusQueued     Status = "queued"
	JobStatusProfiling  Status = "profiling"
	JobStatusSuggesting Status = "suggesting"
	JobStatusApplying   Status = "applying"
	JobStatusCompleted  Status = "completed"
	JobStatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsStage reports whether a stage is executing for a job in this status.
func (s Status) IsStage() bool {
	return s == JobStatusProfiling || s == JobStatusSuggesting || s == JobStatusApplying
}

// Next returns the status that follows s on the success path.
// Terminal statuses return themselves.
func (s Status) Next() Status {
	switch s {
	case JobStatusQueued:
		return JobStatusProfiling
	case JobStatusProfiling:
		return JobStatusSuggesting
	case JobStatusSuggesting:
		return JobStatusApplying
	case JobStatusApplying:
		return JobStatusCompleted
	default:
		return s
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProfiling, JobStatusSuggesting,
		JobStatusApplying, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Stage names one processing phase executed by the stage engine.
type Stage string

const (
	StageProfiling  Stage = "profiling"
	StageSuggesting Stage = "suggesting"
	StageApplying   Stage = "applying"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageProfiling, StageSuggesting, StageApplying}

// Status returns the job status that is current while the stage runs.
func (s Stage) Status() Status {
	return Status(s)
}

// Error kinds recorded on failed jobs and returned by orchestrator operations.
const (
	ErrorKindInvalidInput = "InvalidInput"
	ErrorKindNotFound     = "NotFound"
	ErrorKindInvalidState = "InvalidState"
	ErrorKindNotReady     = "NotReady"
	ErrorKindStageFailure = "StageFailure"
	ErrorKindTimeout      = "Timeout"
)

// JobError is the failure record attached to a failed job. Never cleared.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// Job tracks one uploaded dataset through the cleaning pipeline. The API
// returns id on POST /jobs/upload; the client triggers POST /jobs/{id}/profile
// and polls GET /jobs/{id} until status is completed or failed.
type Job struct {
	ID               uuid.UUID `db:"id"                json:"id"`
	Status           Status    `db:"status"            json:"status"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	InputRef         string    `db:"input_ref"         json:"input_ref"`
	ProfileRef       *string   `db:"profile_ref"       json:"profile_ref,omitempty"`
	SuggestionsRef   *string   `db:"suggestions_ref"   json:"suggestions_ref,omitempty"`
	OutputRef        *string   `db:"output_ref"        json:"output_ref,omitempty"`
	ReportRef        *string   `db:"report_ref"        json:"report_ref,omitempty"`
	Error            *JobError `db:"-"                 json:"error,omitempty"`

	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.ProfileRef = cloneString(j.ProfileRef)
	c.SuggestionsRef = cloneString(j.SuggestionsRef)
	c.OutputRef = cloneString(j.OutputRef)
	c.ReportRef = cloneString(j.ReportRef)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// UploadResponse is returned when a job is created.
type UploadResponse struct {
	JobID           uuid.UUID  `json:"job_id"`
	Status          Status     `json:"status"`
	ResubmittedFrom *uuid.UUID `json:"resubmitted_from,omitempty"`
}
