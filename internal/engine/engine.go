package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// Sentinel errors for stage execution failures.
var (
	// ErrStageRejected means the engine ran the stage and refused the data.
	ErrStageRejected     = errors.New("stage rejected input")
	ErrEngineUnreachable = errors.New("stage engine unreachable")
	ErrEngineTimeout     = errors.New("stage engine timeout")
)

// Request identifies one stage execution for one job. Refs name artifacts
// in the shared artifact store.
type Request struct {
	JobID            uuid.UUID    `json:"job_id"`
	Stage            models.Stage `json:"stage"`
	OriginalFilename string       `json:"original_filename,omitempty"`
	InputRef         string       `json:"input_ref"`
	ProfileRef       string       `json:"profile_ref,omitempty"`
	SuggestionsRef   string       `json:"suggestions_ref,omitempty"`
}

// Result is what a successful stage produced. ReportRef is only set by the
// applying stage.
type Result struct {
	Ref       string `json:"ref"`
	ReportRef string `json:"report_ref,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Engine executes pipeline stages. It never touches job state; the caller
// commits transitions based on the returned Result.
type Engine interface {
	RunStage(ctx context.Context, req Request) (Result, error)
	Name() string
}
