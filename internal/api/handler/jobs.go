package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/internal/api/response"
	"github.com/kiranshivaraju/tidyflow/internal/orchestrator"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// multipartMemory is how much of a multipart upload is buffered in memory
// before spilling to temp files.
const multipartMemory = 8 << 20

// JobService is the orchestrator surface the handlers depend on.
type JobService interface {
	Create(ctx context.Context, filename string, data []byte) (*models.Job, error)
	Start(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetOutput(ctx context.Context, id uuid.UUID) (*orchestrator.Artifact, error)
	GetReport(ctx context.Context, id uuid.UUID) (*orchestrator.Artifact, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetSuggestions(ctx context.Context, id uuid.UUID) ([]models.Suggestion, error)
	Resubmit(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Jobs serves the /jobs endpoints.
type Jobs struct {
	svc            JobService
	maxUploadBytes int64
}

func NewJobs(svc JobService, maxUploadBytes int64) *Jobs {
	return &Jobs{svc: svc, maxUploadBytes: maxUploadBytes}
}

// Upload handles POST /jobs/upload. The dataset is either the "file" field
// of a multipart form or the raw request body.
func (h *Jobs) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	filename, data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"Upload exceeds the size limit", map[string]int64{"max_bytes": tooLarge.Limit})
			return
		}
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}

	job, err := h.svc.Create(r.Context(), filename, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Created(w, models.UploadResponse{JobID: job.ID, Status: job.Status})
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		return r.URL.Query().Get("filename"), data, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", nil, err
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, errors.New("multipart field \"file\" is required")
		}
		return "", nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

// Start handles POST /jobs/{id}/profile.
func (h *Jobs) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.Start(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Accepted(w, job)
}

// Status handles GET /jobs/{id}.
func (h *Jobs) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, job)
}

// Download handles GET /jobs/{id}/download.
func (h *Jobs) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.GetOutput(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.File(w, a.ContentType, a.Filename, true, a.Data)
}

// Report handles GET /jobs/{id}/report.
func (h *Jobs) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	a, err := h.svc.GetReport(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.File(w, a.ContentType, a.Filename, false, a.Data)
}

// Profile handles GET /jobs/{id}/profile.
func (h *Jobs) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetProfile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, p)
}

// Suggestions handles GET /jobs/{id}/suggestions.
func (h *Jobs) Suggestions(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	s, err := h.svc.GetSuggestions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, s)
}

// Resubmit handles POST /jobs/{id}/resubmit.
func (h *Jobs) Resubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.Resubmit(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Created(w, models.UploadResponse{JobID: job.ID, Status: job.Status, ResubmittedFrom: &id})
}

// jobID parses the {id} path parameter. An id that is not a UUID cannot
// name a job, so it is reported as not found.
func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, orchestrator.ErrInvalidState):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrNotReady):
		response.Error(w, http.StatusConflict, "NOT_READY", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		w.Header().Set("Retry-After", "30")
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN",
			"Server is shutting down", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
