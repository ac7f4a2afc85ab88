package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// --- fake server ---

// fakeServer serves a job whose status advances one step per status read.
type fakeServer struct {
	mu         sync.Mutex
	id         uuid.UUID
	statuses   []models.Status
	reads      int
	failReads  int // status reads answered with 502 before succeeding
	starts     int
	startFail  bool // first start is answered 502 after taking effect
	jobErr     *models.JobError
	uploadName string
	uploadData string
	authHeader string
}

func newFakeServer(t *testing.T, f *fakeServer) *httptest.Server {
	t.Helper()
	if f.id == uuid.Nil {
		f.id = uuid.New()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs/upload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authHeader = r.Header.Get("Authorization")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("reading upload: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		f.uploadName = header.Filename
		f.uploadData = string(data)
		writeData(w, http.StatusCreated, models.UploadResponse{JobID: f.id, Status: models.JobStatusQueued})
	})
	mux.HandleFunc("POST /jobs/{id}/profile", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.starts++
		if f.startFail && f.starts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeData(w, http.StatusAccepted, models.Job{ID: f.id, Status: models.JobStatusProfiling})
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.PathValue("id") != f.id.String() {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
			return
		}
		if f.failReads > 0 {
			f.failReads--
			writeError(w, http.StatusBadGateway, "BAD_GATEWAY", "upstream hiccup")
			return
		}
		status := f.statuses[min(f.reads, len(f.statuses)-1)]
		f.reads++
		job := models.Job{ID: f.id, Status: status}
		if status == models.JobStatusFailed {
			job.Error = f.jobErr
		}
		if status == models.JobStatusCompleted {
			out, rep := "jobs/x/cleaned.csv", "jobs/x/report.md"
			job.OutputRef, job.ReportRef = &out, &rep
		}
		writeData(w, http.StatusOK, job)
	})
	mux.HandleFunc("GET /jobs/{id}/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("name\nAnn\n"))
	})
	mux.HandleFunc("GET /jobs/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusConflict, "NOT_READY", "job is not completed")
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (f *fakeServer) counts() (reads, starts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.starts
}

func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func fastPoller(c *Client, opts ...PollerOption) *Poller {
	base := []PollerOption{
		WithInterval(time.Millisecond),
		WithMaxWait(5 * time.Second),
		WithRetryBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 10)
		}),
	}
	return NewPoller(c, append(base, opts...)...)
}

var fullRun = []models.Status{
	models.JobStatusProfiling,
	models.JobStatusSuggesting,
	models.JobStatusApplying,
	models.JobStatusCompleted,
}

// --- Client tests ---

func TestUpload_SendsMultipartAndKey(t *testing.T) {
	f := &fakeServer{statuses: fullRun}
	ts := newFakeServer(t, f)

	up, err := New(ts.URL+"/", "tfk_secret").Upload(context.Background(), "people.csv", []byte("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.JobID != f.id {
		t.Errorf("expected job id %s, got %s", f.id, up.JobID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadName != "people.csv" || f.uploadData != "a,b\n1,2\n" {
		t.Errorf("unexpected upload %q: %q", f.uploadName, f.uploadData)
	}
	if f.authHeader != "Bearer tfk_secret" {
		t.Errorf("unexpected Authorization header %q", f.authHeader)
	}
}

func TestStatus_NotFoundIsAPIError(t *testing.T) {
	ts := newFakeServer(t, &fakeServer{statuses: fullRun})

	_, err := New(ts.URL, "").Status(context.Background(), uuid.New())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if IsTransient(err) {
		t.Error("404 must not be transient")
	}
}

func TestDownload_ReturnsBody(t *testing.T) {
	f := &fakeServer{statuses: fullRun}
	ts := newFakeServer(t, f)

	data, err := New(ts.URL, "").Download(context.Background(), f.id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "name\nAnn\n" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestReport_NotReady(t *testing.T) {
	f := &fakeServer{statuses: fullRun}
	ts := newFakeServer(t, f)

	_, err := New(ts.URL, "").Report(context.Background(), f.id)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "NOT_READY" {
		t.Fatalf("expected NOT_READY, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("connection refused"), true},
		{&APIError{StatusCode: 502}, true},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 409}, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

// --- Poller tests ---

func TestPoller_ObservesEveryStatus(t *testing.T) {
	f := &fakeServer{statuses: fullRun}
	ts := newFakeServer(t, f)

	var seen []models.Status
	p := fastPoller(New(ts.URL, ""), OnStatus(func(j *models.Job) { seen = append(seen, j.Status) }))

	job, err := p.Run(context.Background(), f.id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if len(seen) != len(fullRun) {
		t.Fatalf("expected %d statuses, got %v", len(fullRun), seen)
	}
	for i, s := range fullRun {
		if seen[i] != s {
			t.Errorf("status %d: expected %s, got %s", i, s, seen[i])
		}
	}
}

func TestPoller_AlreadyTerminalReturnsOnFirstRead(t *testing.T) {
	f := &fakeServer{statuses: []models.Status{models.JobStatusCompleted}}
	ts := newFakeServer(t, f)

	job, err := fastPoller(New(ts.URL, "")).Run(context.Background(), f.id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reads, _ := f.counts(); job.Status != models.JobStatusCompleted || reads != 1 {
		t.Errorf("expected one read to completed, got %s after %d reads", job.Status, reads)
	}
}

func TestPoller_FailedJobSurfacesError(t *testing.T) {
	f := &fakeServer{
		statuses: []models.Status{models.JobStatusProfiling, models.JobStatusFailed},
		jobErr:   &models.JobError{Kind: models.ErrorKindStageFailure, Message: "input is not valid CSV", Stage: "profiling"},
	}
	ts := newFakeServer(t, f)

	job, err := fastPoller(New(ts.URL, "")).Run(context.Background(), f.id)

	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected JobFailedError, got %v", err)
	}
	if failed.Kind != models.ErrorKindStageFailure || failed.Stage != "profiling" {
		t.Errorf("unexpected failure %+v", failed)
	}
	if !strings.Contains(err.Error(), "input is not valid CSV") {
		t.Errorf("error should carry the recorded message: %v", err)
	}
	if job == nil || job.Status != models.JobStatusFailed {
		t.Errorf("expected failed snapshot, got %+v", job)
	}
}

func TestPoller_RetriesTransientReads(t *testing.T) {
	f := &fakeServer{statuses: fullRun, failReads: 3}
	ts := newFakeServer(t, f)

	job, err := fastPoller(New(ts.URL, "")).Run(context.Background(), f.id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if _, starts := f.counts(); starts != 0 {
		t.Errorf("polling must not call start, got %d calls", starts)
	}
}

func TestPoller_PermanentReadErrorStops(t *testing.T) {
	ts := newFakeServer(t, &fakeServer{statuses: fullRun})

	_, err := fastPoller(New(ts.URL, "")).Run(context.Background(), uuid.New())

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestPoller_TimesOut(t *testing.T) {
	f := &fakeServer{statuses: []models.Status{models.JobStatusApplying}}
	ts := newFakeServer(t, f)

	p := fastPoller(New(ts.URL, ""), WithMaxWait(50*time.Millisecond))
	_, err := p.Run(context.Background(), f.id)

	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
}

func TestPoller_CallerCancelIsNotTimeout(t *testing.T) {
	f := &fakeServer{statuses: []models.Status{models.JobStatusApplying}}
	ts := newFakeServer(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := fastPoller(New(ts.URL, "")).Run(ctx, f.id)

	if errors.Is(err, ErrPollTimeout) {
		t.Fatal("cancellation by the caller must not be reported as a poll timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSubmit_UploadStartPoll(t *testing.T) {
	f := &fakeServer{statuses: fullRun}
	ts := newFakeServer(t, f)

	job, err := fastPoller(New(ts.URL, "")).Submit(context.Background(), "people.csv", []byte("a\n1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID != f.id || job.Status != models.JobStatusCompleted {
		t.Errorf("unexpected job %+v", job)
	}
	if _, starts := f.counts(); starts != 1 {
		t.Errorf("expected one start, got %d", starts)
	}
}

func TestSubmit_LostStartResponseIsNotRepeated(t *testing.T) {
	f := &fakeServer{statuses: fullRun, startFail: true}
	ts := newFakeServer(t, f)

	job, err := fastPoller(New(ts.URL, "")).Submit(context.Background(), "people.csv", []byte("a\n1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s", job.Status)
	}
	if _, starts := f.counts(); starts != 1 {
		t.Errorf("start took effect, expected no second call, got %d", starts)
	}
}

// --- View tests ---

func TestViewOf(t *testing.T) {
	out, rep := "o", "r"
	cases := []struct {
		name  string
		job   *models.Job
		phase Phase
		step  int
	}{
		{"nothing observed", nil, PhaseUploading, 0},
		{"queued", &models.Job{Status: models.JobStatusQueued}, PhaseProcessing, 0},
		{"profiling", &models.Job{Status: models.JobStatusProfiling}, PhaseProcessing, 1},
		{"applying", &models.Job{Status: models.JobStatusApplying}, PhaseProcessing, 3},
		{"completed", &models.Job{Status: models.JobStatusCompleted, OutputRef: &out, ReportRef: &rep}, PhaseDone, 3},
		{"failed", &models.Job{Status: models.JobStatusFailed, Error: &models.JobError{Kind: "Timeout"}}, PhaseFailed, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := ViewOf(c.job)
			if v.Phase != c.phase {
				t.Errorf("expected phase %s, got %s", c.phase, v.Phase)
			}
			if v.Step != c.step {
				t.Errorf("expected step %d, got %d", c.step, v.Step)
			}
			if v.CanDownload != (c.phase == PhaseDone) {
				t.Errorf("CanDownload = %v in phase %s", v.CanDownload, v.Phase)
			}
			if (v.Error != nil) != (c.phase == PhaseFailed) {
				t.Errorf("unexpected error field %+v", v.Error)
			}
		})
	}
}

func TestViewOf_IsPure(t *testing.T) {
	job := &models.Job{Status: models.JobStatusSuggesting}
	if ViewOf(job) != ViewOf(job) {
		t.Error("same snapshot must project to the same view")
	}
}
