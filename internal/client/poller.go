package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultMaxWait      = 10 * time.Minute
)

// ErrPollTimeout is returned when a job is still running after MaxWait.
var ErrPollTimeout = errors.New("job did not finish before the poll deadline")

// JobFailedError carries the error recorded on a failed job.
type JobFailedError struct {
	JobID uuid.UUID
	Kind  string
	Stage string
	Msg   string
}

func (e *JobFailedError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("job %s failed during %s: %s: %s", e.JobID, e.Stage, e.Kind, e.Msg)
	}
	return fmt.Sprintf("job %s failed: %s: %s", e.JobID, e.Kind, e.Msg)
}

func failedError(job *models.Job) *JobFailedError {
	e := &JobFailedError{JobID: job.ID, Kind: models.ErrorKindStageFailure, Msg: "no error recorded"}
	if job.Error != nil {
		e.Kind = job.Error.Kind
		e.Stage = job.Error.Stage
		e.Msg = job.Error.Message
	}
	return e
}

// Poller waits for jobs to reach a terminal status.
type Poller struct {
	client   *Client
	interval time.Duration
	maxWait  time.Duration
	onStatus func(*models.Job)
	backoff  func() backoff.BackOff
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the delay between status reads.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithMaxWait bounds the whole wait. Zero disables the bound.
func WithMaxWait(d time.Duration) PollerOption {
	return func(p *Poller) { p.maxWait = d }
}

// OnStatus registers a callback invoked once per distinct observed status.
func OnStatus(fn func(*models.Job)) PollerOption {
	return func(p *Poller) { p.onStatus = fn }
}

// WithRetryBackOff sets the policy for retrying a failed status read.
func WithRetryBackOff(fn func() backoff.BackOff) PollerOption {
	return func(p *Poller) { p.backoff = fn }
}

func NewPoller(c *Client, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   c,
		interval: DefaultPollInterval,
		maxWait:  DefaultMaxWait,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls job id until it is completed or failed. A failed job returns
// the last snapshot together with a *JobFailedError.
func (p *Poller) Run(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	pollCtx := ctx
	if p.maxWait > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.maxWait)
		defer cancel()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last models.Status
	for {
		job, err := p.read(pollCtx, id)
		if err != nil {
			return nil, p.deadlineError(ctx, pollCtx, err)
		}
		if job.Status != last {
			last = job.Status
			if p.onStatus != nil {
				p.onStatus(job)
			}
		}

		switch job.Status {
		case models.JobStatusCompleted:
			return job, nil
		case models.JobStatusFailed:
			return job, failedError(job)
		}

		select {
		case <-pollCtx.Done():
			return job, p.deadlineError(ctx, pollCtx, pollCtx.Err())
		case <-ticker.C:
		}
	}
}

// read retries transient failures only. It never calls Start.
func (p *Poller) read(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	op := func() (*models.Job, error) {
		job, err := p.client.Status(ctx, id)
		if err != nil && !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return job, err
	}
	return backoff.RetryWithData(op, backoff.WithContext(p.backoff(), ctx))
}

func (p *Poller) deadlineError(parent, pollCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w (waited %s)", ErrPollTimeout, p.maxWait)
	}
	return err
}

// Submit uploads data, starts the pipeline and waits for a terminal status.
func (p *Poller) Submit(ctx context.Context, filename string, data []byte) (*models.Job, error) {
	up, err := p.client.Upload(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := p.start(ctx, up.JobID); err != nil {
		return nil, fmt.Errorf("start job %s: %w", up.JobID, err)
	}
	return p.Run(ctx, up.JobID)
}

// start tolerates a lost response: if the request failed in transit but the
// job has left queued, the start took effect.
func (p *Poller) start(ctx context.Context, id uuid.UUID) error {
	_, err := p.client.Start(ctx, id)
	if err == nil || !IsTransient(err) {
		return err
	}
	job, readErr := p.read(ctx, id)
	if readErr != nil {
		return err
	}
	if job.Status != models.JobStatusQueued {
		return nil
	}
	_, err = p.client.Start(ctx, id)
	return err
}
