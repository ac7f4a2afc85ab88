package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/tidyflow/internal/ai"
	"github.com/kiranshivaraju/tidyflow/internal/artifact"
	"github.com/kiranshivaraju/tidyflow/internal/cache"
	"github.com/kiranshivaraju/tidyflow/internal/engine"
	"github.com/kiranshivaraju/tidyflow/internal/store"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// threeRowCSV has one row with too many fields.
const threeRowCSV = "name,age,city\n" +
	"Ann,34,Oslo\n" +
	"Bob,41,Bergen,extra\n" +
	"Cid,,Tromso\n"

type harness struct {
	svc       *Service
	store     *store.MemoryStore
	artifacts artifact.Store
	engine    *countingEngine
}

func newHarness(t *testing.T, inner engine.Engine, opts ...Option) *harness {
	t.Helper()
	fs, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)
	if inner == nil {
		inner = engine.NewLocal(fs, ai.NewRulesSuggester())
	}
	st := store.NewMemoryStore()
	eng := &countingEngine{inner: inner}

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	svc := New(st, fs, eng, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return &harness{svc: svc, store: st, artifacts: fs, engine: eng}
}

func (h *harness) create(t *testing.T, csv string) *models.Job {
	t.Helper()
	job, err := h.svc.Create(context.Background(), "people.csv", []byte(csv))
	require.NoError(t, err)
	return job
}

// countingEngine records every stage call and the job status observed at
// that moment.
type countingEngine struct {
	inner    engine.Engine
	observe  func(id uuid.UUID) models.Status
	mu       sync.Mutex
	calls    []models.Stage
	observed []models.Status
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) RunStage(ctx context.Context, req engine.Request) (engine.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req.Stage)
	if e.observe != nil {
		e.observed = append(e.observed, e.observe(req.JobID))
	}
	e.mu.Unlock()
	return e.inner.RunStage(ctx, req)
}

func (e *countingEngine) Calls() []models.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Stage(nil), e.calls...)
}

func (e *countingEngine) Observed() []models.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Status(nil), e.observed...)
}

// stageFunc adapts a function to engine.Engine.
type stageFunc func(ctx context.Context, req engine.Request) (engine.Result, error)

func (f stageFunc) Name() string { return "func" }

func (f stageFunc) RunStage(ctx context.Context, req engine.Request) (engine.Result, error) {
	return f(ctx, req)
}

// failAt delegates to inner until stage, which fails with err.
func failAt(inner engine.Engine, stage models.Stage, err error) engine.Engine {
	return stageFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
		if req.Stage == stage {
			return engine.Result{}, err
		}
		return inner.RunStage(ctx, req)
	})
}

// blockingEngine never finishes a stage on its own.
var blockingEngine = stageFunc(func(ctx context.Context, req engine.Request) (engine.Result, error) {
	<-ctx.Done()
	return engine.Result{}, ctx.Err()
})

// memCache is an in-process cache.Cache.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	setErr    error
	deleteErr error
	deletes   int
}

var _ cache.Cache = (*memCache)(nil)

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Ping(ctx context.Context) error { return nil }

func (c *memCache) SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.Set(ctx, cache.JobKey(job.ID), data, ttl)
}

func (c *memCache) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, bool, error) {
	data, ok, _ := c.Get(ctx, cache.JobKey(id))
	if !ok {
		return nil, false, nil
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, false, nil
	}
	return &job, true, nil
}

func (c *memCache) DeleteJob(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if c.deleteErr != nil {
		return c.deleteErr
	}
	delete(c.data, cache.JobKey(id))
	delete(c.data, cache.ProfileKey(id))
	return nil
}

func (c *memCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return 0, errors.New("not supported")
}

func (c *memCache) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setErr = err
	c.deleteErr = err
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}
