package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// MemoryStore is an in-process Store with the same transition rules as
// PostgresStore.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for updated_at.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) TransitionJob(ctx context.Context, id uuid.UUID, from, to models.Status, opts ...TransitionOption) (*models.Job, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrConflict, from, j.Status)
	}
	ApplyTransition(j, to, s.now(), opts...)
	return j.Clone(), nil
}

func (s *MemoryStore) ListStaleJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error) {
	return s.list(before, limit, models.Status.IsStage), nil
}

func (s *MemoryStore) ListExpiredJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error) {
	return s.list(before, limit, models.Status.IsTerminal), nil
}

func (s *MemoryStore) list(before time.Time, limit int, match func(models.Status) bool) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, j := range s.jobs {
		if match(j.Status) && j.UpdatedAt.Before(before) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}
