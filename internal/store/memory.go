package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prateeksaini/rowbatch/pkg/models"
)

// MemoryStore is an in-memory Store with the same version-token semantics as
// the Postgres implementation. It backs unit tests that exercise concurrent
// status updates without a database.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Version = 1
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, id uuid.UUID, merge MergeFunc) (*models.Job, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		prev, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}

		next := *prev
		if err := merge(&next); err != nil {
			return nil, err
		}
		applyGuards(prev, &next)
		next.UpdatedAt = time.Now().UTC()

		s.mu.Lock()
		cur, ok := s.jobs[id]
		if !ok {
			s.mu.Unlock()
			return nil, ErrNotFound
		}
		if cur.Version != prev.Version {
			s.mu.Unlock()
			continue
		}
		next.Version = prev.Version + 1
		cp := next
		s.jobs[id] = &cp
		s.mu.Unlock()
		return &next, nil
	}
	return nil, ErrVersionConflict
}

func (s *MemoryStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) ListExpired(_ context.Context, cutoff time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*models.Job
	for _, j := range s.jobs {
		if j.UpdatedAt.Before(cutoff) {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}

// Touch backdates a job's updated_at, for retention tests.
func (s *MemoryStore) Touch(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.UpdatedAt = at
	}
}

var _ Store = (*MemoryStore)(nil)
