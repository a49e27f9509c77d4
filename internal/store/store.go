package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prateeksaini/rowbatch/pkg/models"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrVersionConflict means another writer updated the job between our read
	// and write. UpdateJob retries internally; callers only see it when the
	// retry budget is exhausted.
	ErrVersionConflict = errors.New("job version conflict")
)

// MergeFunc mutates a job in place as part of an update. It is called with a
// fresh snapshot on every retry, so it must be safe to run more than once.
type MergeFunc func(*models.Job) error

// Store is the job status access layer. Updates use optimistic concurrency:
// every row carries a version token, and a write only lands if the token has
// not moved since the read. Two workers completing chunks at the same moment
// therefore both count, instead of the second silently clobbering the first.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// UpdateJob reads the job, applies merge, and writes back conditioned on
	// the version read. On conflict it re-reads and reapplies, up to a small
	// bounded number of attempts. The persisted job is returned.
	UpdateJob(ctx context.Context, id uuid.UUID, merge MergeFunc) (*models.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// ListExpired returns jobs whose last modification is older than cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
}

// casAttempts bounds the optimistic retry loop in UpdateJob.
const casAttempts = 5

// applyGuards enforces the invariants every update must respect, regardless
// of what the merge function did: completed never exceeds total, and a
// terminal state never reverts.
func applyGuards(prev, next *models.Job) {
	if next.CompletedChunks > next.TotalChunks {
		next.CompletedChunks = next.TotalChunks
	}
	if next.CompletedChunks < prev.CompletedChunks {
		next.CompletedChunks = prev.CompletedChunks
	}
	if models.IsTerminal(prev.State) && next.State != prev.State {
		next.State = prev.State
		next.FinishedAt = prev.FinishedAt
	}
}
