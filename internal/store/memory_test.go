package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prateeksaini/rowbatch/internal/store"
	"github.com/prateeksaini/rowbatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateGetDelete(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newJob(2)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	require.NoError(t, s.DeleteJob(ctx, job.ID))
	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newJob(2)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.CompletedChunks = 99

	again, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.CompletedChunks)
}

// Two workers completing chunks against the same prior snapshot must both
// count: the version token forces the loser to re-read and reapply.
func TestMemory_SimultaneousCompletions(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newJob(8)
	require.NoError(t, s.CreateJob(ctx, job))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateJob(ctx, job.ID, func(j *models.Job) error {
				j.CompletedChunks++
				j.State = models.JobStateRunning
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedChunks)
	assert.Equal(t, int64(3), got.Version)
}

func TestMemory_TerminalGuard(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newJob(1)
	require.NoError(t, s.CreateJob(ctx, job))

	now := time.Now().UTC()
	_, err := s.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.State = models.JobStateDone
		j.FinishedAt = &now
		return nil
	})
	require.NoError(t, err)

	got, err := s.UpdateJob(ctx, job.ID, func(j *models.Job) error {
		j.State = models.JobStateQueued
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStateDone, got.State)
}

func TestMemory_ListExpired(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	old := newJob(1)
	fresh := newJob(1)
	require.NoError(t, s.CreateJob(ctx, old))
	require.NoError(t, s.CreateJob(ctx, fresh))
	s.Touch(old.ID, time.Now().UTC().Add(-100*time.Hour))

	expired, err := s.ListExpired(ctx, time.Now().UTC().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
}
