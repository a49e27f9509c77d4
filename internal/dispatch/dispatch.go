// Package dispatch owns the job lifecycle seen from the API: it turns an
// accepted upload into a status record plus queued work items, and answers
// status, cancel and download requests.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prateeksaini/rowbatch/internal/blob"
	"github.com/prateeksaini/rowbatch/internal/cache"
	"github.com/prateeksaini/rowbatch/internal/chunker"
	"github.com/prateeksaini/rowbatch/internal/queue"
	"github.com/prateeksaini/rowbatch/internal/store"
	"github.com/prateeksaini/rowbatch/pkg/models"
)

var (
	// ErrNotComplete means the output was requested before the job reached done.
	ErrNotComplete = errors.New("job is not complete")
	// ErrOutputMissing means the job is done but its artifact is gone,
	// typically because the retention sweeper already removed it.
	ErrOutputMissing = errors.New("output artifact missing")
)

// Service wires the chunker, queue, status store and artifact store together.
type Service struct {
	store   store.Store
	queue   queue.Queue
	cache   cache.Cache
	blobs   blob.Store
	chunker *chunker.Chunker
}

func NewService(s store.Store, q queue.Queue, c cache.Cache, b blob.Store, ch *chunker.Chunker) *Service {
	return &Service{store: s, queue: q, cache: c, blobs: b, chunker: ch}
}

// Start validates and splits the upload, creates the status record, and
// enqueues one work item per chunk. The status record is persisted before
// this returns, so a caller holding the job id can always poll it. A failed
// enqueue marks the job failed and surfaces the error rather than leaving a
// partially dispatched job looking healthy.
func (s *Service) Start(ctx context.Context, src io.Reader, tag string) (*models.Job, error) {
	jobID := uuid.New()

	manifest, err := s.chunker.Split(ctx, jobID, src)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:          jobID,
		State:       models.JobStateQueued,
		Tag:         tag,
		TotalChunks: manifest.TotalChunks,
		OutputRef:   blob.OutputPath(jobID),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create status record: %w", err)
	}

	for i, path := range manifest.ChunkPaths {
		item := models.WorkItem{
			JobID:       jobID,
			ChunkIndex:  i,
			ChunkPath:   path,
			TotalChunks: manifest.TotalChunks,
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			s.markDispatchFailed(ctx, jobID)
			return nil, fmt.Errorf("enqueue chunk %d: %w", i, err)
		}
	}

	slog.Info("job dispatched", "job_id", jobID, "chunks", manifest.TotalChunks, "tag", tag)
	return job, nil
}

func (s *Service) markDispatchFailed(ctx context.Context, jobID uuid.UUID) {
	_, err := s.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		j.State = models.JobStateFailed
		return nil
	})
	if err != nil {
		slog.Error("mark job failed after enqueue error", "job_id", jobID, "error", err)
	}
}

// Status returns the current status document, or store.ErrNotFound.
func (s *Service) Status(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Cancel sets the cancellation marker and best-effort flips the status to
// cancelling. Already-queued work items are not retracted; workers no-op on
// them via the marker. Safe to call any number of times, including for jobs
// that never existed.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) error {
	created, err := s.cache.RequestCancel(ctx, jobID)
	if err != nil {
		return fmt.Errorf("set cancellation marker: %w", err)
	}
	if created {
		slog.Info("cancellation requested", "job_id", jobID)
	}

	_, err = s.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		if !models.IsTerminal(j.State) {
			j.State = models.JobStateCancelling
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		// The marker is set, so workers will still stop; the status flip is
		// only advisory for pollers.
		slog.Warn("cancelling status flip failed", "job_id", jobID, "error", err)
	}
	return nil
}

// OpenOutput streams the finished output artifact. It returns ErrNotComplete
// until the job reaches done and ErrOutputMissing if the artifact is gone.
func (s *Service) OpenOutput(ctx context.Context, jobID uuid.UUID) (io.ReadCloser, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateDone {
		return nil, ErrNotComplete
	}
	rc, err := s.blobs.Open(ctx, job.OutputRef)
	if errors.Is(err, blob.ErrNotExist) {
		return nil, ErrOutputMissing
	}
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return rc, nil
}
