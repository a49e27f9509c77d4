// Package worker consumes work items and processes chunks: the unit of
// parallel execution in the pipeline. Invocations share no process state;
// everything flows through the status store, the cancellation marker and the
// append-only output artifact.
package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prateeksaini/rowbatch/internal/blob"
	"github.com/prateeksaini/rowbatch/internal/cache"
	"github.com/prateeksaini/rowbatch/internal/store"
	"github.com/prateeksaini/rowbatch/pkg/models"
)

// ErrChunkMissing is raised when the chunk a work item references is gone.
// The job's progress is still advanced so it cannot wedge, but the error
// propagates so the queue's redelivery policy applies.
var ErrChunkMissing = errors.New("chunk object missing")

// Processor runs the per-chunk state machine: early-cancel check, chunk
// fetch, row loop with periodic cancellation polls, then a single status
// update folding the chunk's results into the job.
type Processor struct {
	store store.Store
	cache cache.Cache
	blobs blob.Store
	rule  RowRule

	// cancelPollRows bounds how many rows are processed between marker
	// checks; cancellation is cooperative, not preemptive.
	cancelPollRows int
}

func NewProcessor(s store.Store, c cache.Cache, b blob.Store, rule RowRule, cancelPollRows int) *Processor {
	return &Processor{store: s, cache: c, blobs: b, rule: rule, cancelPollRows: cancelPollRows}
}

func (p *Processor) Process(ctx context.Context, item *models.WorkItem) error {
	cancelled, err := p.cache.CancelRequested(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("check cancellation marker: %w", err)
	}
	if cancelled {
		slog.Info("chunk skipped, job cancelled", "job_id", item.JobID, "chunk", item.ChunkIndex)
		return p.persistCancelled(ctx, item.JobID, 0, 0)
	}

	rc, err := p.blobs.Open(ctx, item.ChunkPath)
	if errors.Is(err, blob.ErrNotExist) {
		// Advance progress anyway so the job cannot stay stuck forever, then
		// raise so the transport can retry or dead-letter the item.
		if cErr := p.completeChunk(ctx, item, 0, 1); cErr != nil {
			slog.Error("advance past missing chunk", "job_id", item.JobID, "error", cErr)
		}
		return fmt.Errorf("%w: %s", ErrChunkMissing, item.ChunkPath)
	}
	if err != nil {
		return fmt.Errorf("open chunk: %w", err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return p.completeChunk(ctx, item, 0, 0)
	}
	if err != nil {
		return p.completeChunk(ctx, item, 0, 1)
	}

	outPath := blob.OutputPath(item.JobID)
	headerLine, err := encodeLine(p.rule.Header(header))
	if err != nil {
		return fmt.Errorf("encode output header: %w", err)
	}
	// Conditional create: only the first worker to get here lays the header down.
	if err := p.blobs.AppendIfAbsent(ctx, outPath, headerLine); err != nil && !errors.Is(err, blob.ErrExists) {
		return fmt.Errorf("write output header: %w", err)
	}

	var appended, rowErrs, sincePoll int
	for {
		if sincePoll >= p.cancelPollRows {
			sincePoll = 0
			cancelled, err := p.cache.CancelRequested(ctx, item.JobID)
			if err != nil {
				return fmt.Errorf("poll cancellation marker: %w", err)
			}
			if cancelled {
				// Rows already appended stay; the remainder of the chunk is abandoned.
				slog.Info("chunk abandoned mid-stream, job cancelled",
					"job_id", item.JobID, "chunk", item.ChunkIndex, "rows_appended", appended)
				return p.persistCancelled(ctx, item.JobID, appended, rowErrs)
			}
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs++
			continue
		}
		sincePoll++

		row, err := p.rule.Evaluate(ctx, header, record)
		if err != nil {
			rowErrs++
			continue
		}

		line, err := encodeLine(row)
		if err != nil {
			rowErrs++
			continue
		}
		if err := p.blobs.Append(ctx, outPath, line); err != nil {
			// Storage unreachable is unrecoverable for this invocation; fail
			// whole and rely on redelivery.
			return fmt.Errorf("append output row: %w", err)
		}
		appended++
	}

	return p.completeChunk(ctx, item, appended, rowErrs)
}

// completeChunk folds one finished chunk into the job status: progress
// advances by one (clamped to the total), counters accumulate, and the state
// flips to done when the last chunk lands.
func (p *Processor) completeChunk(ctx context.Context, item *models.WorkItem, rows, rowErrs int) error {
	updated, err := p.store.UpdateJob(ctx, item.JobID, func(j *models.Job) error {
		j.CompletedChunks++
		j.RowsProcessed += rows
		j.Errors += rowErrs
		if models.IsTerminal(j.State) {
			return nil
		}
		if j.CompletedChunks >= j.TotalChunks {
			now := time.Now().UTC()
			j.State = models.JobStateDone
			j.FinishedAt = &now
		} else if j.State != models.JobStateCancelling {
			j.State = models.JobStateRunning
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record chunk completion: %w", err)
	}
	slog.Info("chunk complete",
		"job_id", item.JobID,
		"chunk", item.ChunkIndex,
		"completed", updated.CompletedChunks,
		"total", updated.TotalChunks,
		"state", updated.State,
	)
	return nil
}

func (p *Processor) persistCancelled(ctx context.Context, jobID uuid.UUID, rows, rowErrs int) error {
	_, err := p.store.UpdateJob(ctx, jobID, func(j *models.Job) error {
		j.RowsProcessed += rows
		j.Errors += rowErrs
		if !models.IsTerminal(j.State) {
			now := time.Now().UTC()
			j.State = models.JobStateCancelled
			j.CancelledAt = &now
			j.FinishedAt = &now
		}
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("persist cancellation: %w", err)
	}
	return nil
}

// encodeLine renders one CSV record with standard quoting.
func encodeLine(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
