// Package sweeper garbage-collects expired job artifacts: status records,
// cancellation markers, cache subtrees and output artifacts. It is strictly
// best-effort; a failed deletion is logged and the sweep moves on.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prateeksaini/rowbatch/internal/blob"
	"github.com/prateeksaini/rowbatch/internal/cache"
	"github.com/prateeksaini/rowbatch/internal/config"
	"github.com/prateeksaini/rowbatch/internal/store"
)

type Sweeper struct {
	store store.Store
	cache cache.Cache
	blobs blob.Store

	ttl      time.Duration
	interval time.Duration
}

func New(s store.Store, c cache.Cache, b blob.Store, cfg config.RetentionConfig) *Sweeper {
	return &Sweeper{store: s, cache: c, blobs: b, ttl: cfg.TTL, interval: cfg.SweepInterval}
}

// Run sweeps on a fixed interval until ctx is cancelled. One sweep happens
// immediately on startup so a restarted worker does not wait a full interval
// with a backlog of stale jobs.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one full pass: tracked jobs past their TTL first, then
// orphaned cache subtrees that have no status record at all.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	swept := s.sweepTracked(ctx, cutoff)
	orphans := s.sweepOrphans(ctx, cutoff)
	if swept > 0 || orphans > 0 {
		slog.Info("retention sweep complete", "jobs_swept", swept, "orphans_swept", orphans)
	}
}

func (s *Sweeper) sweepTracked(ctx context.Context, cutoff time.Time) int {
	jobs, err := s.store.ListExpired(ctx, cutoff)
	if err != nil {
		slog.Error("list expired jobs", "error", err)
		return 0
	}

	swept := 0
	for _, job := range jobs {
		s.deleteArtifacts(ctx, job.ID)

		if err := s.store.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("delete status record", "job_id", job.ID, "error", err)
			continue
		}
		slog.Info("expired job swept", "job_id", job.ID, "state", job.State, "updated_at", job.UpdatedAt)
		swept++
	}
	return swept
}

func (s *Sweeper) sweepOrphans(ctx context.Context, cutoff time.Time) int {
	names, err := s.blobs.List(ctx, blob.CacheRoot)
	if err != nil {
		slog.Error("list cache subtrees", "error", err)
		return 0
	}

	swept := 0
	for _, name := range names {
		jobID, err := uuid.Parse(name)
		if err != nil {
			// Not a job subtree we recognize; nothing can own it again.
			slog.Warn("removing unparseable cache entry", "name", name)
			s.deleteTree(ctx, blob.CacheRoot+"/"+name)
			continue
		}

		if _, err := s.store.GetJob(ctx, jobID); err == nil {
			continue // tracked, pass one owns it
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("status lookup during orphan sweep", "job_id", jobID, "error", err)
			continue
		}

		mod, err := s.blobs.LastModified(ctx, blob.JobDir(jobID))
		if errors.Is(err, blob.ErrNotExist) {
			continue
		}
		if err != nil {
			slog.Warn("stat orphan subtree", "job_id", jobID, "error", err)
			continue
		}
		if mod.After(cutoff) {
			continue // young orphan, likely a job mid-creation
		}

		s.deleteArtifacts(ctx, jobID)
		slog.Info("orphaned cache subtree swept", "job_id", jobID, "last_modified", mod)
		swept++
	}
	return swept
}

// deleteArtifacts removes everything belonging to a job outside the status
// store: cancel marker, cache subtree, output artifact. Each failure is
// logged and skipped.
func (s *Sweeper) deleteArtifacts(ctx context.Context, jobID uuid.UUID) {
	if err := s.cache.ClearCancel(ctx, jobID); err != nil {
		slog.Warn("delete cancellation marker", "job_id", jobID, "error", err)
	}
	s.deleteTree(ctx, blob.JobDir(jobID))
	if err := s.blobs.Delete(ctx, blob.OutputPath(jobID)); err != nil && !errors.Is(err, blob.ErrNotExist) {
		slog.Warn("delete output artifact", "job_id", jobID, "error", err)
	}
}

func (s *Sweeper) deleteTree(ctx context.Context, prefix string) {
	if err := s.blobs.DeleteTree(ctx, prefix); err != nil {
		slog.Warn("delete cache subtree", "prefix", prefix, "error", err)
	}
}
