package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prateeksaini/rowbatch/pkg/models"
)

const jobColumns = `id, state, tag, total_chunks, completed_chunks, rows_processed,
	errors, output_ref, version, created_at, updated_at, finished_at, cancelled_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Version = 1

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, state, tag, total_chunks, completed_chunks, rows_processed,
		   errors, output_ref, version, created_at, updated_at, finished_at, cancelled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.State, job.Tag, job.TotalChunks, job.CompletedChunks, job.RowsProcessed,
		job.Errors, job.OutputRef, job.Version, job.CreatedAt, job.UpdatedAt,
		job.FinishedAt, job.CancelledAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.State, &j.Tag, &j.TotalChunks, &j.CompletedChunks, &j.RowsProcessed,
		&j.Errors, &j.OutputRef, &j.Version, &j.CreatedAt, &j.UpdatedAt,
		&j.FinishedAt, &j.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, merge MergeFunc) (*models.Job, error) {
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

		tag, err := s.pool.Exec(ctx,
			`UPDATE jobs SET state = $2, tag = $3, completed_chunks = $4, rows_processed = $5,
			   errors = $6, output_ref = $7, version = version + 1, updated_at = $8,
			   finished_at = $9, cancelled_at = $10
			 WHERE id = $1 AND version = $11`,
			next.ID, next.State, next.Tag, next.CompletedChunks, next.RowsProcessed,
			next.Errors, next.OutputRef, next.UpdatedAt, next.FinishedAt, next.CancelledAt,
			prev.Version)
		if err != nil {
			return nil, fmt.Errorf("update job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			next.Version = prev.Version + 1
			return &next, nil
		}
		// Someone else advanced the version; re-read and reapply.
	}
	return nil, ErrVersionConflict
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE updated_at < $1 ORDER BY updated_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.State, &j.Tag, &j.TotalChunks, &j.CompletedChunks,
			&j.RowsProcessed, &j.Errors, &j.OutputRef, &j.Version, &j.CreatedAt,
			&j.UpdatedAt, &j.FinishedAt, &j.CancelledAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
