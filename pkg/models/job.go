package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStateQueued     = "queued"
	JobStateRunning    = "running"
	JobStateCancelling = "cancelling"
	JobStateDone       = "done"
	JobStateCancelled  = "cancelled"
	JobStateFailed     = "failed"
)

// Job is the durable progress record for one table-processing run. The API
// returns a job_id on POST /api/v1/jobs; the client polls
// GET /api/v1/jobs/{job_id} until the state is terminal, then downloads the
// output artifact.
type Job struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	State           string     `db:"state"            json:"state"`
	Tag             string     `db:"tag"              json:"tag,omitempty"`
	TotalChunks     int        `db:"total_chunks"     json:"total_chunks"`
	CompletedChunks int        `db:"completed_chunks" json:"completed_chunks"`
	RowsProcessed   int        `db:"rows_processed"   json:"rows_processed"`
	Errors          int        `db:"errors"           json:"errors"`
	OutputRef       string     `db:"output_ref"       json:"output_ref"`
	Version         int64      `db:"version"          json:"-"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
	FinishedAt      *time.Time `db:"finished_at"      json:"finished_at,omitempty"`
	CancelledAt     *time.Time `db:"cancelled_at"     json:"cancelled_at,omitempty"`
}

// IsTerminal reports whether a job in this state will never transition again.
func IsTerminal(state string) bool {
	switch state {
	case JobStateDone, JobStateCancelled, JobStateFailed:
		return true
	}
	return false
}
