package models

import "github.com/google/uuid"

// WorkItem is the queue message instructing a worker to process one chunk.
// Delivery is at-least-once: a worker that fails mid-chunk may see the same
// item again, so processing must tolerate replays.
type WorkItem struct {
	JobID       uuid.UUID `json:"job_id"`
	ChunkIndex  int       `json:"chunk_index"`
	ChunkPath   string    `json:"chunk_path"`
	TotalChunks int       `json:"total_chunks"`
	Attempts    int       `json:"attempts"`
}
