package models

import "github.com/google/uuid"

// Manifest lists every chunk belonging to a job. It is written once by the
// chunker, after all chunk files are persisted, and is immutable thereafter.
type Manifest struct {
	JobID       uuid.UUID `json:"job_id"`
	TotalChunks int       `json:"total_chunks"`
	ChunkPaths  []string  `json:"chunk_paths"`
}
