package blob

import (
	"fmt"

	"github.com/google/uuid"
)

// CacheRoot is the namespace holding per-job cache subtrees.
const CacheRoot = "jobs"

// OutputRoot is the namespace holding output artifacts.
const OutputRoot = "outputs"

func JobDir(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", CacheRoot, jobID)
}

func InputPath(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/input.csv", CacheRoot, jobID)
}

func ManifestPath(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/manifest.json", CacheRoot, jobID)
}

func ChunkPath(jobID uuid.UUID, index int) string {
	return fmt.Sprintf("%s/%s/chunks/chunk_%05d.csv", CacheRoot, jobID, index)
}

func OutputPath(jobID uuid.UUID) string {
	return fmt.Sprintf("%s/%s.csv", OutputRoot, jobID)
}
