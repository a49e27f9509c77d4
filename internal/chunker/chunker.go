// Package chunker validates an uploaded table and splits it into bounded,
// independently parseable chunk files plus a manifest.
package chunker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prateeksaini/rowbatch/internal/blob"
	"github.com/prateeksaini/rowbatch/internal/config"
	"github.com/prateeksaini/rowbatch/pkg/models"
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum upload size")
	ErrNoDelimiter     = errors.New("no recognizable field delimiter")
	ErrTooManyRows     = errors.New("table exceeds maximum row count")
	ErrNoUsableRows    = errors.New("no rows carry any trusted column")
)

// delimiters are probed in precedence order; ties go to the earlier one.
var delimiters = []rune{',', ';', '\t', '|'}

const probeBytes = 1024

// Chunker splits validated input tables into chunk files. Only the configured
// trusted columns are carried into chunks; everything else in the upload is
// discarded at the boundary.
type Chunker struct {
	blobs   blob.Store
	trusted []string

	maxUploadBytes int64
	maxRows        int
	chunkRows      int
}

func New(blobs blob.Store, cfg config.PipelineConfig) *Chunker {
	return &Chunker{
		blobs:          blobs,
		trusted:        cfg.TrustedColumns,
		maxUploadBytes: cfg.MaxUploadBytes,
		maxRows:        cfg.MaxRows,
		chunkRows:      cfg.ChunkRows,
	}
}

// Split validates src, persists the original input and the chunk files under
// the job's cache subtree, and writes the manifest last, once every chunk is
// durable. On any validation failure the subtree is removed: a rejected
// upload leaves no chunks and no manifest behind.
func (c *Chunker) Split(ctx context.Context, jobID uuid.UUID, src io.Reader) (*models.Manifest, error) {
	raw, err := io.ReadAll(io.LimitReader(src, c.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(raw)) > c.maxUploadBytes {
		return nil, ErrPayloadTooLarge
	}

	delim, err := detectDelimiter(raw)
	if err != nil {
		return nil, err
	}

	if err := c.blobs.Put(ctx, blob.InputPath(jobID), bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("persist input: %w", err)
	}

	manifest, err := c.split(ctx, jobID, raw, delim)
	if err != nil {
		c.cleanup(ctx, jobID)
		return nil, err
	}
	return manifest, nil
}

func (c *Chunker) split(ctx context.Context, jobID uuid.UUID, raw []byte, delim rune) (*models.Manifest, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = delim
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoUsableRows
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	narrowHeader, indices := narrowColumns(header, c.trusted)
	if len(narrowHeader) == 0 {
		return nil, ErrNoUsableRows
	}

	var (
		chunkPaths []string
		pending    [][]string
		kept       int
		dropped    int
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		path := blob.ChunkPath(jobID, len(chunkPaths))
		if err := c.writeChunk(ctx, path, narrowHeader, pending); err != nil {
			return err
		}
		chunkPaths = append(chunkPaths, path)
		pending = pending[:0]
		return nil
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse row: %w", err)
		}

		row, ok := narrowRow(record, indices)
		if !ok {
			dropped++
			continue
		}

		kept++
		if kept > c.maxRows {
			return nil, ErrTooManyRows
		}

		pending = append(pending, row)
		if len(pending) == c.chunkRows {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if kept == 0 {
		return nil, ErrNoUsableRows
	}

	manifest := &models.Manifest{
		JobID:       jobID,
		TotalChunks: len(chunkPaths),
		ChunkPaths:  chunkPaths,
	}
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := c.blobs.Put(ctx, blob.ManifestPath(jobID), bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("persist manifest: %w", err)
	}

	slog.Info("input split into chunks",
		"job_id", jobID,
		"chunks", len(chunkPaths),
		"rows_kept", kept,
		"rows_dropped", dropped,
	)
	return manifest, nil
}

func (c *Chunker) writeChunk(ctx context.Context, path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write chunk header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write chunk row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush chunk: %w", err)
	}
	if err := c.blobs.Put(ctx, path, &buf); err != nil {
		return fmt.Errorf("persist chunk %s: %w", path, err)
	}
	return nil
}

func (c *Chunker) cleanup(ctx context.Context, jobID uuid.UUID) {
	if err := c.blobs.DeleteTree(ctx, blob.JobDir(jobID)); err != nil {
		slog.Warn("cleanup after rejected upload failed", "job_id", jobID, "error", err)
	}
}

// detectDelimiter probes the first line of the payload for a known delimiter.
func detectDelimiter(raw []byte) (rune, error) {
	probe := raw
	if len(probe) > probeBytes {
		probe = probe[:probeBytes]
	}
	if i := bytes.IndexByte(probe, '\n'); i >= 0 {
		probe = probe[:i]
	}

	best := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		if n := bytes.Count(probe, []byte(string(d))); n > bestCount {
			best = d
			bestCount = n
		}
	}
	if bestCount == 0 {
		return 0, ErrNoDelimiter
	}
	return best, nil
}

// narrowColumns maps the trusted column names onto the input header,
// case-insensitively, preserving the trusted order. It returns the narrowed
// header and, per kept column, its index in the input records.
func narrowColumns(header, trusted []string) ([]string, []int) {
	var narrow []string
	var indices []int
	for _, want := range trusted {
		for i, got := range header {
			if strings.EqualFold(strings.TrimSpace(got), want) {
				narrow = append(narrow, want)
				indices = append(indices, i)
				break
			}
		}
	}
	return narrow, indices
}

// narrowRow projects a record onto the trusted indices. Rows with no value in
// any trusted column are reported as unusable and dropped by the caller.
func narrowRow(record []string, indices []int) ([]string, bool) {
	row := make([]string, len(indices))
	any := false
	for i, idx := range indices {
		if idx < len(record) {
			row[i] = strings.TrimSpace(record[idx])
		}
		if row[i] != "" {
			any = true
		}
	}
	return row, any
}
