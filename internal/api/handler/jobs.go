package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/prateeksaini/rowbatch/internal/api/middleware"
	"github.com/prateeksaini/rowbatch/internal/api/response"
	"github.com/prateeksaini/rowbatch/internal/chunker"
	"github.com/prateeksaini/rowbatch/internal/dispatch"
	"github.com/prateeksaini/rowbatch/internal/store"
	"github.com/prateeksaini/rowbatch/pkg/models"
)

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{0,50}$`)

// JobService defines the interface the handlers depend on.
type JobService interface {
	Start(ctx context.Context, src io.Reader, tag string) (*models.Job, error)
	Status(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
	OpenOutput(ctx context.Context, jobID uuid.UUID) (io.ReadCloser, error)
}

type createJobResponse struct {
	JobID       string `json:"job_id"`
	StatusURL   string `json:"status_url"`
	DownloadURL string `json:"download_url"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The upload is the raw CSV request body with an optional ?tag= query
// parameter; a multipart form with a "file" part and a "tag" value is also
// accepted. maxUploadBytes caps the whole request body.
func NewCreateJobHandler(svc JobService, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		file, tag, err := uploadFromRequest(r)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					fmt.Sprintf("Upload exceeds the %d byte limit", maxUploadBytes), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		defer file.Close()

		if !tagPattern.MatchString(tag) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"tag may only contain letters, digits, spaces, hyphens and underscores, up to 50 characters", nil)
			return
		}

		job, err := svc.Start(r.Context(), file, tag)
		if err != nil {
			writeStartError(w, r, err)
			return
		}

		response.Accepted(w, createJobResponse{
			JobID:       job.ID.String(),
			StatusURL:   fmt.Sprintf("/api/v1/jobs/%s", job.ID),
			DownloadURL: fmt.Sprintf("/api/v1/jobs/%s/download", job.ID),
		})
	}
}

func uploadFromRequest(r *http.Request) (io.ReadCloser, string, error) {
	ct := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(ct)
	if mediaType != "multipart/form-data" {
		return r.Body, r.URL.Query().Get("tag"), nil
	}

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return nil, "", fmt.Errorf("parse multipart form: %w", err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("file part is required")
	}
	return file, r.FormValue("tag"), nil
}

func writeStartError(w http.ResponseWriter, r *http.Request, err error) {
	// On the raw-body path the MaxBytesReader cap surfaces as a read error
	// from inside the chunker, not as the chunker's own size gate.
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, chunker.ErrPayloadTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
			"Upload exceeds the size limit", nil)
	case errors.Is(err, chunker.ErrNoDelimiter):
		response.Error(w, http.StatusBadRequest, "INVALID_CSV",
			"Could not detect a delimiter in the upload", nil)
	case errors.Is(err, chunker.ErrTooManyRows):
		response.Error(w, http.StatusBadRequest, "TOO_MANY_ROWS",
			"Upload holds more rows than the configured limit", nil)
	case errors.Is(err, chunker.ErrNoUsableRows):
		response.Error(w, http.StatusBadRequest, "NO_USABLE_ROWS",
			"Upload holds no recognized columns or no non-empty rows", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred",
			map[string]string{"request_id": mw.GetRequestID(r)})
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDFromRequest(w, r)
		if !ok {
			return
		}

		job, err := svc.Status(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such job", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred",
				map[string]string{"request_id": mw.GetRequestID(r)})
			return
		}

		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
// Cancellation is accepted regardless of whether the job exists or already
// finished; it is a request, not a guarantee.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDFromRequest(w, r)
		if !ok {
			return
		}

		if err := svc.Cancel(r.Context(), jobID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred",
				map[string]string{"request_id": mw.GetRequestID(r)})
			return
		}

		response.Accepted(w, map[string]string{"job_id": jobID.String(), "state": "cancelling"})
	}
}

// NewDownloadHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/download.
func NewDownloadHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDFromRequest(w, r)
		if !ok {
			return
		}

		rc, err := svc.OpenOutput(r.Context(), jobID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such job", nil)
			return
		case errors.Is(err, dispatch.ErrNotComplete):
			response.Error(w, http.StatusConflict, "JOB_NOT_COMPLETE",
				"The job has not finished yet", nil)
			return
		case errors.Is(err, dispatch.ErrOutputMissing):
			response.Error(w, http.StatusNotFound, "OUTPUT_EXPIRED",
				"The output artifact has been removed by retention", nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred",
				map[string]string{"request_id": mw.GetRequestID(r)})
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="%s.csv"`, jobID))
		io.Copy(w, rc)
	}
}

func jobIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
		return uuid.Nil, false
	}
	return jobID, true
}
