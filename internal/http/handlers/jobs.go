package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lightwork/internal/domain"
)

type jobView struct {
	ID              string      `json:"id"`
	Status          string      `json:"status"`
	Instruction     string      `json:"instruction"`
	Model           string      `json:"model"`
	TotalImages     int         `json:"total_images"`
	CompletedImages int         `json:"completed_images"`
	FailedImages    int         `json:"failed_images"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	StartedAt       *time.Time  `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at"`
	Images          []imageView `json:"images,omitempty"`
}

type imageView struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	NextRetryAt      *time.Time `json:"next_retry_at"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	OriginalFilename string     `json:"original_filename"`
	OriginalKey      string     `json:"original_key"`
	ResultKey        string     `json:"result_key,omitempty"`
	ResultMIMEType   string     `json:"result_mime_type,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

func newJobView(job *domain.Job, images []domain.Image) jobView {
	v := jobView{
		ID:              job.ID,
		Status:          string(job.Status),
		Instruction:     job.Instruction,
		Model:           string(job.Model),
		TotalImages:     job.TotalImages,
		CompletedImages: job.CompletedImages,
		FailedImages:    job.FailedImages,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
	for _, img := range images {
		v.Images = append(v.Images, imageView{
			ID:               img.ID,
			Status:           string(img.Status),
			RetryCount:       img.RetryCount,
			NextRetryAt:      img.NextRetryAt,
			ErrorMessage:     img.ErrorMessage,
			OriginalFilename: img.OriginalFilename,
			OriginalKey:      img.OriginalKey,
			ResultKey:        img.ResultKey,
			ResultMIMEType:   img.ResultMIMEType,
			ProcessedAt:      img.ProcessedAt,
		})
	}
	return v
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	detail, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newJobView(detail.Job, detail.Images))
}

type jobActionRequest struct {
	Action string `json:"action"`
}

// PatchJob applies start, cancel or retry to a job.
func (a *App) PatchJob(w http.ResponseWriter, r *http.Request) {
	var req jobActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID := chi.URLParam(r, "id")
	ctx := r.Context()

	var (
		job *domain.Job
		err error
	)
	resp := map[string]any{}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		job, err = a.Jobs.Start(ctx, jobID)
	case "cancel":
		job, err = a.Jobs.Cancel(ctx, jobID)
	case "retry":
		var n int64
		job, n, err = a.Jobs.RetryFailed(ctx, jobID)
		resp["requeued"] = n
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "action must be start, cancel or retry")
		return
	}
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	resp["job"] = newJobView(job, nil)
	a.json(w, http.StatusOK, resp)
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Jobs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
