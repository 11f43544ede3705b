package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"lightwork/internal/domain"
	"lightwork/internal/lifecycle"
	"lightwork/internal/processor"
)

// CycleRunner runs one processing cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (processor.CycleResult, error)
}

// JobService is the subset of lifecycle.Service the API exposes.
type JobService interface {
	Get(ctx context.Context, jobID string) (*lifecycle.JobDetail, error)
	Start(ctx context.Context, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) (*domain.Job, error)
	RetryFailed(ctx context.Context, jobID string) (*domain.Job, int64, error)
	Delete(ctx context.Context, jobID string) error
}

// RetentionSweeper removes expired jobs.
type RetentionSweeper interface {
	Sweep(ctx context.Context) (lifecycle.SweepResult, error)
}

type App struct {
	Cycles    CycleRunner
	Jobs      JobService
	Retention RetentionSweeper
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}

// serviceError maps domain errors onto HTTP statuses.
func (a *App) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrJobNotStartable),
		errors.Is(err, domain.ErrJobClosed),
		errors.Is(err, domain.ErrStaleWrite):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.Logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
