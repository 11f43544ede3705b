package domain

import (
	"context"
	"time"
)

// ClaimParams bounds a single claim.
type ClaimParams struct {
	Limit      int
	MaxRetries int
	Now        time.Time
}

// ImageRepository persists images. Outcome writes are conditional on the
// image still being PROCESSING and report whether a row was affected.
type ImageRepository interface {
	Create(ctx context.Context, img *Image) error
	ListByJob(ctx context.Context, jobID string) ([]Image, error)
	ResetStuck(ctx context.Context, staleBefore, now time.Time) (int64, error)
	Claim(ctx context.Context, params ClaimParams) ([]ClaimedImage, error)
	MarkCompleted(ctx context.Context, id, resultKey, resultMIME string, now time.Time) (bool, error)
	MarkRetry(ctx context.Context, id, message string, nextRetryAt, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, message string, retryIncrement int, now time.Time) (bool, error)
	Tally(ctx context.Context, jobID string) (ImageTally, error)
	FailPending(ctx context.Context, jobID, message string, now time.Time) (int64, error)
	ResetFailed(ctx context.Context, jobID string, maxRetries int, now time.Time) (int64, error)
	DeleteByJob(ctx context.Context, jobID string) (int64, error)
}

// JobRepository persists jobs and their cached counters.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListProcessing(ctx context.Context) ([]Job, error)
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	IncrementTotal(ctx context.Context, id string, now time.Time) error
	IncrementCompleted(ctx context.Context, id string, now time.Time) error
	IncrementFailed(ctx context.Context, id string, n int64, now time.Time) error
	Start(ctx context.Context, id string, now time.Time) (bool, error)
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)
	Finalize(ctx context.Context, id string, status JobStatus, tally ImageTally, now time.Time) (bool, error)
	Reopen(ctx context.Context, id string, recovered int64, now time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}
