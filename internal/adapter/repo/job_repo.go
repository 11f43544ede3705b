package repo

import (
	"context"
	"fmt"
	"time"

	"lightwork/internal/domain"
	"lightwork/internal/infra"
	"lightwork/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record with zeroed counters.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.Model == "" {
		job.Model = domain.ModelStandard
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		string(job.Status),
		job.Instruction,
		string(job.Model),
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListProcessing returns every job the completion monitor has to look at.
func (r *JobRepositoryPG) ListProcessing(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListProcessingJobs)
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListCreatedBefore returns ids of jobs older than cutoff, oldest first.
func (r *JobRepositoryPG) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListJobsCreatedBefore, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *JobRepositoryPG) IncrementTotal(ctx context.Context, id string, now time.Time) error {
	return r.execOne(ctx, "increment total", sqlinline.QIncrementJobTotal, id, now)
}

func (r *JobRepositoryPG) IncrementCompleted(ctx context.Context, id string, now time.Time) error {
	return r.execOne(ctx, "increment completed", sqlinline.QIncrementJobCompleted, id, now)
}

func (r *JobRepositoryPG) IncrementFailed(ctx context.Context, id string, n int64, now time.Time) error {
	return r.execOne(ctx, "increment failed", sqlinline.QIncrementJobFailed, id, n, now)
}

// Start moves a PENDING job to PROCESSING.
func (r *JobRepositoryPG) Start(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "start job", sqlinline.QStartJob, id, now)
}

// Cancel moves a PENDING or PROCESSING job to CANCELLED.
func (r *JobRepositoryPG) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "cancel job", sqlinline.QCancelJob, id, now)
}

// Finalize closes a PROCESSING job. It is a no-op for jobs already closed.
func (r *JobRepositoryPG) Finalize(ctx context.Context, id string, status domain.JobStatus, tally domain.ImageTally, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "finalize job", sqlinline.QFinalizeJob,
		id, string(status), tally.Total, tally.Completed, tally.Failed, now)
}

// Reopen puts a job back to PROCESSING after recovered failed images were requeued.
func (r *JobRepositoryPG) Reopen(ctx context.Context, id string, recovered int64, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "reopen job", sqlinline.QReopenJob, id, recovered, now)
}

// Delete removes the job; image rows go with it through the foreign key.
func (r *JobRepositoryPG) Delete(ctx context.Context, id string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QDeleteJob, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (r *JobRepositoryPG) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.sql.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *JobRepositoryPG) execGuarded(ctx context.Context, op, query string, args ...any) (bool, error) {
	tag, err := r.sql.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
		model  string
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.Instruction,
		&model,
		&job.TotalImages,
		&job.CompletedImages,
		&job.FailedImages,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Model = domain.ModelTier(model)
	return &job, nil
}
