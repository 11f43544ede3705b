package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lightwork/internal/domain"
)

const jobColumns = `id, status, instruction, model, total_images, completed_images, failed_images,
    created_at, updated_at, started_at, completed_at`

// JobRepository implements domain.JobRepository on SQLite.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.Model == "" {
		job.Model = domain.ModelStandard
	}
	_, err := r.db.ExecContext(ctx, `
insert into jobs (id, status, instruction, model, created_at, updated_at)
values (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.Instruction, string(job.Model),
		toMillis(job.CreatedAt), toMillis(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `select `+jobColumns+` from jobs where id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) ListProcessing(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `select `+jobColumns+` from jobs
where status = 'PROCESSING' order by created_at asc`)
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

func (r *JobRepository) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `select id from jobs where created_at < ? order by created_at asc`, toMillis(cutoff))
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

func (r *JobRepository) IncrementTotal(ctx context.Context, id string, now time.Time) error {
	return r.execOne(ctx, "increment total",
		`update jobs set total_images = total_images + 1, updated_at = ? where id = ?`, toMillis(now), id)
}

func (r *JobRepository) IncrementCompleted(ctx context.Context, id string, now time.Time) error {
	return r.execOne(ctx, "increment completed",
		`update jobs set completed_images = completed_images + 1, updated_at = ? where id = ?`, toMillis(now), id)
}

func (r *JobRepository) IncrementFailed(ctx context.Context, id string, n int64, now time.Time) error {
	return r.execOne(ctx, "increment failed",
		`update jobs set failed_images = failed_images + ?, updated_at = ? where id = ?`, n, toMillis(now), id)
}

func (r *JobRepository) Start(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "start job", `
update jobs set status = 'PROCESSING', started_at = coalesce(started_at, ?), updated_at = ?
where id = ? and status = 'PENDING'`, toMillis(now), toMillis(now), id)
}

func (r *JobRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "cancel job", `
update jobs set status = 'CANCELLED', updated_at = ?
where id = ? and status in ('PENDING', 'PROCESSING')`, toMillis(now), id)
}

func (r *JobRepository) Finalize(ctx context.Context, id string, status domain.JobStatus, tally domain.ImageTally, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "finalize job", `
update jobs
set status = ?, total_images = ?, completed_images = ?, failed_images = ?, completed_at = ?, updated_at = ?
where id = ? and status = 'PROCESSING'`,
		string(status), tally.Total, tally.Completed, tally.Failed, toMillis(now), toMillis(now), id)
}

func (r *JobRepository) Reopen(ctx context.Context, id string, recovered int64, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "reopen job", `
update jobs
set status = 'PROCESSING', failed_images = max(failed_images - ?, 0), completed_at = null, updated_at = ?
where id = ? and status in ('PROCESSING', 'COMPLETED', 'FAILED')`, recovered, toMillis(now), id)
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `delete from jobs where id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (r *JobRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	ok, err := r.execGuarded(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *JobRepository) execGuarded(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		status, model        string
		created, updated     int64
		started, completedAt sql.NullInt64
	)
	if err := row.Scan(&job.ID, &status, &job.Instruction, &model, &job.TotalImages,
		&job.CompletedImages, &job.FailedImages, &created, &updated, &started, &completedAt); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Model = domain.ModelTier(model)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	job.StartedAt = nullMillis(started)
	job.CompletedAt = nullMillis(completedAt)
	return &job, nil
}

var _ domain.JobRepository = (*JobRepository)(nil)
