package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"lightwork/internal/domain"
)

const imageColumns = `id, job_id, status, retry_count, next_retry_at, error_message,
    original_key, original_filename, mime_type, file_size, specific_prompt,
    result_key, result_mime_type, created_at, updated_at, processed_at`

// ImageRepository implements domain.ImageRepository on SQLite.
type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Create(ctx context.Context, img *domain.Image) error {
	img.Status = domain.ImageStatusPending
	img.RetryCount = 0
	_, err := r.db.ExecContext(ctx, `
insert into images (id, job_id, status, retry_count, original_key, original_filename,
    mime_type, file_size, specific_prompt, created_at, updated_at)
values (?, ?, 'PENDING', 0, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.JobID, img.OriginalKey, img.OriginalFilename, img.MIMEType,
		img.FileSize, img.SpecificPrompt, toMillis(img.CreatedAt), toMillis(img.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (r *ImageRepository) ListByJob(ctx context.Context, jobID string) ([]domain.Image, error) {
	rows, err := r.db.QueryContext(ctx, `select `+imageColumns+` from images
where job_id = ? order by created_at asc, rowid asc`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return collectImages(rows)
}

func (r *ImageRepository) ResetStuck(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
update images set status = 'PENDING', updated_at = ?
where status = 'PROCESSING' and updated_at < ?`, toMillis(now), toMillis(staleBefore))
	if err != nil {
		return 0, fmt.Errorf("reset stuck images: %w", err)
	}
	return res.RowsAffected()
}

// Claim moves eligible images to PROCESSING with a single UPDATE ... RETURNING.
func (r *ImageRepository) Claim(ctx context.Context, p domain.ClaimParams) ([]domain.ClaimedImage, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	now := toMillis(p.Now)
	rows, err := r.db.QueryContext(ctx, `
update images
set status = 'PROCESSING', updated_at = ?
where id in (
    select i.id
    from images i
    join jobs j on j.id = i.job_id
    where i.status in ('PENDING', 'RETRY_LATER')
      and j.status = 'PROCESSING'
      and i.retry_count < ?
      and (i.next_retry_at is null or i.next_retry_at <= ?)
    order by i.created_at asc, i.rowid asc
    limit ?
)
returning `+imageColumns, now, p.MaxRetries, now, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim images: %w", err)
	}
	images, err := collectImages(rows)
	if err != nil {
		return nil, fmt.Errorf("claim images: %w", err)
	}
	// RETURNING order is unspecified.
	sort.SliceStable(images, func(a, b int) bool {
		return images[a].CreatedAt.Before(images[b].CreatedAt)
	})

	jobs := map[string]domain.ClaimedImage{}
	claimed := make([]domain.ClaimedImage, 0, len(images))
	for _, img := range images {
		meta, ok := jobs[img.JobID]
		if !ok {
			var model string
			err := r.db.QueryRowContext(ctx, `select instruction, model from jobs where id = ?`, img.JobID).
				Scan(&meta.JobInstruction, &model)
			if err != nil {
				return nil, fmt.Errorf("load job %s for claimed image: %w", img.JobID, err)
			}
			meta.JobModel = domain.ModelTier(model)
			jobs[img.JobID] = meta
		}
		claimed = append(claimed, domain.ClaimedImage{Image: img, JobInstruction: meta.JobInstruction, JobModel: meta.JobModel})
	}
	return claimed, nil
}

func (r *ImageRepository) MarkCompleted(ctx context.Context, id, resultKey, resultMIME string, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "mark image completed", `
update images
set status = 'COMPLETED', result_key = ?, result_mime_type = ?, error_message = null,
    next_retry_at = null, processed_at = ?, updated_at = ?
where id = ? and status = 'PROCESSING'`,
		resultKey, resultMIME, toMillis(now), toMillis(now), id)
}

func (r *ImageRepository) MarkRetry(ctx context.Context, id, message string, nextRetryAt, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "mark image retry", `
update images
set status = 'RETRY_LATER', retry_count = retry_count + 1, error_message = ?,
    next_retry_at = ?, updated_at = ?
where id = ? and status = 'PROCESSING'`,
		message, toMillis(nextRetryAt), toMillis(now), id)
}

func (r *ImageRepository) MarkFailed(ctx context.Context, id, message string, retryIncrement int, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "mark image failed", `
update images
set status = 'FAILED', retry_count = retry_count + ?, error_message = ?,
    next_retry_at = null, processed_at = ?, updated_at = ?
where id = ? and status = 'PROCESSING'`,
		retryIncrement, message, toMillis(now), toMillis(now), id)
}

func (r *ImageRepository) Tally(ctx context.Context, jobID string) (domain.ImageTally, error) {
	var t domain.ImageTally
	err := r.db.QueryRowContext(ctx, `
select
    count(*),
    coalesce(sum(case when status = 'COMPLETED' then 1 else 0 end), 0),
    coalesce(sum(case when status = 'FAILED' then 1 else 0 end), 0),
    coalesce(sum(case when status in ('PENDING', 'PROCESSING', 'RETRY_LATER') then 1 else 0 end), 0)
from images where job_id = ?`, jobID).Scan(&t.Total, &t.Completed, &t.Failed, &t.Active)
	if err != nil {
		return domain.ImageTally{}, fmt.Errorf("tally images: %w", err)
	}
	return t, nil
}

func (r *ImageRepository) FailPending(ctx context.Context, jobID, message string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
update images set status = 'FAILED', error_message = ?, next_retry_at = null, updated_at = ?
where job_id = ? and status in ('PENDING', 'RETRY_LATER')`, message, toMillis(now), jobID)
	if err != nil {
		return 0, fmt.Errorf("fail pending images: %w", err)
	}
	return res.RowsAffected()
}

func (r *ImageRepository) ResetFailed(ctx context.Context, jobID string, maxRetries int, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
update images
set status = 'PENDING', error_message = null, next_retry_at = null, processed_at = null, updated_at = ?
where job_id = ? and status = 'FAILED' and retry_count < ?`, toMillis(now), jobID, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("reset failed images: %w", err)
	}
	return res.RowsAffected()
}

func (r *ImageRepository) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from images where job_id = ?`, jobID)
	if err != nil {
		return 0, fmt.Errorf("delete images: %w", err)
	}
	return res.RowsAffected()
}

func (r *ImageRepository) execGuarded(ctx context.Context, op, query string, args ...any) (bool, error) {
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

// collectImages drains and closes rows. The connection pool holds a single
// connection, so rows must be closed before the next statement runs.
func collectImages(rows *sql.Rows) ([]domain.Image, error) {
	defer rows.Close()
	var images []domain.Image
	for rows.Next() {
		var (
			img                       domain.Image
			status                    string
			nextRetry, processed      sql.NullInt64
			errMsg, resultKey, result sql.NullString
			created, updated          int64
		)
		if err := rows.Scan(
			&img.ID, &img.JobID, &status, &img.RetryCount, &nextRetry, &errMsg,
			&img.OriginalKey, &img.OriginalFilename, &img.MIMEType, &img.FileSize, &img.SpecificPrompt,
			&resultKey, &result, &created, &updated, &processed,
		); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.Status = domain.ImageStatus(status)
		img.NextRetryAt = nullMillis(nextRetry)
		img.ErrorMessage = errMsg.String
		img.ResultKey = resultKey.String
		img.ResultMIMEType = result.String
		img.CreatedAt = fromMillis(created)
		img.UpdatedAt = fromMillis(updated)
		img.ProcessedAt = nullMillis(processed)
		images = append(images, img)
	}
	return images, rows.Err()
}

var _ domain.ImageRepository = (*ImageRepository)(nil)
