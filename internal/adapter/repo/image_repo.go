package repo

import (
	"context"
	"fmt"
	"time"

	"lightwork/internal/domain"
	"lightwork/internal/infra"
	"lightwork/internal/sqlinline"
)

// ImageRepositoryPG implements domain.ImageRepository.
type ImageRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewImageRepository creates a new image repository backed by PostgreSQL.
func NewImageRepository(sql infra.SQLExecutor) *ImageRepositoryPG {
	return &ImageRepositoryPG{sql: sql}
}

// Create inserts a PENDING image.
func (r *ImageRepositoryPG) Create(ctx context.Context, img *domain.Image) error {
	img.Status = domain.ImageStatusPending
	img.RetryCount = 0
	_, err := r.sql.Exec(ctx, sqlinline.QInsertImage,
		img.ID,
		img.JobID,
		img.OriginalKey,
		img.OriginalFilename,
		img.MIMEType,
		img.FileSize,
		img.SpecificPrompt,
		img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

// ListByJob returns the job's images in upload order.
func (r *ImageRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.Image, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListImagesByJob, jobID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		var img domain.Image
		if err := rows.Scan(imageDest(&img)...); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (r *ImageRepositoryPG) ResetStuck(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QResetStuckImages, staleBefore, now)
	if err != nil {
		return 0, fmt.Errorf("reset stuck images: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Claim atomically moves eligible images to PROCESSING. Concurrent callers
// never receive the same image.
func (r *ImageRepositoryPG) Claim(ctx context.Context, p domain.ClaimParams) ([]domain.ClaimedImage, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QClaimImages, p.MaxRetries, p.Now, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim images: %w", err)
	}
	defer rows.Close()

	var claimed []domain.ClaimedImage
	for rows.Next() {
		var (
			item  domain.ClaimedImage
			model string
		)
		dest := append(imageDest(&item.Image), &item.JobInstruction, &model)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan claimed image: %w", err)
		}
		item.JobModel = domain.ModelTier(model)
		claimed = append(claimed, item)
	}
	return claimed, rows.Err()
}

func (r *ImageRepositoryPG) MarkCompleted(ctx context.Context, id, resultKey, resultMIME string, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "mark image completed", sqlinline.QMarkImageCompleted, id, resultKey, resultMIME, now)
}

func (r *ImageRepositoryPG) MarkRetry(ctx context.Context, id, message string, nextRetryAt, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "mark image retry", sqlinline.QMarkImageRetry, id, message, nextRetryAt, now)
}

func (r *ImageRepositoryPG) MarkFailed(ctx context.Context, id, message string, retryIncrement int, now time.Time) (bool, error) {
	return r.execGuarded(ctx, "mark image failed", sqlinline.QMarkImageFailed, id, message, retryIncrement, now)
}

// Tally recounts a job's images by status.
func (r *ImageRepositoryPG) Tally(ctx context.Context, jobID string) (domain.ImageTally, error) {
	var t domain.ImageTally
	row := r.sql.QueryRow(ctx, sqlinline.QTallyImages, jobID)
	if err := row.Scan(&t.Total, &t.Completed, &t.Failed, &t.Active); err != nil {
		return domain.ImageTally{}, fmt.Errorf("tally images: %w", err)
	}
	return t, nil
}

// FailPending force-fails every image of the job that has not started yet.
func (r *ImageRepositoryPG) FailPending(ctx context.Context, jobID, message string, now time.Time) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailPendingImages, jobID, message, now)
	if err != nil {
		return 0, fmt.Errorf("fail pending images: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ImageRepositoryPG) ResetFailed(ctx context.Context, jobID string, maxRetries int, now time.Time) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QResetFailedImages, jobID, maxRetries, now)
	if err != nil {
		return 0, fmt.Errorf("reset failed images: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ImageRepositoryPG) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteImagesByJob, jobID)
	if err != nil {
		return 0, fmt.Errorf("delete images: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ImageRepositoryPG) execGuarded(ctx context.Context, op, query string, args ...any) (bool, error) {
	tag, err := r.sql.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// imageDest lists scan targets in the column order shared by the image queries.
func imageDest(img *domain.Image) []any {
	return []any{
		&img.ID,
		&img.JobID,
		(*string)(&img.Status),
		&img.RetryCount,
		&img.NextRetryAt,
		&img.ErrorMessage,
		&img.OriginalKey,
		&img.OriginalFilename,
		&img.MIMEType,
		&img.FileSize,
		&img.SpecificPrompt,
		&img.ResultKey,
		&img.ResultMIMEType,
		&img.CreatedAt,
		&img.UpdatedAt,
		&img.ProcessedAt,
	}
}

var (
	_ domain.ImageRepository = (*ImageRepositoryPG)(nil)
	_ domain.JobRepository   = (*JobRepositoryPG)(nil)
)
