package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lightwork/internal/domain"
	"lightwork/internal/storage"
)

// RetentionOptions configures the Sweeper.
type RetentionOptions struct {
	TTL         time.Duration
	DeleteBatch int
}

// DefaultRetentionOptions keeps jobs for a day and deletes 20 objects at a time.
func DefaultRetentionOptions() RetentionOptions {
	return RetentionOptions{TTL: 24 * time.Hour, DeleteBatch: 20}
}

// SweepResult summarizes one retention pass.
type SweepResult struct {
	Jobs           int      `json:"jobs"`
	Images         int64    `json:"images"`
	ObjectsDeleted int      `json:"objects_deleted"`
	ObjectsFailed  int      `json:"objects_failed"`
	Errors         []string `json:"errors,omitempty"`
}

// Sweeper deletes jobs older than the TTL together with their images and
// stored objects.
type Sweeper struct {
	jobs   domain.JobRepository
	images domain.ImageRepository
	store  storage.ObjectStore
	opts   RetentionOptions
	logger zerolog.Logger
	now    func() time.Time
}

func NewSweeper(jobs domain.JobRepository, images domain.ImageRepository, store storage.ObjectStore, opts RetentionOptions, logger zerolog.Logger) *Sweeper {
	if opts.TTL <= 0 {
		opts.TTL = DefaultRetentionOptions().TTL
	}
	if opts.DeleteBatch <= 0 {
		opts.DeleteBatch = DefaultRetentionOptions().DeleteBatch
	}
	return &Sweeper{jobs: jobs, images: images, store: store, opts: opts, logger: logger, now: time.Now}
}

// Sweep removes every expired job. A failure on one job is recorded and the
// sweep moves on; only failing to list expired jobs aborts it.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().Add(-s.opts.TTL)
	ids, err := s.jobs.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("list expired jobs: %w", err)
	}

	for _, id := range ids {
		purged, err := purgeJob(ctx, s.jobs, s.images, s.store, id, s.opts.DeleteBatch, s.logger)
		result.ObjectsDeleted += purged.ObjectsDeleted
		result.ObjectsFailed += purged.ObjectsFailed
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("job %s: %v", id, err))
			s.logger.Error().Err(err).Str("job_id", id).Msg("lifecycle: purge expired job failed")
			continue
		}
		result.Jobs++
		result.Images += purged.Images
	}

	if result.Jobs > 0 || len(result.Errors) > 0 {
		s.logger.Info().
			Int("jobs", result.Jobs).
			Int64("images", result.Images).
			Int("objects_deleted", result.ObjectsDeleted).
			Int("objects_failed", result.ObjectsFailed).
			Msg("lifecycle: retention sweep finished")
	}
	return result, nil
}

type purgeResult struct {
	Images         int64
	ObjectsDeleted int
	ObjectsFailed  int
}

// purgeJob deletes stored objects best effort, then the image rows and the job row.
func purgeJob(ctx context.Context, jobs domain.JobRepository, images domain.ImageRepository, store storage.ObjectStore, jobID string, batch int, logger zerolog.Logger) (purgeResult, error) {
	var res purgeResult
	list, err := images.ListByJob(ctx, jobID)
	if err != nil {
		return res, fmt.Errorf("list images: %w", err)
	}
	var keys []string
	for _, img := range list {
		keys = append(keys, img.StorageKeys()...)
	}
	res.ObjectsDeleted, res.ObjectsFailed = deleteObjects(ctx, store, keys, batch, logger.With().Str("job_id", jobID).Logger())

	n, err := images.DeleteByJob(ctx, jobID)
	if err != nil {
		return res, err
	}
	res.Images = n
	if err := jobs.Delete(ctx, jobID); err != nil {
		return res, err
	}
	return res, nil
}
