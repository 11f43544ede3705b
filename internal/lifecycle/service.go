package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lightwork/internal/domain"
	"lightwork/internal/imagegen"
	"lightwork/internal/storage"
)

// CancelledMessage is stored on images force-failed by a cancellation.
const CancelledMessage = "Job cancelled"

// Publisher nudges workers that a job has claimable images.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// ServiceOptions configures the Service.
type ServiceOptions struct {
	MaxRetries  int
	DeleteBatch int
}

// Service implements the user-facing job actions.
type Service struct {
	jobs      domain.JobRepository
	images    domain.ImageRepository
	store     storage.ObjectStore
	publisher Publisher
	opts      ServiceOptions
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService wires the job actions. publisher may be nil.
func NewService(jobs domain.JobRepository, images domain.ImageRepository, store storage.ObjectStore, publisher Publisher, opts ServiceOptions, logger zerolog.Logger) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.DeleteBatch <= 0 {
		opts.DeleteBatch = DefaultRetentionOptions().DeleteBatch
	}
	return &Service{
		jobs:      jobs,
		images:    images,
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// NewJob describes a job to create.
type NewJob struct {
	Instruction string
	Model       domain.ModelTier
}

// NewImage describes an uploaded image.
type NewImage struct {
	JobID          string
	Filename       string
	MIMEType       string
	SpecificPrompt string
	Data           []byte
}

// JobDetail is a job together with its images.
type JobDetail struct {
	Job    *domain.Job
	Images []domain.Image
}

// Create stores a PENDING job.
func (s *Service) Create(ctx context.Context, in NewJob) (*domain.Job, error) {
	instruction := strings.TrimSpace(in.Instruction)
	if instruction == "" {
		return nil, fmt.Errorf("%w: instruction is required", domain.ErrInvalidInput)
	}
	model := in.Model
	if model == "" {
		model = domain.ModelStandard
	}
	job := &domain.Job{
		ID:          s.newID(),
		Status:      domain.JobStatusPending,
		Instruction: instruction,
		Model:       model,
		CreatedAt:   s.now().UTC(),
	}
	job.UpdatedAt = job.CreatedAt
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// AddImage stores the original bytes and a PENDING image row, and bumps the
// job's total.
func (s *Service) AddImage(ctx context.Context, in NewImage) (*domain.Image, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", domain.ErrInvalidInput)
	}
	if !imagegen.SupportedMIME(in.MIMEType) {
		return nil, fmt.Errorf("%w: unsupported image type %q", domain.ErrInvalidInput, in.MIMEType)
	}
	job, err := s.jobs.Get(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusProcessing {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrJobClosed, job.Status)
	}

	mimeType := imagegen.NormalizeMIME(in.MIMEType)
	now := s.now().UTC()
	img := &domain.Image{
		ID:               s.newID(),
		JobID:            job.ID,
		OriginalFilename: in.Filename,
		MIMEType:         mimeType,
		FileSize:         int64(len(in.Data)),
		SpecificPrompt:   strings.TrimSpace(in.SpecificPrompt),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	img.OriginalKey = fmt.Sprintf("originals/%s/%s%s", job.ID, img.ID, imagegen.ExtensionForMIME(mimeType))

	if err := s.store.Put(ctx, img.OriginalKey, in.Data, mimeType); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}
	if err := s.images.Create(ctx, img); err != nil {
		return nil, err
	}
	if err := s.jobs.IncrementTotal(ctx, job.ID, now); err != nil {
		return nil, err
	}
	return img, nil
}

// Start makes a PENDING job's images claimable.
func (s *Service) Start(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusPending {
		return nil, fmt.Errorf("%w: job %s -> %s", domain.ErrInvalidTransition, job.Status, domain.JobStatusProcessing)
	}
	if job.TotalImages == 0 {
		return nil, domain.ErrJobNotStartable
	}
	ok, err := s.jobs.Start(ctx, jobID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("start job %s: %w", jobID, domain.ErrStaleWrite)
	}
	s.logger.Info().Str("job_id", jobID).Int("images", job.TotalImages).Msg("lifecycle: job started")
	s.nudge(ctx, jobID)
	return s.jobs.Get(ctx, jobID)
}

// Cancel stops a job. Images not yet picked up fail with CancelledMessage;
// images already being processed finish normally.
func (s *Service) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := domain.JobTransition(job.Status, domain.JobStatusCancelled); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ok, err := s.jobs.Cancel(ctx, jobID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cancel job %s: %w", jobID, domain.ErrStaleWrite)
	}
	n, err := s.images.FailPending(ctx, jobID, CancelledMessage, now)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		if err := s.jobs.IncrementFailed(ctx, jobID, n, now); err != nil {
			return nil, err
		}
	}
	s.logger.Info().Str("job_id", jobID).Int64("images_cancelled", n).Msg("lifecycle: job cancelled")
	return s.jobs.Get(ctx, jobID)
}

// RetryFailed requeues failed images that still have retry budget and
// reopens the job. Images that exhausted their budget stay FAILED.
func (s *Service) RetryFailed(ctx context.Context, jobID string) (*domain.Job, int64, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}
	if job.Status != domain.JobStatusProcessing {
		if err := domain.JobTransition(job.Status, domain.JobStatusProcessing); err != nil || !job.Status.IsTerminal() {
			return nil, 0, fmt.Errorf("%w: cannot retry images of a %s job", domain.ErrInvalidTransition, job.Status)
		}
	}
	now := s.now().UTC()
	n, err := s.images.ResetFailed(ctx, jobID, s.opts.MaxRetries, now)
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return job, 0, nil
	}
	if _, err := s.jobs.Reopen(ctx, jobID, n, now); err != nil {
		return nil, 0, err
	}
	s.logger.Info().Str("job_id", jobID).Int64("images", n).Msg("lifecycle: failed images requeued")
	s.nudge(ctx, jobID)

	job, err = s.jobs.Get(ctx, jobID)
	return job, n, err
}

// Delete removes a job, its images and their stored objects.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return err
	}
	res, err := purgeJob(ctx, s.jobs, s.images, s.store, jobID, s.opts.DeleteBatch, s.logger)
	if err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Int64("images", res.Images).Int("objects_failed", res.ObjectsFailed).Msg("lifecycle: job deleted")
	return nil
}

// Get returns the job and its images.
func (s *Service) Get(ctx context.Context, jobID string) (*JobDetail, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	images, err := s.images.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobDetail{Job: job, Images: images}, nil
}

func (s *Service) nudge(ctx context.Context, jobID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("lifecycle: publish nudge failed")
	}
}
