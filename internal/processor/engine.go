// Package processor claims pending images, runs them through the
// transformer and records each outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lightwork/internal/domain"
	"lightwork/internal/imagegen"
	"lightwork/internal/lifecycle"
	"lightwork/internal/storage"
)

// Options tunes a cycle.
type Options struct {
	BatchSize            int
	MaxConcurrency       int
	MaxRetries           int
	StuckThreshold       time.Duration
	Backoff              BackoffPolicy
	RetentionProbability float64
}

// DefaultOptions claims two images per cycle with up to three attempts each.
func DefaultOptions() Options {
	return Options{
		BatchSize:            2,
		MaxConcurrency:       2,
		MaxRetries:           3,
		StuckThreshold:       5 * time.Minute,
		Backoff:              DefaultBackoff(),
		RetentionProbability: 0.1,
	}
}

// RetentionSweeper is run in the background on a fraction of cycles.
type RetentionSweeper interface {
	Sweep(ctx context.Context) (lifecycle.SweepResult, error)
}

// Deps are the collaborators of an Engine. Retention may be nil.
type Deps struct {
	Images      domain.ImageRepository
	Jobs        domain.JobRepository
	Store       storage.ObjectStore
	Transformer imagegen.Transformer
	Retention   RetentionSweeper
	Logger      zerolog.Logger
}

// CycleResult reports what one cycle did.
type CycleResult struct {
	Reset     int64    `json:"reset"`
	Attempted int      `json:"attempted"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Retrying  int      `json:"retrying"`
	Finalized int      `json:"finalized"`
	Errors    []string `json:"errors"`
}

// Engine runs processing cycles. It keeps no state between cycles, so any
// number of engines may run against the same store.
type Engine struct {
	images      domain.ImageRepository
	jobs        domain.JobRepository
	store       storage.ObjectStore
	transformer imagegen.Transformer
	retention   RetentionSweeper
	monitor     *Monitor
	opts        Options
	logger      zerolog.Logger

	now    func() time.Time
	chance func() float64
	bg     sync.WaitGroup
}

func NewEngine(deps Deps, opts Options) *Engine {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = def.MaxConcurrency
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.StuckThreshold <= 0 {
		opts.StuckThreshold = def.StuckThreshold
	}
	if opts.Backoff == (BackoffPolicy{}) {
		opts.Backoff = def.Backoff
	}
	e := &Engine{
		images:      deps.Images,
		jobs:        deps.Jobs,
		store:       deps.Store,
		transformer: deps.Transformer,
		retention:   deps.Retention,
		opts:        opts,
		logger:      deps.Logger,
		now:         time.Now,
		chance:      rand.Float64,
	}
	e.monitor = NewMonitor(deps.Jobs, deps.Images, deps.Logger)
	return e
}

// RunCycle resets abandoned images, claims a batch, processes it with a
// bounded pool and finalizes settled jobs. The returned error is reserved
// for store failures that prevented the cycle from running; per-image
// problems are listed in CycleResult.Errors.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{Errors: []string{}}

	if checker, ok := e.transformer.(imagegen.Checker); ok {
		if err := checker.Ready(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			e.logger.Warn().Err(err).Msg("processor: transformer not ready, skipping cycle")
			return result, nil
		}
	}

	now := e.now().UTC()
	reset, err := e.images.ResetStuck(ctx, now.Add(-e.opts.StuckThreshold), now)
	if err != nil {
		return result, fmt.Errorf("reset stuck images: %w", err)
	}
	result.Reset = reset
	if reset > 0 {
		e.logger.Warn().Int64("images", reset).Msg("processor: reset images stuck in processing")
	}

	claimed, err := e.images.Claim(ctx, domain.ClaimParams{Limit: e.opts.BatchSize, MaxRetries: e.opts.MaxRetries, Now: now})
	if err != nil {
		return result, fmt.Errorf("claim images: %w", err)
	}

	e.maybeSweepRetention(ctx)

	if len(claimed) > 0 {
		e.logger.Info().Int("images", len(claimed)).Msg("processor: claimed images")
		e.dispatch(ctx, claimed, &result)
	}

	finalized, err := e.monitor.Sweep(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.Finalized = finalized
	return result, nil
}

// Wait blocks until background retention sweeps started by RunCycle return.
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) concurrencyFor(claimed []domain.ClaimedImage) int {
	limit := e.opts.MaxConcurrency
	for _, c := range claimed {
		if c.JobModel == domain.ModelPro {
			limit = 1
			break
		}
	}
	if limit > len(claimed) {
		limit = len(claimed)
	}
	return limit
}

func (e *Engine) dispatch(ctx context.Context, claimed []domain.ClaimedImage, result *CycleResult) {
	work := make(chan domain.ClaimedImage)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := 0; i < e.concurrencyFor(claimed); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				rep := e.processOne(ctx, item)
				mu.Lock()
				result.record(item.Image, rep)
				mu.Unlock()
			}
		}()
	}
	for _, item := range claimed {
		work <- item
	}
	close(work)
	wg.Wait()
}

type report struct {
	outcome Outcome
	// err is an infrastructure failure while recording the outcome; the
	// image stays PROCESSING until the stuck sweep returns it.
	err error
}

func (r *CycleResult) record(img domain.Image, rep report) {
	r.Attempted++
	switch rep.outcome.Status {
	case domain.ImageStatusCompleted:
		r.Completed++
	case domain.ImageStatusFailed:
		r.Failed++
	case domain.ImageStatusRetryLater:
		r.Retrying++
	}
	if rep.outcome.Status != domain.ImageStatusCompleted && rep.outcome.Message != "" {
		r.Errors = append(r.Errors, fmt.Sprintf("image %s: %s", img.ID, rep.outcome.Message))
	}
	if rep.err != nil {
		r.Errors = append(r.Errors, fmt.Sprintf("image %s: %v", img.ID, rep.err))
	}
}

func (e *Engine) processOne(ctx context.Context, item domain.ClaimedImage) (rep report) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("image_id", item.ID).Interface("panic", r).Msg("processor: recovered panic")
			rep = e.applyFailure(ctx, item, imagegen.NewError(imagegen.CauseUnknown, "", fmt.Errorf("panic: %v", r)))
		}
	}()

	res, err := e.transform(ctx, item)
	if err != nil {
		return e.applyFailure(ctx, item, err)
	}
	return e.applySuccess(ctx, item, res)
}

func (e *Engine) transform(ctx context.Context, item domain.ClaimedImage) (*imagegen.Result, error) {
	data, _, err := e.store.Get(ctx, item.OriginalKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, imagegen.NewError(imagegen.CauseInvalidInput, "Original image not found in storage", err)
		}
		return nil, imagegen.NewError(imagegen.CauseUnknown, "Could not read original image. Retrying...", err)
	}
	return e.transformer.Transform(ctx, imagegen.Request{
		Image:       data,
		MIMEType:    item.MIMEType,
		Instruction: imagegen.BuildInstruction(item.JobInstruction, item.SpecificPrompt),
		Model:       item.JobModel,
	})
}

func (e *Engine) applySuccess(ctx context.Context, item domain.ClaimedImage, res *imagegen.Result) report {
	key := ResultKey(item.JobID, item.ID, res.MIMEType)
	if err := e.store.Put(ctx, key, res.Data, res.MIMEType); err != nil {
		return e.applyFailure(ctx, item, imagegen.NewError(imagegen.CauseUnknown, "Could not store result. Retrying...", err))
	}

	rep := report{outcome: Outcome{Status: domain.ImageStatusCompleted}}
	now := e.now().UTC()
	ok, err := e.images.MarkCompleted(ctx, item.ID, key, res.MIMEType, now)
	if err != nil {
		rep.err = err
		return rep
	}
	if !ok {
		e.logger.Warn().Str("image_id", item.ID).Msg("processor: image left processing before completion was recorded")
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.Warn().Err(err).Str("key", key).Msg("processor: delete orphaned result failed")
		}
		return rep
	}
	if err := e.jobs.IncrementCompleted(ctx, item.JobID, now); err != nil {
		rep.err = err
	}
	e.logger.Info().Str("image_id", item.ID).Str("job_id", item.JobID).Str("key", key).Msg("processor: image completed")
	return rep
}

func (e *Engine) applyFailure(ctx context.Context, item domain.ClaimedImage, cause error) report {
	now := e.now().UTC()
	out := Decide(item.Image, cause, now, e.opts.MaxRetries, e.opts.Backoff)
	rep := report{outcome: out}
	log := e.logger.With().
		Str("image_id", item.ID).
		Str("job_id", item.JobID).
		Str("cause", string(out.Cause)).
		Int("retry_count", item.RetryCount).
		Logger()

	switch out.Status {
	case domain.ImageStatusRetryLater:
		if _, err := e.images.MarkRetry(ctx, item.ID, out.Message, *out.NextRetryAt, now); err != nil {
			rep.err = err
			return rep
		}
		log.Warn().Err(cause).Time("next_retry_at", *out.NextRetryAt).Msg("processor: image scheduled for retry")
	case domain.ImageStatusFailed:
		ok, err := e.images.MarkFailed(ctx, item.ID, out.Message, out.RetryIncrement, now)
		if err != nil {
			rep.err = err
			return rep
		}
		if ok {
			if err := e.jobs.IncrementFailed(ctx, item.JobID, 1, now); err != nil {
				rep.err = err
			}
		}
		log.Error().Err(cause).Msg("processor: image failed")
	}
	return rep
}

func (e *Engine) maybeSweepRetention(ctx context.Context) {
	if e.retention == nil || e.opts.RetentionProbability <= 0 || e.chance() >= e.opts.RetentionProbability {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
		defer cancel()
		if _, err := e.retention.Sweep(sweepCtx); err != nil {
			e.logger.Error().Err(err).Msg("processor: background retention sweep failed")
		}
	}()
}

// ResultKey names the stored result of an image. The random suffix keeps a
// late writer from overwriting a result recorded by another invocation.
func ResultKey(jobID, imageID, mimeType string) string {
	return fmt.Sprintf("processed/%s/%s-%s%s", jobID, imageID, uuid.NewString()[:8], imagegen.ExtensionForMIME(mimeType))
}
