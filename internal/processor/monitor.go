package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lightwork/internal/domain"
)

// Monitor closes PROCESSING jobs whose images all reached a terminal status.
type Monitor struct {
	jobs   domain.JobRepository
	images domain.ImageRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewMonitor(jobs domain.JobRepository, images domain.ImageRepository, logger zerolog.Logger) *Monitor {
	return &Monitor{jobs: jobs, images: images, logger: logger, now: time.Now}
}

// Sweep finalizes every settled job and returns how many it closed. The
// decision uses a recount of image rows rather than the cached counters,
// which are rewritten from the recount on close.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	jobs, err := m.jobs.ListProcessing(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processing jobs: %w", err)
	}

	finalized := 0
	for _, job := range jobs {
		tally, err := m.images.Tally(ctx, job.ID)
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("processor: tally images failed")
			continue
		}
		if !tally.Settled() {
			continue
		}
		status := tally.FinalStatus()
		ok, err := m.jobs.Finalize(ctx, job.ID, status, tally, m.now().UTC())
		if err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("processor: finalize job failed")
			continue
		}
		if !ok {
			continue
		}
		finalized++
		m.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(status)).
			Int("completed", tally.Completed).
			Int("failed", tally.Failed).
			Msg("processor: job finalized")
	}
	return finalized, nil
}
