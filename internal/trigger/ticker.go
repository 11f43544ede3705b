// Package trigger starts processing cycles from a timer or a message queue.
package trigger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Func is one unit of scheduled work, such as a processing cycle or a
// retention sweep.
type Func func(ctx context.Context) error

// Ticker runs a Func immediately and then on every tick until ctx is done.
// Runs never overlap: a slow run delays the next tick.
type Ticker struct {
	Name     string
	Interval time.Duration
	Run      Func
	Logger   zerolog.Logger
}

// Start blocks until ctx is cancelled.
func (t Ticker) Start(ctx context.Context) {
	if t.Interval <= 0 {
		t.Interval = time.Minute
	}
	log := t.Logger.With().Str("trigger", t.Name).Logger()
	log.Info().Dur("interval", t.Interval).Msg("trigger: ticker started")

	t.once(ctx, log)
	tick := time.NewTicker(t.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("trigger: ticker stopped")
			return
		case <-tick.C:
			t.once(ctx, log)
		}
	}
}

func (t Ticker) once(ctx context.Context, log zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("trigger: run failed")
		return
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("trigger: run finished")
}
