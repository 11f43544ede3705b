package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lightwork/internal/app"
	"lightwork/internal/infra"
	"lightwork/internal/trigger"
)

const retentionInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.BuildOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: setup failed")
	}
	defer a.Close()

	runCycle := func(ctx context.Context) error {
		res, err := a.Engine.RunCycle(ctx)
		if err != nil {
			return err
		}
		if res.Attempted > 0 || res.Reset > 0 || res.Finalized > 0 {
			logger.Info().
				Int("attempted", res.Attempted).
				Int("completed", res.Completed).
				Int("failed", res.Failed).
				Int("retrying", res.Retrying).
				Int64("reset", res.Reset).
				Int("finalized", res.Finalized).
				Msg("worker: cycle finished")
		}
		return nil
	}
	sweep := func(ctx context.Context) error {
		_, err := a.Sweeper.Sweep(ctx)
		return err
	}

	var wg sync.WaitGroup
	start := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	cycles := trigger.Ticker{Name: "cycle", Interval: cfg.PollInterval, Run: runCycle, Logger: logger}
	retention := trigger.Ticker{Name: "retention", Interval: retentionInterval, Run: sweep, Logger: logger}
	start(func() { cycles.Start(ctx) })
	start(func() { retention.Start(ctx) })

	if cfg.AMQPURL != "" {
		consumer, err := trigger.NewAMQPTrigger(cfg.AMQPURL, cfg.AMQPQueue, runCycle, logger)
		if err != nil {
			logger.Error().Err(err).Msg("worker: amqp trigger unavailable, polling only")
		} else {
			defer consumer.Close()
			start(func() {
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("worker: amqp trigger stopped")
				}
			})
		}
	}

	wg.Wait()
	a.Engine.Wait()
	logger.Info().Msg("worker: stopped")
}
