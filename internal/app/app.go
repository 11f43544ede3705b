// Package app assembles the processing engine and its collaborators from
// configuration. Both commands share it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"lightwork/internal/adapter/repo"
	"lightwork/internal/adapter/sqlite"
	"lightwork/internal/domain"
	"lightwork/internal/infra"
	"lightwork/internal/infra/credentials"
	"lightwork/internal/lifecycle"
	"lightwork/internal/processor"
	"lightwork/internal/providers/genai"
	"lightwork/internal/ratelimit"
	"lightwork/internal/storage"
	"lightwork/internal/trigger"
)

// BuildOptions selects optional parts of the graph.
type BuildOptions struct {
	// Publisher connects a queue publisher so starting a job nudges workers.
	Publisher bool
}

// App holds the wired components. Close releases their connections.
type App struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Jobs      domain.JobRepository
	Images    domain.ImageRepository
	Store     *storage.FileStore
	Engine    *processor.Engine
	Sweeper   *lifecycle.Sweeper
	Service   *lifecycle.Service
	Publisher *trigger.Publisher

	closers []func()
}

// ProcessorOptions projects configuration onto engine options.
func ProcessorOptions(cfg *infra.Config) processor.Options {
	return processor.Options{
		BatchSize:      cfg.BatchSize,
		MaxConcurrency: cfg.MaxConcurrency,
		MaxRetries:     cfg.MaxRetries,
		StuckThreshold: cfg.StuckThreshold,
		Backoff: processor.BackoffPolicy{
			RateLimitBase: cfg.RateLimitBackoff,
			OverloadBase:  cfg.OverloadBackoff,
			TransientBase: cfg.TransientBackoff,
		},
		RetentionProbability: cfg.RetentionProbability,
	}
}

// RetentionOptions projects configuration onto sweeper options.
func RetentionOptions(cfg *infra.Config) lifecycle.RetentionOptions {
	return lifecycle.RetentionOptions{TTL: cfg.RetentionTTL, DeleteBatch: cfg.RetentionDeleteBatch}
}

// Build connects the record store, object store, rate limiter and Gemini
// client and wires the engine, sweeper and job service on top.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger, opts BuildOptions) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	creds, err := a.openRecordStore(ctx)
	if err != nil {
		return nil, err
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	a.Store, err = storage.NewFileStore(storagePath)
	if err != nil {
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" && creds != nil {
		stored, err := creds.GeminiAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("app: failed to load gemini api key from store")
		}
		apiKey = stored
	}
	clientLogger := logger.With().Str("component", "genai").Logger()
	client, err := genai.NewClient(ctx, genai.Options{
		APIKey:     apiKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		ProModel:   cfg.GeminiProModel,
		HTTPClient: &http.Client{Timeout: cfg.GeminiTimeout},
		Limiter:    a.limiter(),
		Logger:     &clientLogger,
	})
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		logger.Warn().Msg("app: gemini api key missing, cycles will not claim images")
	}

	a.Sweeper = lifecycle.NewSweeper(a.Jobs, a.Images, a.Store, RetentionOptions(cfg), logger)
	a.Engine = processor.NewEngine(processor.Deps{
		Images:      a.Images,
		Jobs:        a.Jobs,
		Store:       a.Store,
		Transformer: client,
		Retention:   a.Sweeper,
		Logger:      logger,
	}, ProcessorOptions(cfg))

	var publisher lifecycle.Publisher
	if opts.Publisher && cfg.AMQPURL != "" {
		a.Publisher, err = trigger.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = a.Publisher.Close() })
		publisher = a.Publisher
	}
	a.Service = lifecycle.NewService(a.Jobs, a.Images, a.Store, publisher, lifecycle.ServiceOptions{
		MaxRetries:  cfg.MaxRetries,
		DeleteBatch: cfg.RetentionDeleteBatch,
	}, logger)

	ok = true
	return a, nil
}

// openRecordStore picks PostgreSQL when DATABASE_URL is set and SQLite
// otherwise. The credentials store only exists on PostgreSQL.
func (a *App) openRecordStore(ctx context.Context) (*credentials.Store, error) {
	if a.Config.UsePostgres() {
		pool, err := infra.NewDBPool(ctx, a.Config)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, a.Logger)
		if err := infra.EnsureSchema(ctx, runner); err != nil {
			return nil, err
		}
		a.Jobs = repo.NewJobRepository(runner)
		a.Images = repo.NewImageRepository(runner)
		return credentials.NewStore(runner), nil
	}

	db, err := sqlite.Open(ctx, a.Config.SQLitePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.Jobs = sqlite.NewJobRepository(db)
	a.Images = sqlite.NewImageRepository(db)
	return nil, nil
}

// limiter returns nil when provider calls are unlimited.
func (a *App) limiter() ratelimit.Limiter {
	perMinute := a.Config.ProviderCallsPerMinute
	if perMinute <= 0 {
		return nil
	}
	if a.Config.RedisAddr == "" {
		return ratelimit.NewWindowLimiter(perMinute, time.Minute)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
	})
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return ratelimit.NewRedisLimiter(rdb, "lightwork:provider-calls", perMinute, time.Minute)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
