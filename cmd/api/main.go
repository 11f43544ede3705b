package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"lightwork/internal/app"
	"lightwork/internal/http/handlers"
	"lightwork/internal/http/httpapi"
	"lightwork/internal/infra"
)

// processPerMinute throttles manual cycle triggers per client.
const processPerMinute = 30

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.BuildOptions{Publisher: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: setup failed")
	}
	defer a.Close()

	handler := &handlers.App{
		Cycles:    a.Engine,
		Jobs:      a.Service,
		Retention: a.Sweeper,
		Logger:    logger,
	}
	router := httpapi.NewRouter(handler, logger, httpapi.Options{
		ProcessPerMinute: processPerMinute,
		AllowedOrigins:   cfg.AllowedOrigins,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	a.Engine.Wait()
	logger.Info().Msg("api: stopped")
}
