package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/tunminster/by-the-app-demo/internal/app"
	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Bootstrap().Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "fulfillment-worker").Logger()

	if cfg.QueueBackend == config.QueueMemory {
		log.Fatal().Msg("QUEUE_BACKEND=memory is consumed inside api-server; use kafka or sqs for a separate worker")
	}
	log.Info().Str("queue", cfg.QueueBackend).Int("workers", cfg.FulfillmentWorkers).Msg("fulfillment-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer core.Close(log)

	queue, err := app.OpenQueue(rootCtx, cfg, true)
	if err != nil {
		log.Fatal().Err(err).Msg("queue setup failed")
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing queue")
		}
	}()

	core.Consumer(cfg, log).Run(rootCtx, queue.Subscribers...)
	log.Info().Msg("shutdown signal received, fulfillment-worker stopped")
}
