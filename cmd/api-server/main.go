package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tunminster/by-the-app-demo/internal/api"
	"github.com/tunminster/by-the-app-demo/internal/app"
	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/logging"
	"github.com/tunminster/by-the-app-demo/internal/pipeline"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Bootstrap().Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("queue", cfg.QueueBackend).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer core.Close(log)

	queue, err := app.OpenQueue(rootCtx, cfg, false)
	if err != nil {
		log.Fatal().Err(err).Msg("queue setup failed")
	}

	// the memory backend has no broker, so its consumer lives here
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var consumers sync.WaitGroup
	if len(queue.Subscribers) > 0 {
		consumer := core.Consumer(cfg, log)
		consumers.Add(1)
		go func(subs []pipeline.Subscriber) {
			defer consumers.Done()
			consumer.Run(consumerCtx, subs...)
		}(queue.Subscribers)
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Bookings:    core.Bookings,
			Patients:    core.Patients,
			Transcripts: pipeline.NewProducer(queue.Publisher, log),
			Health:      core.Health(cfg.Env, version),
			Metrics:     core.MetricsHandler(),
			Logger:      log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// let buffered transcripts drain before the consumer stops
	if err := queue.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing queue")
	}
	done := make(chan struct{})
	go func() {
		consumers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		stopConsumer()
		<-done
	}
	stopConsumer()

	log.Info().Msg("api-server stopped")
}
