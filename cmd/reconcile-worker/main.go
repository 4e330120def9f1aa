package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunminster/by-the-app-demo/internal/app"
	"github.com/tunminster/by-the-app-demo/internal/appointment"
	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Bootstrap().Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "reconcile-worker").Logger()
	log.Info().Dur("interval", cfg.ReconcileInterval).Dur("grace", cfg.ReconcileGrace).Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer core.Close(log)

	// Run once at startup
	runOnce(rootCtx, core.Bookings, cfg.ReconcileInterval, log)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, core.Bookings, cfg.ReconcileInterval, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, budget time.Duration, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	report, err := svc.ReconcileSlots(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("reconcile run error")
		return
	}
	log.Info().
		Int("scanned", report.Scanned).
		Int("released", report.Released).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
}
