// Package app wires the stores, services and queues shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tunminster/by-the-app-demo/internal/api"
	"github.com/tunminster/by-the-app-demo/internal/appointment"
	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/db"
	"github.com/tunminster/by-the-app-demo/internal/observability"
	"github.com/tunminster/by-the-app-demo/internal/patient"
	redisclient "github.com/tunminster/by-the-app-demo/internal/redis"
	"github.com/tunminster/by-the-app-demo/internal/slot"
)

// Core holds the connections and services every binary needs.
type Core struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *observability.BookingMetrics
	Bookings *appointment.Service
	Patients *patient.Service
}

// Open connects to Postgres and Redis and builds the booking engine.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Core, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("postgres connection error: %w", err)
	}
	log.Info().Msg("connected to Postgres")

	rdb, locker := connectLocker(ctx, cfg, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewBookingMetrics(reg)

	apptRepo := appointment.NewPgRepository(pool)
	patients := patient.NewService(patient.NewPgRepository(pool), apptRepo, log)
	bookings := appointment.NewService(
		apptRepo,
		slot.NewPgStore(pool),
		locker,
		cfg,
		log,
		appointment.WithProjector(patients),
		appointment.WithMetrics(metrics),
	)

	return &Core{
		Pool:     pool,
		Redis:    rdb,
		Registry: reg,
		Metrics:  metrics,
		Bookings: bookings,
		Patients: patients,
	}, nil
}

func (c *Core) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// Health treats Postgres as critical. Redis only degrades readiness since
// the slot claim stays exclusive without the lock.
func (c *Core) Health(env, version string) *api.HealthHandler {
	return api.NewHealthHandler(env, version).
		AddCheck("postgres", true, c.Pool.Ping).
		AddCheck("redis", false, func(ctx context.Context) error {
			if c.Redis == nil {
				return errRedisUnavailable
			}
			return c.Redis.Ping(ctx).Err()
		})
}

func (c *Core) Close(log zerolog.Logger) {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}
	c.Pool.Close()
}

var errRedisUnavailable = errors.New("redis not connected")

// connectLocker returns the Redis client and the slot locker built on it.
// When Redis cannot be reached the client is nil and bookings run without
// the lock; the conditional slot claim still keeps them exclusive.
func connectLocker(ctx context.Context, cfg config.Config, log zerolog.Logger) (*redis.Client, redisclient.Locker) {
	opts := redisclient.OptionsFromConfig(cfg)
	rdb, err := redisclient.NewRedisClient(ctx, opts)
	if err != nil {
		log.Warn().Err(err).Str("addr", opts.Endpoint()).Msg("redis unavailable, slot lock disabled")
		return nil, redisclient.NoopLocker{}
	}
	log.Info().Str("addr", opts.Endpoint()).Msg("connected to Redis")
	return rdb, redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
}
