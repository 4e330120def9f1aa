package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
	"github.com/tunminster/by-the-app-demo/internal/config"
)

const defaultAddr = "127.0.0.1:6379"

// Options selects the Redis endpoint. URL takes precedence over the
// discrete fields and accepts redis:// as well as rediss:// for TLS.
type Options struct {
	URL      string
	Addr     string
	Username string
	Password string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		URL:      cfg.RedisURL,
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	}
}

// Endpoint is the host:port the client dials, safe to log.
func (o Options) Endpoint() string {
	ro, err := o.clientOptions()
	if err != nil {
		return ""
	}
	return ro.Addr
}

func (o Options) clientOptions() (*redis.Options, error) {
	ro := &redis.Options{
		Addr:     o.Addr,
		Username: o.Username,
		Password: o.Password,
	}
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: redis url: %v", apperr.ErrInvalid, err)
		}
		ro = parsed
	}
	if ro.Addr == "" {
		ro.Addr = defaultAddr
	}
	ro.ReadTimeout = 2 * time.Second
	ro.WriteTimeout = 2 * time.Second
	if ro.PoolSize == 0 {
		ro.PoolSize = 10
	}
	if ro.MinIdleConns == 0 {
		ro.MinIdleConns = 1
	}
	return ro, nil
}

// NewRedisClient dials and pings Redis, closing the client again if the
// ping fails.
func NewRedisClient(ctx context.Context, o Options) (*redis.Client, error) {
	ro, err := o.clientOptions()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: ping redis at %s: %v", apperr.ErrTransient, ro.Addr, err)
	}

	return rdb, nil
}
