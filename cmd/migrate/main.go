package main

import (
	"flag"

	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/db"
	"github.com/tunminster/by-the-app-demo/internal/logging"
)

func main() {
	force := flag.Int("force", -1, "force the schema version and clear the dirty flag instead of migrating")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Bootstrap().Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "migrate").Logger()

	version, err := db.Migrate(cfg.PostgresDSN, *force)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Uint("version", version).Msg("schema is up to date")
}
