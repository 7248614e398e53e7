package main

import (
	"errors"
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/booking-engine/internal/config"
	"github.com/jwalitptl/booking-engine/internal/repository/postgres"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations")
	force := flag.Int("force", -1, "force the schema version without migrating")
	version := flag.Bool("version", false, "print the applied version")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	url := cfg.Database.URL()

	switch {
	case *version:
		v, dirty, err := postgres.Version(url)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read migration version")
		}
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	case *force >= 0:
		if err := postgres.Force(url, *force); err != nil {
			log.Fatal().Err(err).Msg("failed to force version")
		}
		log.Info().Int("version", *force).Msg("forced schema version")
	case *down > 0:
		if err := postgres.MigrateDown(url, *down); err != nil {
			log.Fatal().Err(err).Msg("failed to roll back")
		}
		log.Info().Int("steps", *down).Msg("rolled back migrations")
	default:
		if err := postgres.MigrateUp(url); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate")
		}
		log.Info().Msg("migrations applied")
	}
}
