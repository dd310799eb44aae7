package main

import (
	"flag"
	"fmt"

	"github.com/rs/zerolog/log"
	"hooksync/internal/pkg/logger"
	"hooksync/internal/platform/config"
	"hooksync/internal/platform/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 1, "Number of migrations to roll back (down only, 0 = all)")
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	switch *direction {
	case "up":
		err = database.Migrate(db)
	case "down":
		err = database.MigrateDown(db, *steps)
	default:
		log.Fatal().Str("direction", *direction).Msg("invalid direction: must be 'up' or 'down'")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	version, dirty, err := database.Version(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read schema version")
	}
	fmt.Printf("Migration completed successfully (version %d, dirty %v)\n", version, dirty)
}
