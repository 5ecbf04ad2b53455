package main

import (
	"context"

	"github.com/letieu/advice-scorer/config"
	"github.com/letieu/advice-scorer/internal/database"
	"github.com/letieu/advice-scorer/internal/logging"
)

func main() {
	ctx := context.Background()

	cnf, err := config.Load()
	if err != nil {
		logger := logging.New("info", "console")
		logger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cnf.Log.Level, cnf.Log.Format)

	store, err := database.Open(ctx, cnf)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Str("type", cnf.Database.Type).Msg("database unreachable")
	}

	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	logger.Info().Str("type", cnf.Database.Type).Msg("DONE")
}
