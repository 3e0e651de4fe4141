package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2/migrate"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := migrate.RunFromEnv(); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	log.Info().Msg("migrate completed successfully")
}
