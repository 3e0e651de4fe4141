package main

import (
	"context"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2/config"
	"github.com/legit-games/oauth2/seed"
	"github.com/legit-games/oauth2/store"
)

var opts struct {
	Config string `short:"c" long:"config" env:"OAUTH_CONFIG" description:"path to the yaml configuration"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	settings, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	cfg, err := settings.OAuthConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("oauth config")
	}

	st, closeStore, err := store.Open(store.OpenOptions{
		Driver:  settings.Store.Driver,
		DSN:     settings.Store.DSN,
		Prefix:  settings.Store.Prefix,
		Migrate: settings.Store.Migrate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	registered, err := seed.Clients(context.Background(), st, cfg.NativeRedirectURI, settings.Clients)
	if err != nil {
		log.Error().Err(err).Msg("seed failed")
		return
	}
	for _, r := range registered {
		ev := log.Info().Str("name", r.Client.Name).Str("uid", r.Client.UID).Bool("created", r.Created)
		if r.Secret != "" {
			ev = ev.Str("secret", r.Secret)
		}
		ev.Msg("client")
	}
	log.Info().Msg("seed completed successfully")
}
