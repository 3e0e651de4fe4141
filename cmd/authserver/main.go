package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/gin-gonic/gin"
	"github.com/go-session/session/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/config"
	"github.com/legit-games/oauth2/generates"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/oauth"
	"github.com/legit-games/oauth2/seed"
	"github.com/legit-games/oauth2/server"
	"github.com/legit-games/oauth2/store"
)

const appName = "authserver"

var opts struct {
	Config  string `short:"c" long:"config" env:"OAUTH_CONFIG" description:"path to the yaml configuration"`
	Debug   bool   `short:"d" long:"debug" env:"OAUTH_DEBUG" description:"log at debug level"`
	NoColor bool   `long:"no-color" description:"disable colored console output"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: opts.NoColor})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run() error {
	settings, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	cfg, err := settings.OAuthConfig()
	if err != nil {
		return err
	}

	st, closeStore, err := store.Open(store.OpenOptions{
		Driver:  settings.Store.Driver,
		DSN:     settings.Store.DSN,
		Prefix:  settings.Store.Prefix,
		Migrate: settings.Store.Migrate,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	owners := store.NewOwnerStore()
	if err := seed.Owners(owners, settings.Owners); err != nil {
		return fmt.Errorf("seed owners: %w", err)
	}
	registered, err := seed.Clients(context.Background(), st, cfg.NativeRedirectURI, settings.Clients)
	if err != nil {
		return fmt.Errorf("seed clients: %w", err)
	}
	for _, r := range registered {
		if r.Secret != "" {
			log.Warn().Str("uid", r.Client.UID).Str("secret", r.Secret).Msg("generated client secret, store it now")
		}
	}

	issuerOpts, err := issuerOptions(settings, st)
	if err != nil {
		return err
	}
	provider := oauth.NewProvider(cfg, st, owners, oauth.WithIssuerOptions(issuerOpts...))

	session.InitManager(
		session.SetCookieName(settings.HTTP.SessionCookie),
		session.SetSign([]byte(settings.HTTP.SessionSecret)),
	)
	if settings.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.NewServer(server.NewConfig(), provider, st)

	displayAppname(appName)
	httpServer := &http.Server{Addr: settings.HTTP.Addr, Handler: server.NewGinEngine(srv)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("store", settings.Store.Driver).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// issuerOptions selects the access token format and the reaction to replayed
// credentials.
func issuerOptions(settings *config.Settings, st oauth2.CredentialStore) ([]manage.Option, error) {
	var out []manage.Option
	switch settings.Token.Format {
	case "", "opaque":
	case "jwt":
		method := jwt.GetSigningMethod(settings.Token.JWTMethod)
		if method == nil {
			return nil, fmt.Errorf("unknown jwt method %q", settings.Token.JWTMethod)
		}
		if settings.Token.JWTKey == "" {
			return nil, errors.New("token.jwt_key is required for jwt tokens")
		}
		gen := generates.NewJWTAccessGenerate(settings.Token.JWTKeyID, []byte(settings.Token.JWTKey), method)
		gen.Issuer = settings.Token.Issuer
		out = append(out, manage.WithAccessGenerate(gen))
	default:
		return nil, fmt.Errorf("unknown token format %q", settings.Token.Format)
	}
	if settings.OAuth.RevokeAllOnReuse {
		out = append(out, manage.WithReuseHandler(manage.RevokeAllOnReuse(st)))
	}
	return out, nil
}

func displayAppname(name string) {
	figure.NewFigure(name, "cybermedium", true).Print()
	fmt.Println()
}
