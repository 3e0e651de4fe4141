// Package config loads the process settings of the authorization server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/scopes"
)

// EnvPrefix prefix of environment overrides. Nesting uses "__", e.g.
// OAUTH_STORE__DSN sets store.dsn.
const EnvPrefix = "OAUTH_"

// Settings defines application configuration loaded from files and environment.
type Settings struct {
	Env   string        `koanf:"env"`
	HTTP  HTTPSettings  `koanf:"http"`
	Store StoreSettings `koanf:"store"`
	OAuth OAuthSettings `koanf:"oauth"`
	Token TokenSettings `koanf:"token"`

	Clients []ClientSettings `koanf:"clients"`
	Owners  []OwnerSettings  `koanf:"owners"`
}

type HTTPSettings struct {
	Addr          string `koanf:"addr"`
	SessionCookie string `koanf:"session_cookie"`
	SessionSecret string `koanf:"session_secret"`
}

type StoreSettings struct {
	Driver  string `koanf:"driver"` // memory, buntdb, valkey or postgres
	DSN     string `koanf:"dsn"`    // buntdb path, valkey address or postgres DSN
	Prefix  string `koanf:"prefix"` // valkey key prefix
	Migrate bool   `koanf:"migrate"`
}

// OAuthSettings mirrors oauth2.Config. Zero values keep the defaults of
// oauth2.NewConfig, except for the booleans which are pointers for that
// reason.
type OAuthSettings struct {
	Realm                       string        `koanf:"realm"`
	TokenType                   string        `koanf:"token_type"`
	ResponseTypes               []string      `koanf:"response_types"`
	GrantTypes                  []string      `koanf:"grant_types"`
	DefaultScopes               string        `koanf:"default_scopes"`
	OptionalScopes              string        `koanf:"optional_scopes"`
	AuthorizationCodeExpiresIn  time.Duration `koanf:"authorization_code_expires_in"`
	AccessTokenExpiresIn        time.Duration `koanf:"access_token_expires_in"`
	UseRefreshToken             *bool         `koanf:"use_refresh_token"`
	RevokeRefreshTokenOnUse     *bool         `koanf:"revoke_refresh_token_on_use"`
	ReuseAccessToken            *bool         `koanf:"reuse_access_token"`
	IntrospectionRequiresClient *bool         `koanf:"introspection_requires_client"`
	NativeRedirectURI           string        `koanf:"native_redirect_uri"`
	SkipAuthorization           []string      `koanf:"skip_authorization"`
	AdminScope                  string        `koanf:"admin_scope"`
	RevokeAllOnReuse            bool          `koanf:"revoke_all_on_reuse"`
}

type TokenSettings struct {
	Format    string `koanf:"format"` // opaque or jwt
	JWTKey    string `koanf:"jwt_key"`
	JWTKeyID  string `koanf:"jwt_key_id"`
	JWTMethod string `koanf:"jwt_method"`
	Issuer    string `koanf:"issuer"`
}

type ClientSettings struct {
	Name         string   `koanf:"name"`
	UID          string   `koanf:"uid"`
	Secret       string   `koanf:"secret"`
	RedirectURIs []string `koanf:"redirect_uris"`
	Scopes       string   `koanf:"scopes"`
	Confidential *bool    `koanf:"confidential"`
}

type OwnerSettings struct {
	Username     string `koanf:"username"`
	ID           string `koanf:"id"`
	Password     string `koanf:"password"`
	PasswordHash string `koanf:"password_hash"`
}

// Default the settings used when nothing is configured.
func Default() *Settings {
	return &Settings{
		Env: "local",
		HTTP: HTTPSettings{
			Addr:          ":9096",
			SessionCookie: "oauth2_session",
		},
		Store: StoreSettings{Driver: "memory", Prefix: "oauth2:"},
		Token: TokenSettings{Format: "opaque", JWTMethod: "HS512"},
	}
}

// Load reads path (optional, yaml) and then environment overrides with
// EnvPrefix.
func Load(path string) (*Settings, error) {
	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		// OAUTH_STORE__DSN -> store__dsn
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	s := Default()
	if err := k.Unmarshal("", s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	log.Debug().Str("env", s.Env).Str("store", s.Store.Driver).Msg("config loaded")
	return s, nil
}

// OAuthConfig builds the server configuration.
func (s *Settings) OAuthConfig() (*oauth2.Config, error) {
	o := s.OAuth
	cfg := oauth2.NewConfig()

	if o.Realm != "" {
		cfg.Realm = o.Realm
	}
	if o.TokenType != "" {
		cfg.TokenType = o.TokenType
	}
	if len(o.ResponseTypes) > 0 {
		cfg.AuthorizationResponseTypes = nil
		for _, v := range o.ResponseTypes {
			rt, ok := oauth2.ParseResponseType(v)
			if !ok {
				return nil, fmt.Errorf("unknown response type %q", v)
			}
			cfg.AuthorizationResponseTypes = append(cfg.AuthorizationResponseTypes, rt)
		}
	}
	if len(o.GrantTypes) > 0 {
		cfg.GrantTypes = nil
		for _, v := range o.GrantTypes {
			gt, ok := oauth2.ParseGrantType(v)
			if !ok {
				return nil, fmt.Errorf("unknown grant type %q", v)
			}
			cfg.GrantTypes = append(cfg.GrantTypes, gt)
		}
	}
	if o.DefaultScopes != "" {
		cfg.DefaultScopes = scopes.Parse(o.DefaultScopes)
	}
	if o.OptionalScopes != "" {
		cfg.OptionalScopes = scopes.Parse(o.OptionalScopes)
	}
	if o.AuthorizationCodeExpiresIn > 0 {
		cfg.AuthorizationCodeExpiresIn = o.AuthorizationCodeExpiresIn
	}
	if o.AccessTokenExpiresIn > 0 {
		cfg.AccessTokenExpiresIn = o.AccessTokenExpiresIn
	}
	setBool(&cfg.UseRefreshToken, o.UseRefreshToken)
	setBool(&cfg.RevokeRefreshTokenOnUse, o.RevokeRefreshTokenOnUse)
	setBool(&cfg.ReuseAccessToken, o.ReuseAccessToken)
	setBool(&cfg.IntrospectionRequiresClient, o.IntrospectionRequiresClient)
	if o.NativeRedirectURI != "" {
		cfg.NativeRedirectURI = o.NativeRedirectURI
	}
	if len(o.SkipAuthorization) > 0 {
		cfg.SkipAuthorization = o.SkipAuthorization
	}
	if o.AdminScope != "" {
		cfg.AdminScope = o.AdminScope
	}
	return cfg, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
