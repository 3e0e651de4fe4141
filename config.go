package oauth2

import (
	"time"

	"github.com/legit-games/oauth2/scopes"
)

// Config server-wide settings. It is built once at startup and passed by
// pointer to every component; components never mutate it.
type Config struct {
	Realm     string // WWW-Authenticate realm
	TokenType string // token type reported in token responses

	AuthorizationResponseTypes []ResponseType // response types allowed at the authorize endpoint
	GrantTypes                 []GrantType    // grant types allowed at the token endpoint

	DefaultScopes  scopes.Set // used when a request names no scope
	OptionalScopes scopes.Set

	AuthorizationCodeExpiresIn time.Duration
	AccessTokenExpiresIn       time.Duration // 0 issues tokens that never expire

	UseRefreshToken         bool
	RevokeRefreshTokenOnUse bool // rotate refresh tokens; false extends the token in place
	ReuseAccessToken        bool // return a live matching token instead of minting

	// IntrospectionRequiresClient authorizes introspection callers by client
	// credentials. When false a bearer token is required instead.
	IntrospectionRequiresClient bool

	NativeRedirectURI string

	// SkipAuthorization lists client uids that are trusted and never need
	// the resource owner's consent.
	SkipAuthorization []string

	// AdminScope required on bearer tokens calling the application endpoints.
	AdminScope string
}

// NewConfig create to configuration instance
func NewConfig() *Config {
	return &Config{
		Realm:                      "oauth2",
		TokenType:                  "Bearer",
		AuthorizationResponseTypes: []ResponseType{Code, Token},
		GrantTypes: []GrantType{
			AuthorizationCode,
			PasswordCredentials,
			ClientCredentials,
			Refreshing,
		},
		DefaultScopes:               scopes.New("public"),
		AuthorizationCodeExpiresIn:  10 * time.Minute,
		AccessTokenExpiresIn:        2 * time.Hour,
		UseRefreshToken:             true,
		RevokeRefreshTokenOnUse:     true,
		IntrospectionRequiresClient: true,
		NativeRedirectURI:           "urn:ietf:wg:oauth:2.0:oob",
		AdminScope:                  "admin",
	}
}

// Scopes all scopes known to the server.
func (c *Config) Scopes() scopes.Set {
	return c.DefaultScopes.Union(c.OptionalScopes)
}

// AllowsResponseType reports whether rt may be used at the authorize endpoint.
func (c *Config) AllowsResponseType(rt ResponseType) bool {
	for _, t := range c.AuthorizationResponseTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// IssuesRefreshToken reports whether tokens issued through gt come with a
// refresh token. Client credentials and implicit tokens never do.
func (c *Config) IssuesRefreshToken(gt GrantType) bool {
	if gt == ClientCredentials || gt == Implicit {
		return false
	}
	return c.UseRefreshToken
}

// AllowsGrantType reports whether gt may be used at the token endpoint.
func (c *Config) AllowsGrantType(gt GrantType) bool {
	for _, t := range c.GrantTypes {
		if t == gt {
			return true
		}
	}
	return false
}

// TrustedClient reports whether uid skips the consent step.
func (c *Config) TrustedClient(uid string) bool {
	for _, u := range c.SkipAuthorization {
		if u == uid {
			return true
		}
	}
	return false
}

// AccessTokenSeconds the access token lifetime in seconds.
func (c *Config) AccessTokenSeconds() int64 {
	return int64(c.AccessTokenExpiresIn / time.Second)
}
