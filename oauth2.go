// Package oauth2 holds the shared vocabulary of the authorization server:
// grant and response types, the server configuration and the interfaces of
// its collaborators.
package oauth2

import (
	"context"
	"time"

	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// Clock supplies the current time. Expiry is always checked against it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Credentials resource owner password credentials
type Credentials struct {
	Username string
	Password string
}

// ResourceOwnerAuthenticator verifies resource owner credentials and
// returns the owner id, or "" when they do not authenticate. The error is
// reserved for infrastructure failures.
type ResourceOwnerAuthenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (string, error)
}

// ResourceOwnerAuthenticatorFunc adapts a function to ResourceOwnerAuthenticator.
type ResourceOwnerAuthenticatorFunc func(ctx context.Context, creds Credentials) (string, error)

// Authenticate calls f.
func (f ResourceOwnerAuthenticatorFunc) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	return f(ctx, creds)
}

// GenerateBasic provide the basis of the generated token data
type GenerateBasic struct {
	Client    *models.Client // nil for tokens without a client
	UserID    string
	Scopes    scopes.Set
	ExpiresIn time.Duration
	CreateAt  time.Time
}

type (
	// AuthorizeGenerate generate the authorization code interface
	AuthorizeGenerate interface {
		Token(ctx context.Context, data *GenerateBasic) (code string, err error)
	}

	// AccessGenerate generate the access and refresh tokens interface
	AccessGenerate interface {
		Token(ctx context.Context, data *GenerateBasic, isGenRefresh bool) (access, refresh string, err error)
	}
)
