package generates

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/legit-games/oauth2"
)

// DefaultTokenBytes entropy of generated opaque tokens
const DefaultTokenBytes = 32

// RandomString returns n crypto-random bytes, base64url encoded without
// padding.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewAuthorizeGenerate create to generate the authorize code instance
func NewAuthorizeGenerate() *AuthorizeGenerate {
	return &AuthorizeGenerate{Bytes: DefaultTokenBytes}
}

// AuthorizeGenerate generate the authorize code
type AuthorizeGenerate struct {
	Bytes int
}

// Token returns a random authorization code
func (ag *AuthorizeGenerate) Token(ctx context.Context, data *oauth2.GenerateBasic) (string, error) {
	return RandomString(ag.Bytes)
}

// NewAccessGenerate create to generate the opaque access token instance
func NewAccessGenerate() *AccessGenerate {
	return &AccessGenerate{Bytes: DefaultTokenBytes}
}

// AccessGenerate generate opaque access and refresh tokens
type AccessGenerate struct {
	Bytes int
}

// Token returns a random access token and, if asked, a random refresh token
func (ag *AccessGenerate) Token(ctx context.Context, data *oauth2.GenerateBasic, isGenRefresh bool) (string, string, error) {
	access, err := RandomString(ag.Bytes)
	if err != nil {
		return "", "", err
	}
	if !isGenRefresh {
		return access, "", nil
	}
	refresh, err := RandomString(ag.Bytes)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}
