package generates

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
)

// JWTAccessClaims jwt claims
type JWTAccessClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"` // space separated, RFC 6749
}

// NewJWTAccessGenerate create to generate the jwt access token instance
func NewJWTAccessGenerate(kid string, key []byte, method jwt.SigningMethod) *JWTAccessGenerate {
	return &JWTAccessGenerate{
		SignedKeyID:  kid,
		SignedKey:    key,
		SignedMethod: method,
	}
}

// JWTAccessGenerate generate the jwt access token. Refresh tokens stay
// opaque.
type JWTAccessGenerate struct {
	SignedKeyID  string
	SignedKey    []byte
	SignedMethod jwt.SigningMethod
	Issuer       string
}

// Token signs the access token claims and generates a random refresh token
func (a *JWTAccessGenerate) Token(ctx context.Context, data *oauth2.GenerateBasic, isGenRefresh bool) (string, string, error) {
	claims := &JWTAccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   a.Issuer,
			Subject:  data.UserID,
			IssuedAt: jwt.NewNumericDate(data.CreateAt),
		},
		Scope: data.Scopes.String(),
	}
	if data.Client != nil {
		claims.Audience = jwt.ClaimStrings{data.Client.UID}
		claims.ClientID = data.Client.UID
	}
	if data.ExpiresIn > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(data.CreateAt.Add(data.ExpiresIn))
	}

	token := jwt.NewWithClaims(a.SignedMethod, claims)
	if a.SignedKeyID != "" {
		token.Header["kid"] = a.SignedKeyID
	}
	key, err := a.signingKey()
	if err != nil {
		return "", "", err
	}
	access, err := token.SignedString(key)
	if err != nil {
		return "", "", err
	}

	refresh := ""
	if isGenRefresh {
		refresh, err = RandomString(DefaultTokenBytes)
		if err != nil {
			return "", "", err
		}
	}
	return access, refresh, nil
}

// Parse verifies a token signed by this generator and returns its claims.
// Only HMAC keys can verify with the signing key itself.
func (a *JWTAccessGenerate) Parse(access string) (*JWTAccessClaims, error) {
	if !a.isHs() {
		return nil, errors.New("parse requires an HMAC signing method")
	}
	claims := &JWTAccessClaims{}
	_, err := jwt.ParseWithClaims(access, claims, func(t *jwt.Token) (interface{}, error) {
		return a.SignedKey, nil
	}, jwt.WithValidMethods([]string{a.SignedMethod.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (a *JWTAccessGenerate) signingKey() (interface{}, error) {
	switch {
	case a.isEs():
		return jwt.ParseECPrivateKeyFromPEM(a.SignedKey)
	case a.isRsOrPS():
		return jwt.ParseRSAPrivateKeyFromPEM(a.SignedKey)
	case a.isHs():
		return a.SignedKey, nil
	case a.isEd():
		return jwt.ParseEdPrivateKeyFromPEM(a.SignedKey)
	}
	return nil, errors.New("unsupported sign method")
}

func (a *JWTAccessGenerate) isEs() bool {
	return strings.HasPrefix(a.SignedMethod.Alg(), "ES")
}

func (a *JWTAccessGenerate) isRsOrPS() bool {
	isRs := strings.HasPrefix(a.SignedMethod.Alg(), "RS")
	isPs := strings.HasPrefix(a.SignedMethod.Alg(), "PS")
	return isRs || isPs
}

func (a *JWTAccessGenerate) isHs() bool { return strings.HasPrefix(a.SignedMethod.Alg(), "HS") }
func (a *JWTAccessGenerate) isEd() bool { return strings.HasPrefix(a.SignedMethod.Alg(), "Ed") }
