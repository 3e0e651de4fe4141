package oauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
)

// IntrospectionParams the parameters of an introspection request (RFC 7662)
type IntrospectionParams struct {
	Token         string `form:"token"`
	TokenTypeHint string `form:"token_type_hint"`
}

// IntrospectionResponse the introspection result. An inactive token is
// reported as {"active":false} and nothing else.
type IntrospectionResponse struct {
	Active    bool
	Scope     string
	ClientID  string
	TokenType string
	Exp       int64 // 0 when the token never expires
	Iat       int64
}

// Status implements Response.
func (r *IntrospectionResponse) Status() int { return http.StatusOK }

// Headers implements Response.
func (r *IntrospectionResponse) Headers() http.Header { return noStoreHeaders() }

// Body implements Response.
func (r *IntrospectionResponse) Body() map[string]interface{} {
	if !r.Active {
		return map[string]interface{}{"active": false}
	}
	data := map[string]interface{}{
		"active":     true,
		"token_type": r.TokenType,
		"iat":        r.Iat,
	}
	if r.Scope != "" {
		data["scope"] = r.Scope
	}
	if r.ClientID != "" {
		data["client_id"] = r.ClientID
	}
	if r.Exp > 0 {
		data["exp"] = r.Exp
	}
	return data
}

// Introspect authorizes the caller and reports whether params.Token is
// active. With Config.IntrospectionRequiresClient the caller authenticates
// as a confidential client; otherwise bearer must be an accessible access token.
func (p *Provider) Introspect(ctx context.Context, cc ClientCredentials, bearer string, params IntrospectionParams) (Response, error) {
	var (
		caller       *models.Client
		publicBearer *models.AccessToken
	)
	if p.Config.IntrospectionRequiresClient {
		c, err := p.AuthenticateClient(ctx, cc)
		if err != nil {
			return nil, err
		}
		if c == nil || !c.Confidential {
			return p.errorResponse(errors.ErrInvalidClient), nil
		}
		caller = c
	} else {
		tok, err := p.findAccessToken(ctx, bearer)
		if err != nil {
			return nil, err
		}
		if tok == nil || !tok.Accessible(p.Clock.Now()) {
			return p.errorResponse(errors.ErrInvalidRequest), nil
		}
		if tok.ApplicationID == "" {
			publicBearer = tok
		} else {
			c, err := p.findClientByID(ctx, tok.ApplicationID)
			if err != nil {
				return nil, err
			}
			caller = c
		}
	}

	inactive := &IntrospectionResponse{}
	tok, err := p.introspected(ctx, params)
	if err != nil {
		return nil, err
	}
	now := p.Clock.Now()
	if tok == nil || tok.Expired(now) || tok.Revoked(now) {
		return inactive, nil
	}
	if caller != nil && tok.ApplicationID != "" && tok.ApplicationID != caller.ID {
		return inactive, nil
	}
	// a bearer without client only sees its own credential
	if publicBearer != nil && !tok.SameCredential(publicBearer) {
		return inactive, nil
	}

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     tok.Scopes.String(),
		TokenType: p.Config.TokenType,
		Iat:       tok.CreatedAt.Unix(),
	}
	if tok.ExpiresIn > 0 {
		resp.Exp = tok.ExpiresAt().Unix()
	}
	if tok.ApplicationID != "" {
		owner, err := p.findClientByID(ctx, tok.ApplicationID)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			resp.ClientID = owner.UID
		}
	}
	return resp, nil
}

// introspected finds the token named by params. Refresh tokens are only
// looked up when hinted, and are active as long as they are not revoked.
func (p *Provider) introspected(ctx context.Context, params IntrospectionParams) (*models.AccessToken, error) {
	if params.Token == "" {
		return nil, nil
	}
	if params.TokenTypeHint == "refresh_token" {
		tok, err := p.Store.FindAccessTokenByRefresh(ctx, params.Token)
		if errors.Is(err, errors.ErrNotFound) {
			return p.findAccessToken(ctx, params.Token)
		} else if err != nil {
			return nil, fmt.Errorf("find refresh token: %w", err)
		}
		t := tok.Clone()
		t.ExpiresIn = 0
		return t, nil
	}
	return p.findAccessToken(ctx, params.Token)
}

// RevocationParams the parameters of a revocation request (RFC 7009)
type RevocationParams struct {
	Token         string `form:"token"`
	TokenTypeHint string `form:"token_type_hint"`
}

// RevocationResponse an empty 200 response
type RevocationResponse struct{}

// Status implements Response.
func (RevocationResponse) Status() int { return http.StatusOK }

// Headers implements Response.
func (RevocationResponse) Headers() http.Header { return noStoreHeaders() }

// Body implements Response.
func (RevocationResponse) Body() map[string]interface{} { return map[string]interface{}{} }

// Revoke revokes an access or refresh token of the calling client. Unknown
// tokens and tokens of other clients still get 200; only failing client
// authentication is an error.
func (p *Provider) Revoke(ctx context.Context, cc ClientCredentials, params RevocationParams) (Response, error) {
	client, err := p.AuthenticateClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	if cc.Supplied() && client == nil {
		return p.errorResponse(errors.ErrInvalidClient), nil
	}
	if params.Token == "" {
		return p.errorResponse(errors.ErrInvalidRequest), nil
	}
	if err := p.Tokens.Revoke(ctx, params.Token, client); err != nil {
		return nil, err
	}
	return RevocationResponse{}, nil
}

// AuthenticateBearer resolves the bearer token of a resource request. The
// error is an *ErrorResponse when the token is unknown, expired or revoked,
// a *ForbiddenResponse when it carries none of the required scopes, and an
// infrastructure error otherwise.
func (p *Provider) AuthenticateBearer(ctx context.Context, bearer string, required ...string) (*models.AccessToken, error) {
	tok, err := p.findAccessToken(ctx, bearer)
	if err != nil {
		return nil, err
	}
	now := p.Clock.Now()
	switch {
	case tok == nil:
		return nil, p.errorResponse(errors.ErrInvalidTokenUnknown)
	case tok.Revoked(now):
		return nil, p.errorResponse(errors.ErrInvalidTokenRevoked)
	case tok.Expired(now):
		return nil, p.errorResponse(errors.ErrInvalidTokenExpired)
	case !tok.Acceptable(now, required...):
		return nil, NewForbiddenResponse(p.Config.Realm, required)
	}
	return tok, nil
}

// TokenInfoResponse describes the caller's own access token
type TokenInfoResponse struct {
	Info models.TokenInfo
}

// Status implements Response.
func (r *TokenInfoResponse) Status() int { return http.StatusOK }

// Headers implements Response.
func (r *TokenInfoResponse) Headers() http.Header { return noStoreHeaders() }

// Body implements Response.
func (r *TokenInfoResponse) Body() map[string]interface{} {
	return map[string]interface{}{
		"resource_owner_id":  r.Info.ResourceOwnerID,
		"scopes":             r.Info.Scopes,
		"expires_in_seconds": r.Info.ExpiresInSeconds,
		"application":        r.Info.Application,
		"created_at":         r.Info.CreatedAt,
	}
}

// TokenInfo describes the bearer token, or returns the error response of
// AuthenticateBearer.
func (p *Provider) TokenInfo(ctx context.Context, bearer string) (Response, error) {
	tok, err := p.AuthenticateBearer(ctx, bearer)
	if err != nil {
		var er *ErrorResponse
		if errors.As(err, &er) {
			return er, nil
		}
		return nil, err
	}
	var client *models.Client
	if tok.ApplicationID != "" {
		if client, err = p.findClientByID(ctx, tok.ApplicationID); err != nil {
			return nil, err
		}
	}
	return &TokenInfoResponse{Info: tok.AsJSON(client, p.Clock.Now())}, nil
}

func (p *Provider) findAccessToken(ctx context.Context, token string) (*models.AccessToken, error) {
	if token == "" {
		return nil, nil
	}
	tok, err := p.Store.FindAccessToken(ctx, token)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find access token: %w", err)
	}
	return tok, nil
}

func (p *Provider) findClientByID(ctx context.Context, id string) (*models.Client, error) {
	c, err := p.Store.FindClientByID(ctx, id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	return c, nil
}
