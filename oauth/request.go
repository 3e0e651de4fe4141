package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// Request a token endpoint request. Authorize returns either a
// *TokenResponse or an *ErrorResponse; the error is reserved for store and
// other infrastructure failures.
type Request interface {
	GrantType() oauth2.GrantType
	Validations() []Validation
	Authorize(ctx context.Context) (Response, error)
}

// redeemer is implemented by requests that consume a single-use credential.
type redeemer interface {
	reuseEvent(at time.Time) manage.ReuseEvent
}

// TokenParams the parameters of a token endpoint request
type TokenParams struct {
	GrantType    string `form:"grant_type"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	Username     string `form:"username"`
	Password     string `form:"password"`
	RefreshToken string `form:"refresh_token"`
	Scope        string `form:"scope"`
}

// Token authenticates the client, builds the request for the grant type
// and authorizes it.
func (p *Provider) Token(ctx context.Context, cc ClientCredentials, params TokenParams) (Response, error) {
	req, resp, err := p.NewRequest(ctx, cc, params)
	if err != nil || resp != nil {
		return resp, err
	}
	return req.Authorize(ctx)
}

// NewRequest builds the request for params.GrantType. An unknown or
// disabled grant type yields an unsupported_grant_type response.
func (p *Provider) NewRequest(ctx context.Context, cc ClientCredentials, params TokenParams) (Request, Response, error) {
	gt, ok := oauth2.ParseGrantType(params.GrantType)
	if !ok || !p.Config.AllowsGrantType(gt) {
		return nil, p.errorResponse(errors.ErrUnsupportedGrantType), nil
	}
	client, err := p.AuthenticateClient(ctx, cc)
	if err != nil {
		return nil, nil, err
	}

	switch gt {
	case oauth2.AuthorizationCode:
		req, err := p.NewAuthorizationCodeRequest(ctx, client, params.Code, params.RedirectURI)
		return req, nil, err
	case oauth2.PasswordCredentials:
		req, err := p.NewPasswordAccessTokenRequest(ctx, client, cc.Supplied(), oauth2.Credentials{
			Username: params.Username,
			Password: params.Password,
		}, params.Scope)
		return req, nil, err
	case oauth2.ClientCredentials:
		return p.NewClientCredentialsRequest(client, params.Scope), nil, nil
	case oauth2.Refreshing:
		req, err := p.NewRefreshTokenRequest(ctx, client, cc.Supplied(), params.RefreshToken, params.Scope)
		return req, nil, err
	}
	return nil, p.errorResponse(errors.ErrUnsupportedGrantType), nil
}

func (p *Provider) errorResponse(err error) *ErrorResponse {
	return NewErrorResponse(err, p.Config.Realm)
}

// authorize runs the shared part of every token request: validations, the
// before hook, issuing and the after hook.
func (p *Provider) authorize(ctx context.Context, req Request, issue func(ctx context.Context) (*models.AccessToken, error)) (Response, error) {
	if v := firstFailure(req.Validations()); v != nil {
		if rd, ok := req.(redeemer); ok && errors.IsReuse(v.Error) {
			p.Tokens.ReportReuse(ctx, rd.reuseEvent(p.Clock.Now()))
		} else {
			log.Debug().Str("grant_type", req.GrantType().String()).Str("validation", v.Name).Msg("token request rejected")
		}
		return p.errorResponse(v.Error), nil
	}
	if fn := p.Hooks.BeforeSuccessfulResponse; fn != nil {
		if err := fn(ctx, req); err != nil {
			if protocolError(err) {
				return p.errorResponse(err), nil
			}
			return nil, err
		}
	}

	tok, err := issue(ctx)
	if err != nil {
		if protocolError(err) {
			return p.errorResponse(err), nil
		}
		return nil, err
	}

	resp := NewTokenResponse(tok, p.Config.TokenType, p.Clock.Now())
	if fn := p.Hooks.AfterSuccessfulResponse; fn != nil {
		fn(ctx, req, resp)
	}
	return resp, nil
}

// AuthorizationCodeRequest exchanges an authorization code for a token
type AuthorizationCodeRequest struct {
	Client      *models.Client
	Code        string
	RedirectURI string

	p     *Provider
	grant *models.Grant
}

// NewAuthorizationCodeRequest create to authorization code request instance
func (p *Provider) NewAuthorizationCodeRequest(ctx context.Context, client *models.Client, code, redirectURI string) (*AuthorizationCodeRequest, error) {
	r := &AuthorizationCodeRequest{Client: client, Code: code, RedirectURI: redirectURI, p: p}
	if code == "" {
		return r, nil
	}
	g, err := p.Store.FindGrant(ctx, code)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, fmt.Errorf("find grant: %w", err)
	}
	r.grant = g
	return r, nil
}

// GrantType implements Request.
func (r *AuthorizationCodeRequest) GrantType() oauth2.GrantType { return oauth2.AuthorizationCode }

// Validations implements Request.
func (r *AuthorizationCodeRequest) Validations() []Validation {
	now := r.p.Clock.Now()
	return []Validation{
		{Name: "attributes", Error: errors.ErrInvalidRequest, Valid: func() bool {
			return r.Code != "" && r.RedirectURI != ""
		}},
		{Name: "client", Error: errors.ErrInvalidClient, Valid: func() bool {
			return r.Client != nil
		}},
		{Name: "grant", Error: errors.ErrInvalidGrant, Valid: func() bool {
			return r.grant != nil && r.grant.ApplicationID == r.Client.ID && !r.grant.Expired(now)
		}},
		{Name: "grant_unused", Error: errors.ErrInvalidGrantReuse, Valid: func() bool {
			return !r.grant.Revoked(now)
		}},
		{Name: "redirect_uri", Error: errors.ErrInvalidGrant, Valid: func() bool {
			return r.grant.RedirectURI == r.RedirectURI
		}},
	}
}

func (r *AuthorizationCodeRequest) reuseEvent(at time.Time) manage.ReuseEvent {
	return manage.ReuseEvent{
		Kind:            manage.ReusedGrant,
		ApplicationID:   r.grant.ApplicationID,
		ResourceOwnerID: r.grant.ResourceOwnerID,
		At:              at,
	}
}

// Authorize implements Request.
func (r *AuthorizationCodeRequest) Authorize(ctx context.Context) (Response, error) {
	return r.p.authorize(ctx, r, func(ctx context.Context) (*models.AccessToken, error) {
		return r.p.Tokens.ExchangeGrant(ctx, r.Code, r.Client)
	})
}

// PasswordAccessTokenRequest issues a token for resource owner credentials
type PasswordAccessTokenRequest struct {
	Client         *models.Client
	ClientSupplied bool
	Scope          string

	p       *Provider
	ownerID string
}

// NewPasswordAccessTokenRequest create to password request instance. The
// resource owner is authenticated here; client may be nil when the caller
// presented no client credentials.
func (p *Provider) NewPasswordAccessTokenRequest(ctx context.Context, client *models.Client, clientSupplied bool, creds oauth2.Credentials, scope string) (*PasswordAccessTokenRequest, error) {
	r := &PasswordAccessTokenRequest{Client: client, ClientSupplied: clientSupplied, Scope: scope, p: p}
	if creds.Username == "" || creds.Password == "" {
		return r, nil
	}
	id, err := p.Owners.Authenticate(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("authenticate resource owner: %w", err)
	}
	r.ownerID = id
	return r, nil
}

// Scopes the requested scopes or the server defaults.
func (r *PasswordAccessTokenRequest) Scopes() scopes.Set {
	return requestedOrDefault(r.Scope, r.p.Config)
}

// GrantType implements Request.
func (r *PasswordAccessTokenRequest) GrantType() oauth2.GrantType { return oauth2.PasswordCredentials }

// Validations implements Request.
func (r *PasswordAccessTokenRequest) Validations() []Validation {
	return []Validation{
		{Name: "client", Error: errors.ErrInvalidClient, Valid: func() bool {
			return r.Client != nil || !r.ClientSupplied
		}},
		{Name: "resource_owner", Error: errors.ErrInvalidGrant, Valid: func() bool {
			return r.ownerID != ""
		}},
		{Name: "scopes", Error: errors.ErrInvalidScope, Valid: func() bool {
			return scopesAllowed(r.Scope, r.Scopes(), r.p.Config.Scopes(), r.Client)
		}},
	}
}

// Authorize implements Request.
func (r *PasswordAccessTokenRequest) Authorize(ctx context.Context) (Response, error) {
	return r.p.authorize(ctx, r, func(ctx context.Context) (*models.AccessToken, error) {
		cfg := r.p.Config
		return r.p.Tokens.FindOrCreateFor(ctx, r.Client, r.ownerID, r.Scopes(), cfg.AccessTokenExpiresIn, cfg.IssuesRefreshToken(oauth2.PasswordCredentials))
	})
}

// ClientCredentialsRequest issues a token to the client itself
type ClientCredentialsRequest struct {
	Client *models.Client
	Scope  string

	p *Provider
}

// NewClientCredentialsRequest create to client credentials request instance
func (p *Provider) NewClientCredentialsRequest(client *models.Client, scope string) *ClientCredentialsRequest {
	return &ClientCredentialsRequest{Client: client, Scope: scope, p: p}
}

// Scopes the requested scopes or the server defaults.
func (r *ClientCredentialsRequest) Scopes() scopes.Set {
	return requestedOrDefault(r.Scope, r.p.Config)
}

// GrantType implements Request.
func (r *ClientCredentialsRequest) GrantType() oauth2.GrantType { return oauth2.ClientCredentials }

// Validations implements Request.
func (r *ClientCredentialsRequest) Validations() []Validation {
	return []Validation{
		// public clients hold no secret to authenticate with
		{Name: "client", Error: errors.ErrInvalidClient, Valid: func() bool {
			return r.Client != nil && r.Client.Confidential
		}},
		{Name: "scopes", Error: errors.ErrInvalidScope, Valid: func() bool {
			return scopesAllowed(r.Scope, r.Scopes(), r.p.Config.Scopes(), r.Client)
		}},
	}
}

// Authorize implements Request.
func (r *ClientCredentialsRequest) Authorize(ctx context.Context) (Response, error) {
	return r.p.authorize(ctx, r, func(ctx context.Context) (*models.AccessToken, error) {
		cfg := r.p.Config
		return r.p.Tokens.FindOrCreateFor(ctx, r.Client, "", r.Scopes(), cfg.AccessTokenExpiresIn, cfg.IssuesRefreshToken(oauth2.ClientCredentials))
	})
}

// RefreshTokenRequest redeems a refresh token
type RefreshTokenRequest struct {
	Client         *models.Client
	ClientSupplied bool
	RefreshToken   string
	Scope          string

	p     *Provider
	token *models.AccessToken
}

// NewRefreshTokenRequest create to refresh token request instance
func (p *Provider) NewRefreshTokenRequest(ctx context.Context, client *models.Client, clientSupplied bool, refresh, scope string) (*RefreshTokenRequest, error) {
	r := &RefreshTokenRequest{Client: client, ClientSupplied: clientSupplied, RefreshToken: refresh, Scope: scope, p: p}
	if refresh == "" {
		return r, nil
	}
	tok, err := p.Store.FindAccessTokenByRefresh(ctx, refresh)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	r.token = tok
	return r, nil
}

// GrantType implements Request.
func (r *RefreshTokenRequest) GrantType() oauth2.GrantType { return oauth2.Refreshing }

// Validations implements Request.
func (r *RefreshTokenRequest) Validations() []Validation {
	now := r.p.Clock.Now()
	rotating := r.p.Config.RevokeRefreshTokenOnUse
	return []Validation{
		{Name: "token_presence", Error: errors.ErrInvalidRequest, Valid: func() bool {
			return r.RefreshToken != ""
		}},
		{Name: "token", Error: errors.ErrInvalidGrant, Valid: func() bool {
			return r.token != nil && (rotating || !r.token.Revoked(now))
		}},
		{Name: "client", Error: errors.ErrInvalidClient, Valid: func() bool {
			return r.Client != nil || !r.ClientSupplied
		}},
		{Name: "client_match", Error: errors.ErrInvalidGrant, Valid: func() bool {
			return r.Client == nil || r.token.ApplicationID == r.Client.ID
		}},
		// a revoked refresh token under rotation has already been redeemed
		{Name: "token_unused", Error: errors.ErrInvalidTokenReuse, Valid: func() bool {
			return !r.token.Revoked(now)
		}},
		{Name: "scope", Error: errors.ErrInvalidScope, Valid: func() bool {
			return scopes.Valid(r.Scope) && scopes.Parse(r.Scope).IsSubsetOf(r.token.Scopes)
		}},
	}
}

func (r *RefreshTokenRequest) reuseEvent(at time.Time) manage.ReuseEvent {
	return manage.ReuseEvent{
		Kind:            manage.ReusedRefreshToken,
		ApplicationID:   r.token.ApplicationID,
		ResourceOwnerID: r.token.ResourceOwnerID,
		At:              at,
	}
}

// Authorize implements Request.
func (r *RefreshTokenRequest) Authorize(ctx context.Context) (Response, error) {
	return r.p.authorize(ctx, r, func(ctx context.Context) (*models.AccessToken, error) {
		return r.p.Tokens.Refresh(ctx, r.token, r.Client, scopes.Parse(r.Scope))
	})
}

func requestedOrDefault(raw string, cfg *oauth2.Config) scopes.Set {
	if sc := scopes.Parse(raw); !sc.IsEmpty() {
		return sc
	}
	return cfg.DefaultScopes
}
