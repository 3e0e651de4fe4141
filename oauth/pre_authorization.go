package oauth

import (
	"context"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// AuthorizationParams the parameters of an authorization request
type AuthorizationParams struct {
	ClientID     string `form:"client_id"`
	ResponseType string `form:"response_type"`
	RedirectURI  string `form:"redirect_uri"`
	Scope        string `form:"scope"`
	State        string `form:"state"`
}

// NewPreAuthorization create to pre-authorization instance. client is nil
// when the request names an unknown client.
func NewPreAuthorization(cfg *oauth2.Config, client *models.Client, params AuthorizationParams) *PreAuthorization {
	pa := &PreAuthorization{
		cfg:         cfg,
		Client:      client,
		RedirectURI: params.RedirectURI,
		State:       params.State,
		rawScope:    params.Scope,
	}
	pa.ResponseType, _ = oauth2.ParseResponseType(params.ResponseType)
	return pa
}

// PreAuthorize resolves the client named by params and validates the
// request before the resource owner is asked for consent.
func (p *Provider) PreAuthorize(ctx context.Context, params AuthorizationParams) (*PreAuthorization, error) {
	client, err := p.FindClient(ctx, params.ClientID)
	if err != nil {
		return nil, err
	}
	return NewPreAuthorization(p.Config, client, params), nil
}

// PreAuthorization a validated authorization request awaiting the resource
// owner's decision
type PreAuthorization struct {
	Client       *models.Client
	ResponseType oauth2.ResponseType // "" when unsupported
	RedirectURI  string
	State        string

	cfg      *oauth2.Config
	rawScope string
	failed   *Validation
	checked  bool
}

// Scopes the requested scopes, or the server's default scopes when none
// were requested.
func (pa *PreAuthorization) Scopes() scopes.Set {
	if sc := scopes.Parse(pa.rawScope); !sc.IsEmpty() {
		return sc
	}
	return pa.cfg.DefaultScopes
}

// Validations the checks of the request in the order they are evaluated.
func (pa *PreAuthorization) Validations() []Validation {
	return []Validation{
		{Name: "response_type", Error: errors.ErrUnsupportedResponseType, Valid: func() bool {
			return pa.ResponseType != "" && pa.cfg.AllowsResponseType(pa.ResponseType)
		}},
		{Name: "client", Error: errors.ErrInvalidClient, Valid: func() bool {
			return pa.Client != nil
		}},
		{Name: "scopes", Error: errors.ErrInvalidScope, Valid: func() bool {
			return scopesAllowed(pa.rawScope, pa.Scopes(), pa.cfg.Scopes(), pa.Client)
		}},
		{Name: "redirect_uri", Error: errors.ErrInvalidRedirectURI, Valid: pa.redirectValid},
	}
}

func (pa *PreAuthorization) redirectValid() bool {
	return pa.RedirectURI != "" && pa.Client != nil && pa.Client.HasRedirectURI(pa.RedirectURI)
}

func (pa *PreAuthorization) validate() *Validation {
	if !pa.checked {
		pa.failed = firstFailure(pa.Validations())
		pa.checked = true
	}
	return pa.failed
}

// Authorizable reports whether every validation passed.
func (pa *PreAuthorization) Authorizable() bool { return pa.validate() == nil }

// Error the error of the first failing validation, or nil.
func (pa *PreAuthorization) Error() error {
	if v := pa.validate(); v != nil {
		return v.Error
	}
	return nil
}

// ErrorResponse the error response of the first failing validation, or nil
// when the request is authorizable.
func (pa *PreAuthorization) ErrorResponse() *ErrorResponse {
	err := pa.Error()
	if err == nil {
		return nil
	}
	return pa.errorResponse(err)
}

func (pa *PreAuthorization) errorResponse(err error) *ErrorResponse {
	r := NewErrorResponse(err, pa.cfg.Realm)
	r.State = pa.State
	r.NativeURI = pa.cfg.NativeRedirectURI
	r.Fragment = pa.ResponseType == oauth2.Token
	if pa.redirectValid() {
		r.RedirectURI = pa.RedirectURI
	}
	return r
}

// scopesAllowed reports whether raw is well formed and sc lies within the
// server scopes, narrowed to the client's scopes when it has any. A blank
// request is always allowed.
func scopesAllowed(raw string, sc, server scopes.Set, client *models.Client) bool {
	if !scopes.Valid(raw) {
		return false
	}
	if sc.IsEmpty() {
		return true
	}
	allowed := server
	if client != nil && !client.Scopes.IsEmpty() {
		allowed = server.Intersect(client.Scopes)
	}
	return sc.IsSubsetOf(allowed)
}
