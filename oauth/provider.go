// Package oauth implements the protocol side of the authorization server:
// request validation, the authorization and token flows and the responses
// they produce.
package oauth

import (
	"context"
	"fmt"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/models"
)

// Hooks run around successful token responses. BeforeSuccessfulResponse runs
// once the request is valid and before anything is written to the store; an
// error aborts the request. AfterSuccessfulResponse runs after the token has
// been persisted.
type Hooks struct {
	BeforeSuccessfulResponse func(ctx context.Context, req Request) error
	AfterSuccessfulResponse  func(ctx context.Context, req Request, resp *TokenResponse)
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the time source of the provider and its issuers.
func WithClock(c oauth2.Clock) Option {
	return func(p *Provider) { p.Clock = c }
}

// WithHooks sets the token response hooks.
func WithHooks(h Hooks) Option {
	return func(p *Provider) { p.Hooks = h }
}

// WithIssuerOptions passes options through to the grant and token issuers.
func WithIssuerOptions(opts ...manage.Option) Option {
	return func(p *Provider) { p.issuerOpts = append(p.issuerOpts, opts...) }
}

// NewProvider create to provider instance
func NewProvider(cfg *oauth2.Config, store oauth2.CredentialStore, owners oauth2.ResourceOwnerAuthenticator, opts ...Option) *Provider {
	p := &Provider{
		Config: cfg,
		Store:  store,
		Owners: owners,
		Clock:  oauth2.SystemClock,
	}
	for _, opt := range opts {
		opt(p)
	}

	io := append([]manage.Option{manage.WithClock(p.Clock)}, p.issuerOpts...)
	p.Grants = manage.NewGrantIssuer(cfg, store, io...)
	p.Tokens = manage.NewTokenIssuer(cfg, store, io...)
	return p
}

// Provider bundles the configuration and collaborators every flow needs.
type Provider struct {
	Config *oauth2.Config
	Store  oauth2.CredentialStore
	Owners oauth2.ResourceOwnerAuthenticator
	Clock  oauth2.Clock
	Hooks  Hooks

	Grants *manage.GrantIssuer
	Tokens *manage.TokenIssuer

	issuerOpts []manage.Option
}

// ClientCredentials client credentials as presented by the caller
type ClientCredentials struct {
	UID    string
	Secret string
}

// Supplied reports whether the caller presented any client credentials.
func (cc ClientCredentials) Supplied() bool { return cc.UID != "" }

// AuthenticateClient returns the client identified by cc, or nil when the
// uid is unknown or the secret does not match.
func (p *Provider) AuthenticateClient(ctx context.Context, cc ClientCredentials) (*models.Client, error) {
	if !cc.Supplied() {
		return nil, nil
	}
	c, err := p.Store.FindClientByUID(ctx, cc.UID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	if !c.VerifySecret(cc.Secret) {
		return nil, nil
	}
	return c, nil
}

// FindClient returns the client with the given uid without authenticating
// it, or nil when there is none.
func (p *Provider) FindClient(ctx context.Context, uid string) (*models.Client, error) {
	if uid == "" {
		return nil, nil
	}
	c, err := p.Store.FindClientByUID(ctx, uid)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	return c, nil
}

// protocolError reports whether err is meant for the client rather than an
// infrastructure failure.
func protocolError(err error) bool {
	return errors.WireError(err) != errors.ErrServerError
}
