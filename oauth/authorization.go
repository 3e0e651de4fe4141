package oauth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
)

// Authorization the resource owner's decision on a pre-authorization
type Authorization struct {
	p       *Provider
	pre     *PreAuthorization
	ownerID string
}

// Authorization create to authorization instance for the resource owner
func (p *Provider) Authorization(pre *PreAuthorization, ownerID string) *Authorization {
	return &Authorization{p: p, pre: pre, ownerID: ownerID}
}

// Issue grants the request. The code flow persists a grant and redirects
// with the code; the implicit flow mints an access token without refresh
// token and redirects with it in the fragment. A request that is not
// authorizable gets its error response and nothing is written.
func (a *Authorization) Issue(ctx context.Context) (Response, error) {
	pre := a.pre
	if !pre.Authorizable() {
		return pre.ErrorResponse(), nil
	}

	resp := &CodeResponse{
		TokenType:   a.p.Config.TokenType,
		State:       pre.State,
		redirectURI: pre.RedirectURI,
		nativeURI:   a.p.Config.NativeRedirectURI,
		now:         a.p.Clock.Now(),
	}
	switch pre.ResponseType {
	case oauth2.Code:
		g, err := a.p.Grants.Issue(ctx, pre.Client, a.ownerID, pre.Scopes(), pre.RedirectURI)
		if err != nil {
			return nil, err
		}
		resp.Grant = g
	case oauth2.Token:
		cfg := a.p.Config
		tok, err := a.p.Tokens.FindOrCreateFor(ctx, pre.Client, a.ownerID, pre.Scopes(), cfg.AccessTokenExpiresIn, cfg.IssuesRefreshToken(oauth2.Implicit))
		if err != nil {
			return nil, err
		}
		resp.Token = tok
	}
	return resp, nil
}

// Deny refuses the request. The error response goes back to the redirect
// URI when it is redirectable; nothing is written.
func (a *Authorization) Deny() *ErrorResponse {
	if !a.pre.Authorizable() {
		return a.pre.ErrorResponse()
	}
	log.Debug().Str("client_uid", a.pre.Client.UID).Str("resource_owner_id", a.ownerID).Msg("authorization denied")
	return a.pre.errorResponse(errors.ErrAccessDenied)
}
