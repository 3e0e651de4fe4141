package manage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// NewGrantIssuer create to grant issuer instance
func NewGrantIssuer(cfg *oauth2.Config, store oauth2.CredentialStore, opts ...Option) *GrantIssuer {
	o := newOptions(opts)
	return &GrantIssuer{cfg: cfg, store: store, clock: o.clock, gen: o.authorizeGen}
}

// GrantIssuer issues authorization codes
type GrantIssuer struct {
	cfg   *oauth2.Config
	store oauth2.CredentialStore
	clock oauth2.Clock
	gen   oauth2.AuthorizeGenerate
}

// Issue persists a new authorization code for client and owner. The caller
// has already validated the authorization request.
func (gi *GrantIssuer) Issue(ctx context.Context, client *models.Client, ownerID string, sc scopes.Set, redirectURI string) (*models.Grant, error) {
	now := gi.clock.Now()
	g, err := retryOnCollision(ctx, func() (*models.Grant, error) {
		code, err := gi.gen.Token(ctx, &oauth2.GenerateBasic{
			Client:    client,
			UserID:    ownerID,
			Scopes:    sc,
			ExpiresIn: gi.cfg.AuthorizationCodeExpiresIn,
			CreateAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("generate authorization code: %w", err)
		}
		g := &models.Grant{
			ID:              uuid.NewString(),
			Token:           code,
			ApplicationID:   client.ID,
			ResourceOwnerID: ownerID,
			Scopes:          sc,
			RedirectURI:     redirectURI,
			ExpiresAt:       now.Add(gi.cfg.AuthorizationCodeExpiresIn),
			CreatedAt:       now,
		}
		if err := gi.store.CreateGrant(ctx, g); err != nil {
			return nil, err
		}
		return g, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}
	log.Debug().Str("client_uid", client.UID).Str("resource_owner_id", ownerID).Msg("authorization code issued")
	return g, nil
}
