// Package seed registers the clients and resource owners named in the
// configuration.
package seed

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/config"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
	"github.com/legit-games/oauth2/store"
)

// Registered a configured client. Secret holds the plaintext secret only
// when it was generated here.
type Registered struct {
	Client  *models.Client
	Secret  string
	Created bool
}

// Clients registers every configured client whose uid is not taken yet.
// Clients without a uid get a generated one and are always created.
func Clients(ctx context.Context, reg oauth2.ClientRegistry, nativeURI string, list []config.ClientSettings) ([]Registered, error) {
	out := make([]Registered, 0, len(list))
	for _, cs := range list {
		if cs.UID != "" {
			c, err := reg.FindClientByUID(ctx, cs.UID)
			if err == nil {
				out = append(out, Registered{Client: c})
				continue
			}
			if !errors.Is(err, errors.ErrNotFound) {
				return nil, fmt.Errorf("find client %s: %w", cs.UID, err)
			}
		}

		confidential := cs.Confidential == nil || *cs.Confidential
		c, secret, err := models.NewClient(cs.Name, cs.RedirectURIs, scopes.Parse(cs.Scopes), confidential)
		if err != nil {
			return nil, err
		}
		if cs.UID != "" {
			c.UID = cs.UID
		}
		if cs.Secret != "" && confidential {
			if err := c.SetSecret(cs.Secret); err != nil {
				return nil, err
			}
			secret = ""
		}
		if err := c.Validate(nativeURI); err != nil {
			return nil, fmt.Errorf("client %q: %w", cs.Name, err)
		}
		if err := reg.CreateClient(ctx, c); err != nil {
			return nil, fmt.Errorf("create client %q: %w", cs.Name, err)
		}
		log.Info().Str("name", c.Name).Str("uid", c.UID).Msg("client registered")
		out = append(out, Registered{Client: c, Secret: secret, Created: true})
	}
	return out, nil
}

// Owners loads the configured resource owners.
func Owners(owners *store.OwnerStore, list []config.OwnerSettings) error {
	for _, o := range list {
		if o.Username == "" || o.ID == "" {
			return fmt.Errorf("owner needs username and id")
		}
		var err error
		if o.PasswordHash != "" {
			err = owners.SetHash(o.Username, o.ID, []byte(o.PasswordHash))
		} else {
			err = owners.Set(o.Username, o.ID, o.Password)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
