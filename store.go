package oauth2

import (
	"context"
	"time"

	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

type (
	// ClientStore the client information storage interface
	ClientStore interface {
		// FindClientByUID looks a client up by its public identifier.
		// Returns errors.ErrNotFound when no client matches.
		FindClientByUID(ctx context.Context, uid string) (*models.Client, error)
		// FindClientByID looks a client up by its primary key.
		FindClientByID(ctx context.Context, id string) (*models.Client, error)
	}

	// ClientRegistry a client store that can register and remove clients
	ClientRegistry interface {
		ClientStore
		CreateClient(ctx context.Context, c *models.Client) error
		DeleteClient(ctx context.Context, uid string) error
	}

	// CredentialStore the storage interface for clients, grants and tokens.
	//
	// Lookups return errors.ErrNotFound for missing rows. Creates return
	// errors.ErrDuplicateToken when a code, token or refresh token value is
	// already taken. Returned models are copies; mutate them through the
	// store.
	CredentialStore interface {
		ClientStore

		// Transact runs fn against a transactional view of the store. The
		// writes of fn are discarded when it returns an error, unless the
		// implementation documents otherwise. Calling Transact on the view
		// runs fn in the same transaction.
		Transact(ctx context.Context, fn func(ctx context.Context, tx CredentialStore) error) error

		CreateGrant(ctx context.Context, g *models.Grant) error
		FindGrant(ctx context.Context, code string) (*models.Grant, error)
		// LockAndRevokeGrant locks the grant row, checks that it is not yet
		// revoked and marks it revoked at the given time. Exactly one of any
		// number of concurrent callers succeeds; the rest get
		// errors.ErrAlreadyRevoked.
		LockAndRevokeGrant(ctx context.Context, code string, at time.Time) (*models.Grant, error)

		CreateAccessToken(ctx context.Context, t *models.AccessToken) error
		FindAccessToken(ctx context.Context, token string) (*models.AccessToken, error)
		FindAccessTokenByRefresh(ctx context.Context, refresh string) (*models.AccessToken, error)
		// MatchingAccessToken returns the most recently created non-revoked
		// token of the client and owner whose scopes equal sc. Expired
		// tokens are returned too; callers check accessibility.
		MatchingAccessToken(ctx context.Context, appID, ownerID string, sc scopes.Set) (*models.AccessToken, error)
		// LockAndRotateRefresh locks the token holding refresh and checks
		// that it is not revoked. When revoke is set the token is revoked at
		// the given time, with the same exactly-once guarantee as
		// LockAndRevokeGrant.
		LockAndRotateRefresh(ctx context.Context, refresh string, at time.Time, revoke bool) (*models.AccessToken, error)
		// UpdateAccessToken overwrites the token's value, refresh token,
		// scopes, lifetime and creation time, keyed by ID.
		UpdateAccessToken(ctx context.Context, t *models.AccessToken) error
		// RevokeAccessToken revokes a token by its access token value. It
		// is a no-op for tokens that are already revoked.
		RevokeAccessToken(ctx context.Context, token string, at time.Time) error
		// RevokeAllFor revokes every live grant and token of the client and
		// resource owner.
		RevokeAllFor(ctx context.Context, appID, ownerID string, at time.Time) error
	}
)
