package manage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// NewTokenIssuer create to token issuer instance
func NewTokenIssuer(cfg *oauth2.Config, store oauth2.CredentialStore, opts ...Option) *TokenIssuer {
	o := newOptions(opts)
	return &TokenIssuer{cfg: cfg, store: store, clock: o.clock, gen: o.accessGen, onReuse: o.onReuse}
}

// TokenIssuer mints, exchanges, refreshes and revokes access tokens
type TokenIssuer struct {
	cfg     *oauth2.Config
	store   oauth2.CredentialStore
	clock   oauth2.Clock
	gen     oauth2.AccessGenerate
	onReuse ReuseHandler
}

// FindOrCreateFor returns a live token of the client and owner with exactly
// the given scopes when the server reuses access tokens, and mints a new one
// otherwise. client may be nil.
func (ti *TokenIssuer) FindOrCreateFor(ctx context.Context, client *models.Client, ownerID string, sc scopes.Set, expiresIn time.Duration, useRefresh bool) (*models.AccessToken, error) {
	return ti.findOrCreate(ctx, ti.store, client, ownerID, sc, expiresIn, useRefresh)
}

// ExchangeGrant consumes the authorization code and issues a token for its
// owner. Revocation of the code and creation of the token happen in one
// transaction; a code that is already consumed fails with
// errors.ErrInvalidGrantReuse.
func (ti *TokenIssuer) ExchangeGrant(ctx context.Context, code string, client *models.Client) (*models.AccessToken, error) {
	var (
		tok   *models.AccessToken
		reuse *ReuseEvent
	)
	err := ti.store.Transact(ctx, func(ctx context.Context, tx oauth2.CredentialStore) error {
		now := ti.clock.Now()
		g, err := tx.LockAndRevokeGrant(ctx, code, now)
		switch {
		case errors.Is(err, errors.ErrAlreadyRevoked):
			reuse = &ReuseEvent{Kind: ReusedGrant, At: now}
			if g != nil {
				reuse.ApplicationID = g.ApplicationID
				reuse.ResourceOwnerID = g.ResourceOwnerID
			}
			return errors.ErrInvalidGrantReuse
		case errors.Is(err, errors.ErrNotFound):
			return errors.ErrInvalidGrant
		case err != nil:
			return fmt.Errorf("lock grant: %w", err)
		}
		if g.ApplicationID != client.ID {
			return errors.ErrInvalidGrant
		}
		tok, err = ti.findOrCreate(ctx, tx, client, g.ResourceOwnerID, g.Scopes, ti.cfg.AccessTokenExpiresIn, ti.cfg.IssuesRefreshToken(oauth2.AuthorizationCode))
		return err
	})
	if reuse != nil {
		ti.ReportReuse(ctx, *reuse)
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Refresh redeems the refresh token of old, which the caller has already
// validated. requested narrows the scopes and defaults to the scopes of old.
//
// With RevokeRefreshTokenOnUse the old token is revoked and a new one is
// created that points back at the old refresh token. Otherwise the same
// record is extended in place with a new access token and expiry. A refresh
// token that was revoked meanwhile fails with errors.ErrInvalidTokenReuse.
func (ti *TokenIssuer) Refresh(ctx context.Context, old *models.AccessToken, client *models.Client, requested scopes.Set) (*models.AccessToken, error) {
	sc := requested
	if sc.IsEmpty() {
		sc = old.Scopes
	}
	if !sc.IsSubsetOf(old.Scopes) {
		return nil, errors.ErrInvalidScope
	}
	if client == nil && old.ApplicationID != "" {
		c, err := ti.store.FindClientByID(ctx, old.ApplicationID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("find client: %w", err)
		}
		client = c
	}

	rotate := ti.cfg.RevokeRefreshTokenOnUse
	var (
		tok   *models.AccessToken
		reuse *ReuseEvent
	)
	err := ti.store.Transact(ctx, func(ctx context.Context, tx oauth2.CredentialStore) error {
		now := ti.clock.Now()
		locked, err := tx.LockAndRotateRefresh(ctx, old.RefreshToken, now, rotate)
		switch {
		case errors.Is(err, errors.ErrAlreadyRevoked):
			reuse = &ReuseEvent{Kind: ReusedRefreshToken, At: now}
			if locked != nil {
				reuse.ApplicationID = locked.ApplicationID
				reuse.ResourceOwnerID = locked.ResourceOwnerID
			}
			return errors.ErrInvalidTokenReuse
		case errors.Is(err, errors.ErrNotFound):
			return errors.ErrInvalidGrant
		case err != nil:
			return fmt.Errorf("lock refresh token: %w", err)
		}
		if !sc.IsSubsetOf(locked.Scopes) {
			return errors.ErrInvalidScope
		}

		if rotate {
			tok, err = ti.mint(ctx, tx, client, locked.ApplicationID, locked.ResourceOwnerID, sc, ti.cfg.AccessTokenExpiresIn, true, locked.RefreshToken)
			return err
		}
		tok, err = ti.extend(ctx, tx, locked, client, sc, now)
		return err
	})
	if reuse != nil {
		ti.ReportReuse(ctx, *reuse)
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Revoke revokes the access or refresh token value. Tokens issued to
// another client are left alone, and unknown values are not an error.
func (ti *TokenIssuer) Revoke(ctx context.Context, value string, client *models.Client) error {
	tok, err := ti.store.FindAccessToken(ctx, value)
	if errors.Is(err, errors.ErrNotFound) {
		tok, err = ti.store.FindAccessTokenByRefresh(ctx, value)
	}
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find token: %w", err)
	}
	if tok.ApplicationID != "" && (client == nil || client.ID != tok.ApplicationID) {
		log.Info().Str("token_id", tok.ID).Msg("revocation by foreign client ignored")
		return nil
	}
	if err := ti.store.RevokeAccessToken(ctx, tok.Token, ti.clock.Now()); err != nil && !errors.Is(err, errors.ErrNotFound) {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (ti *TokenIssuer) findOrCreate(ctx context.Context, st oauth2.CredentialStore, client *models.Client, ownerID string, sc scopes.Set, expiresIn time.Duration, useRefresh bool) (*models.AccessToken, error) {
	appID := ""
	if client != nil {
		appID = client.ID
	}
	if ti.cfg.ReuseAccessToken {
		tok, err := st.MatchingAccessToken(ctx, appID, ownerID, sc)
		switch {
		case err == nil && tok.Accessible(ti.clock.Now()):
			return tok, nil
		case err != nil && !errors.Is(err, errors.ErrNotFound):
			return nil, fmt.Errorf("find matching token: %w", err)
		}
	}
	return ti.mint(ctx, st, client, appID, ownerID, sc, expiresIn, useRefresh, "")
}

func (ti *TokenIssuer) mint(ctx context.Context, st oauth2.CredentialStore, client *models.Client, appID, ownerID string, sc scopes.Set, expiresIn time.Duration, useRefresh bool, previous string) (*models.AccessToken, error) {
	now := ti.clock.Now()
	tok, err := retryOnCollision(ctx, func() (*models.AccessToken, error) {
		access, refresh, err := ti.gen.Token(ctx, &oauth2.GenerateBasic{
			Client:    client,
			UserID:    ownerID,
			Scopes:    sc,
			ExpiresIn: expiresIn,
			CreateAt:  now,
		}, useRefresh)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		t := &models.AccessToken{
			ID:                   uuid.NewString(),
			Token:                access,
			RefreshToken:         refresh,
			ApplicationID:        appID,
			ResourceOwnerID:      ownerID,
			Scopes:               sc,
			ExpiresIn:            int64(expiresIn / time.Second),
			CreatedAt:            now,
			PreviousRefreshToken: previous,
		}
		if err := st.CreateAccessToken(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create access token: %w", err)
	}
	return tok, nil
}

func (ti *TokenIssuer) extend(ctx context.Context, st oauth2.CredentialStore, tok *models.AccessToken, client *models.Client, sc scopes.Set, now time.Time) (*models.AccessToken, error) {
	expiresIn := ti.cfg.AccessTokenExpiresIn
	return retryOnCollision(ctx, func() (*models.AccessToken, error) {
		access, _, err := ti.gen.Token(ctx, &oauth2.GenerateBasic{
			Client:    client,
			UserID:    tok.ResourceOwnerID,
			Scopes:    sc,
			ExpiresIn: expiresIn,
			CreateAt:  now,
		}, false)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		next := tok.Clone()
		next.Token = access
		next.Scopes = sc
		next.CreatedAt = now
		next.ExpiresIn = int64(expiresIn / time.Second)
		if err := st.UpdateAccessToken(ctx, next); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// ReportReuse logs a replayed credential and hands it to the reuse handler.
// Callers that reject a replay before reaching ExchangeGrant or Refresh use
// it to report the same event.
func (ti *TokenIssuer) ReportReuse(ctx context.Context, ev ReuseEvent) {
	log.Warn().
		Str("kind", string(ev.Kind)).
		Str("application_id", ev.ApplicationID).
		Str("resource_owner_id", ev.ResourceOwnerID).
		Msg("credential reuse detected")
	if ti.onReuse != nil {
		ti.onReuse(ctx, ev)
	}
}
