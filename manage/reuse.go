package manage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
)

// ReuseKind what was replayed
type ReuseKind string

// replayable credentials
const (
	ReusedGrant        ReuseKind = "authorization_code"
	ReusedRefreshToken ReuseKind = "refresh_token"
)

// ReuseEvent describes a replayed authorization code or refresh token.
// ApplicationID and ResourceOwnerID identify the credential's holder.
type ReuseEvent struct {
	Kind            ReuseKind
	ApplicationID   string
	ResourceOwnerID string
	At              time.Time
}

// ReuseHandler reacts to a replayed credential. It runs after the failed
// transaction has ended.
type ReuseHandler func(ctx context.Context, ev ReuseEvent)

// RevokeAllOnReuse returns a handler that revokes every grant and token the
// client holds for the resource owner.
func RevokeAllOnReuse(store oauth2.CredentialStore) ReuseHandler {
	return func(ctx context.Context, ev ReuseEvent) {
		if ev.ResourceOwnerID == "" && ev.ApplicationID == "" {
			return
		}
		if err := store.RevokeAllFor(ctx, ev.ApplicationID, ev.ResourceOwnerID, ev.At); err != nil {
			log.Error().Err(err).
				Str("application_id", ev.ApplicationID).
				Str("resource_owner_id", ev.ResourceOwnerID).
				Msg("revoke credentials after reuse")
		}
	}
}
