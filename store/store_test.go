package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	valkey "github.com/valkey-io/valkey-go"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newGrant(appID, ownerID string) *models.Grant {
	return &models.Grant{
		ID:              uuid.NewString(),
		Token:           uuid.NewString(),
		ApplicationID:   appID,
		ResourceOwnerID: ownerID,
		Scopes:          scopes.Parse("read"),
		RedirectURI:     "https://app.example/cb",
		ExpiresAt:       base.Add(10 * time.Minute),
		CreatedAt:       base,
	}
}

func newToken(appID, ownerID string, sc string, createdAt time.Time, withRefresh bool) *models.AccessToken {
	t := &models.AccessToken{
		ID:              uuid.NewString(),
		Token:           uuid.NewString(),
		ApplicationID:   appID,
		ResourceOwnerID: ownerID,
		Scopes:          scopes.Parse(sc),
		ExpiresIn:       7200,
		CreatedAt:       createdAt,
	}
	if withRefresh {
		t.RefreshToken = uuid.NewString()
	}
	return t
}

// testCredentialStore runs the behaviour every CredentialStore shares.
func testCredentialStore(t *testing.T, name string, s oauth2.CredentialStore, rollsBack bool) {
	ctx := context.Background()

	Convey(name+" clients", t, func() {
		reg, ok := s.(oauth2.ClientRegistry)
		So(ok, ShouldBeTrue)

		c, _, err := models.NewClient("app", []string{"https://app.example/cb"}, scopes.Parse("read write"), true)
		So(err, ShouldBeNil)
		So(reg.CreateClient(ctx, c), ShouldBeNil)
		So(errors.Is(reg.CreateClient(ctx, c), errors.ErrDuplicateToken), ShouldBeTrue)

		got, err := s.FindClientByUID(ctx, c.UID)
		So(err, ShouldBeNil)
		So(got.ID, ShouldEqual, c.ID)
		So(got.Scopes.Equal(c.Scopes), ShouldBeTrue)
		So(got.HasRedirectURI("https://app.example/cb"), ShouldBeTrue)

		got, err = s.FindClientByID(ctx, c.ID)
		So(err, ShouldBeNil)
		So(got.UID, ShouldEqual, c.UID)

		_, err = s.FindClientByUID(ctx, "missing")
		So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)

		So(reg.DeleteClient(ctx, c.UID), ShouldBeNil)
		_, err = s.FindClientByUID(ctx, c.UID)
		So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)
		So(errors.Is(reg.DeleteClient(ctx, c.UID), errors.ErrNotFound), ShouldBeTrue)
	})

	Convey(name+" grants", t, func() {
		g := newGrant(uuid.NewString(), "owner-1")
		So(s.CreateGrant(ctx, g), ShouldBeNil)
		So(errors.Is(s.CreateGrant(ctx, g), errors.ErrDuplicateToken), ShouldBeTrue)

		found, err := s.FindGrant(ctx, g.Token)
		So(err, ShouldBeNil)
		So(found.RedirectURI, ShouldEqual, g.RedirectURI)
		So(found.RevokedAt, ShouldBeNil)

		Convey("revoked exactly once", func() {
			revoked, err := s.LockAndRevokeGrant(ctx, g.Token, base.Add(time.Minute))
			So(err, ShouldBeNil)
			So(revoked.RevokedAt, ShouldNotBeNil)

			again, err := s.LockAndRevokeGrant(ctx, g.Token, base.Add(2*time.Minute))
			So(errors.Is(err, errors.ErrAlreadyRevoked), ShouldBeTrue)
			So(again.RevokedAt.Equal(base.Add(time.Minute)), ShouldBeTrue)

			_, err = s.LockAndRevokeGrant(ctx, "missing", base)
			So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)
		})

		Convey("concurrent redemption lets one through", func() {
			g := newGrant(uuid.NewString(), "owner-2")
			So(s.CreateGrant(ctx, g), ShouldBeNil)

			var wins, reuses int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.LockAndRevokeGrant(ctx, g.Token, base)
					switch {
					case err == nil:
						atomic.AddInt32(&wins, 1)
					case errors.Is(err, errors.ErrAlreadyRevoked):
						atomic.AddInt32(&reuses, 1)
					}
				}()
			}
			wg.Wait()
			So(wins, ShouldEqual, 1)
			So(reuses, ShouldEqual, 7)
		})
	})

	Convey(name+" access tokens", t, func() {
		appID := uuid.NewString()
		tok := newToken(appID, "owner-1", "read", base, true)
		So(s.CreateAccessToken(ctx, tok), ShouldBeNil)

		dup := newToken(appID, "owner-1", "read", base, false)
		dup.RefreshToken = tok.RefreshToken
		So(errors.Is(s.CreateAccessToken(ctx, dup), errors.ErrDuplicateToken), ShouldBeTrue)

		found, err := s.FindAccessToken(ctx, tok.Token)
		So(err, ShouldBeNil)
		So(found.RefreshToken, ShouldEqual, tok.RefreshToken)
		So(found.Scopes.String(), ShouldEqual, "read")

		found, err = s.FindAccessTokenByRefresh(ctx, tok.RefreshToken)
		So(err, ShouldBeNil)
		So(found.Token, ShouldEqual, tok.Token)

		_, err = s.FindAccessTokenByRefresh(ctx, "")
		So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)

		Convey("matching token is the latest live one with equal scopes", func() {
			newer := newToken(appID, "owner-1", "read", base.Add(time.Minute), false)
			So(s.CreateAccessToken(ctx, newer), ShouldBeNil)
			wider := newToken(appID, "owner-1", "read write", base.Add(2*time.Minute), false)
			So(s.CreateAccessToken(ctx, wider), ShouldBeNil)

			m, err := s.MatchingAccessToken(ctx, appID, "owner-1", scopes.Parse("read"))
			So(err, ShouldBeNil)
			So(m.Token, ShouldEqual, newer.Token)

			m, err = s.MatchingAccessToken(ctx, appID, "owner-1", scopes.Parse("write read"))
			So(err, ShouldBeNil)
			So(m.Token, ShouldEqual, wider.Token)

			So(s.RevokeAccessToken(ctx, newer.Token, base), ShouldBeNil)
			m, err = s.MatchingAccessToken(ctx, appID, "owner-1", scopes.Parse("read"))
			So(err, ShouldBeNil)
			So(m.Token, ShouldEqual, tok.Token)

			_, err = s.MatchingAccessToken(ctx, appID, "owner-2", scopes.Parse("read"))
			So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)
		})

		Convey("public tokens match with an empty application", func() {
			pub := newToken("", "owner-9", "read", base, false)
			So(s.CreateAccessToken(ctx, pub), ShouldBeNil)
			m, err := s.MatchingAccessToken(ctx, "", "owner-9", scopes.Parse("read"))
			So(err, ShouldBeNil)
			So(m.Token, ShouldEqual, pub.Token)
		})

		Convey("rotation revokes exactly once", func() {
			var wins, reuses int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.LockAndRotateRefresh(ctx, tok.RefreshToken, base, true)
					switch {
					case err == nil:
						atomic.AddInt32(&wins, 1)
					case errors.Is(err, errors.ErrAlreadyRevoked):
						atomic.AddInt32(&reuses, 1)
					}
				}()
			}
			wg.Wait()
			So(wins, ShouldEqual, 1)
			So(reuses, ShouldEqual, 7)

			found, err := s.FindAccessToken(ctx, tok.Token)
			So(err, ShouldBeNil)
			So(found.RevokedAt, ShouldNotBeNil)
		})

		Convey("locking without revoking leaves the token live", func() {
			locked, err := s.LockAndRotateRefresh(ctx, tok.RefreshToken, base, false)
			So(err, ShouldBeNil)
			So(locked.RevokedAt, ShouldBeNil)
			locked, err = s.LockAndRotateRefresh(ctx, tok.RefreshToken, base, false)
			So(err, ShouldBeNil)
			So(locked.Token, ShouldEqual, tok.Token)
		})

		Convey("update replaces the access token in place", func() {
			next := tok.Clone()
			next.Token = uuid.NewString()
			next.Scopes = scopes.Set{}
			next.CreatedAt = base.Add(time.Hour)
			So(s.UpdateAccessToken(ctx, next), ShouldBeNil)

			_, err := s.FindAccessToken(ctx, tok.Token)
			So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)

			found, err := s.FindAccessTokenByRefresh(ctx, tok.RefreshToken)
			So(err, ShouldBeNil)
			So(found.Token, ShouldEqual, next.Token)
			So(found.ID, ShouldEqual, tok.ID)
			So(found.Scopes.IsEmpty(), ShouldBeTrue)
			So(found.CreatedAt.Equal(base.Add(time.Hour)), ShouldBeTrue)

			missing := next.Clone()
			missing.ID = uuid.NewString()
			So(errors.Is(s.UpdateAccessToken(ctx, missing), errors.ErrNotFound), ShouldBeTrue)
		})

		Convey("revocation is idempotent", func() {
			So(s.RevokeAccessToken(ctx, tok.Token, base.Add(time.Minute)), ShouldBeNil)
			So(s.RevokeAccessToken(ctx, tok.Token, base.Add(time.Hour)), ShouldBeNil)
			found, err := s.FindAccessToken(ctx, tok.Token)
			So(err, ShouldBeNil)
			So(found.RevokedAt.Equal(base.Add(time.Minute)), ShouldBeTrue)
			So(errors.Is(s.RevokeAccessToken(ctx, "missing", base), errors.ErrNotFound), ShouldBeTrue)
		})

		Convey("revoke all for a client and owner", func() {
			g := newGrant(appID, "owner-1")
			So(s.CreateGrant(ctx, g), ShouldBeNil)
			other := newToken(appID, "owner-3", "read", base, false)
			So(s.CreateAccessToken(ctx, other), ShouldBeNil)

			So(s.RevokeAllFor(ctx, appID, "owner-1", base.Add(time.Minute)), ShouldBeNil)

			found, err := s.FindAccessToken(ctx, tok.Token)
			So(err, ShouldBeNil)
			So(found.RevokedAt, ShouldNotBeNil)
			fg, err := s.FindGrant(ctx, g.Token)
			So(err, ShouldBeNil)
			So(fg.RevokedAt, ShouldNotBeNil)
			fo, err := s.FindAccessToken(ctx, other.Token)
			So(err, ShouldBeNil)
			So(fo.RevokedAt, ShouldBeNil)
		})

		Convey("owner ids are matched literally", func() {
			wild := newToken(appID, "owner*", "write", base, false)
			plain := newToken(appID, "a", "write", base, false)
			piped := newToken(appID, "a|b", "write", base.Add(time.Minute), false)
			for _, x := range []*models.AccessToken{wild, plain, piped} {
				So(s.CreateAccessToken(ctx, x), ShouldBeNil)
			}

			m, err := s.MatchingAccessToken(ctx, appID, "a", scopes.Parse("write"))
			So(err, ShouldBeNil)
			So(m.Token, ShouldEqual, plain.Token)

			So(s.RevokeAllFor(ctx, appID, "owner*", base.Add(time.Minute)), ShouldBeNil)
			So(s.RevokeAllFor(ctx, appID, "a", base.Add(time.Minute)), ShouldBeNil)

			found, err := s.FindAccessToken(ctx, tok.Token)
			So(err, ShouldBeNil)
			So(found.RevokedAt, ShouldBeNil)
			found, err = s.FindAccessToken(ctx, piped.Token)
			So(err, ShouldBeNil)
			So(found.RevokedAt, ShouldBeNil)
			found, err = s.FindAccessToken(ctx, wild.Token)
			So(err, ShouldBeNil)
			So(found.RevokedAt, ShouldNotBeNil)
		})
	})

	if !rollsBack {
		return
	}
	Convey(name+" transactions roll back", t, func() {
		g := newGrant(uuid.NewString(), "owner-1")
		So(s.CreateGrant(ctx, g), ShouldBeNil)
		tok := newToken(g.ApplicationID, "owner-1", "read", base, true)

		boom := errors.New("boom")
		err := s.Transact(ctx, func(ctx context.Context, tx oauth2.CredentialStore) error {
			if _, err := tx.LockAndRevokeGrant(ctx, g.Token, base); err != nil {
				return err
			}
			if err := tx.CreateAccessToken(ctx, tok); err != nil {
				return err
			}
			return boom
		})
		So(err, ShouldEqual, boom)

		found, err := s.FindGrant(ctx, g.Token)
		So(err, ShouldBeNil)
		So(found.RevokedAt, ShouldBeNil)
		_, err = s.FindAccessToken(ctx, tok.Token)
		So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)
		_, err = s.FindAccessTokenByRefresh(ctx, tok.RefreshToken)
		So(errors.Is(err, errors.ErrNotFound), ShouldBeTrue)

		err = s.Transact(ctx, func(ctx context.Context, tx oauth2.CredentialStore) error {
			return tx.Transact(ctx, func(ctx context.Context, tx oauth2.CredentialStore) error {
				_, err := tx.LockAndRevokeGrant(ctx, g.Token, base)
				return err
			})
		})
		So(err, ShouldBeNil)
		found, err = s.FindGrant(ctx, g.Token)
		So(err, ShouldBeNil)
		So(found.RevokedAt, ShouldNotBeNil)
	})
}

func TestMemoryStore(t *testing.T) {
	testCredentialStore(t, "memory", NewMemoryStore(), true)
}

func TestBuntStore(t *testing.T) {
	s, err := NewBuntStore(":memory:")
	if err != nil {
		t.Fatalf("open buntdb: %v", err)
	}
	defer s.Close()
	testCredentialStore(t, "buntdb", s, true)
}

func TestValkeyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cli, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{mr.Addr()},
		DisableCache:      true,
		ForceSingleClient: true,
	})
	if err != nil {
		t.Fatalf("valkey client: %v", err)
	}
	s := NewValkeyStoreWithClient(cli, "test:")
	defer s.Close()
	testCredentialStore(t, "valkey", s, false)
}

func TestDBStore(t *testing.T) {
	if testDSN == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	db, err := OpenDB(testDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec(`TRUNCATE oauth_access_tokens, oauth_access_grants, oauth_applications`).Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	testCredentialStore(t, "postgres", NewDBStore(db), true)
}
