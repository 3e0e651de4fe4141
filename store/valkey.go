package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// casTries attempts at a WATCH/MULTI/EXEC update before giving up
const casTries = 16

var errCASConflict = errors.New("valkey: concurrent update")

// ValkeyStore stores clients, grants and tokens in Valkey (Redis-compatible).
//
// Revocations are optimistic compare-and-set updates under WATCH, so a code
// or refresh token is still redeemed exactly once. Transact does not roll
// back: the writes of a failed transaction stay visible.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore creates a Valkey-backed credential store.
// addr example: "127.0.0.1:6379"; prefix helps namespace keys.
func NewValkeyStore(addr string, prefix string) (*ValkeyStore, error) {
	cli, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		DisableCache: true,
	})
	if err != nil {
		return nil, err
	}
	return NewValkeyStoreWithClient(cli, prefix), nil
}

// NewValkeyStoreWithClient wraps an existing client.
func NewValkeyStoreWithClient(cli valkey.Client, prefix string) *ValkeyStore {
	if prefix == "" {
		prefix = "oauth2:"
	}
	return &ValkeyStore{client: cli, prefix: prefix}
}

// Close closes the client.
func (s *ValkeyStore) Close() { s.client.Close() }

func (s *ValkeyStore) key(k string) string { return s.prefix + k }

// tokenHash returns a stable hex sha256 for a token string.
func tokenHash(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func (s *ValkeyStore) clientKey(uid string) string { return s.key("client:" + uid) }
func (s *ValkeyStore) clientIDKey(id string) string { return s.key("clientid:" + id) }
func (s *ValkeyStore) grantKey(code string) string { return s.key("grant:" + tokenHash(code)) }
func (s *ValkeyStore) tokenKey(access string) string { return s.key("token:" + tokenHash(access)) }
func (s *ValkeyStore) tokenIDKey(id string) string { return s.key("tokenid:" + id) }
func (s *ValkeyStore) refreshKey(r string) string { return s.key("refresh:" + tokenHash(r)) }
func (s *ValkeyStore) grantCredKey(appID, ownerID string) string {
	return s.key("gcred:" + appID + "|" + ownerID)
}
func (s *ValkeyStore) tokenCredKey(appID, ownerID string) string {
	return s.key("tcred:" + appID + "|" + ownerID)
}

// get reads a string value; missing keys are errors.ErrNotFound
func (s *ValkeyStore) get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", errors.ErrNotFound
	}
	return v, err
}

func (s *ValkeyStore) getJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// setNX stores value unless key exists, reporting errors.ErrDuplicateToken
func (s *ValkeyStore) setNX(ctx context.Context, key, value string) error {
	err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Nx().Build()).Error()
	if valkey.IsValkeyNil(err) {
		return errors.ErrDuplicateToken
	}
	return err
}

func (s *ValkeyStore) del(ctx context.Context, keys ...string) error {
	return s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error()
}

// compareAndSet rewrites key with the result of fn under WATCH. fn returns
// write=false to leave the value untouched.
func (s *ValkeyStore) compareAndSet(ctx context.Context, key string, fn func(cur string) (next string, write bool, err error)) error {
	for i := 0; i < casTries; i++ {
		err := s.client.Dedicated(func(c valkey.DedicatedClient) error {
			if err := c.Do(ctx, c.B().Watch().Key(key).Build()).Error(); err != nil {
				return err
			}
			cur, err := c.Do(ctx, c.B().Get().Key(key).Build()).ToString()
			if err != nil {
				c.Do(ctx, c.B().Unwatch().Build())
				if valkey.IsValkeyNil(err) {
					return errors.ErrNotFound
				}
				return err
			}
			next, write, err := fn(cur)
			if err != nil || !write {
				c.Do(ctx, c.B().Unwatch().Build())
				return err
			}
			resps := c.DoMulti(ctx,
				c.B().Multi().Build(),
				c.B().Set().Key(key).Value(next).Build(),
				c.B().Exec().Build(),
			)
			if err := resps[len(resps)-1].Error(); err != nil {
				if valkey.IsValkeyNil(err) {
					return errCASConflict
				}
				return err
			}
			return nil
		})
		if err != errCASConflict {
			return err
		}
	}
	return fmt.Errorf("update %s: %w", key, errCASConflict)
}

// Transact implements oauth2.CredentialStore. fn runs directly against the
// store.
func (s *ValkeyStore) Transact(ctx context.Context, fn func(ctx context.Context, tx oauth2.CredentialStore) error) error {
	return fn(ctx, s)
}

// CreateClient registers a client.
func (s *ValkeyStore) CreateClient(ctx context.Context, c *models.Client) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.setNX(ctx, s.clientKey(c.UID), string(b)); err != nil {
		return err
	}
	return s.client.Do(ctx, s.client.B().Set().Key(s.clientIDKey(c.ID)).Value(c.UID).Build()).Error()
}

// DeleteClient removes a client by uid.
func (s *ValkeyStore) DeleteClient(ctx context.Context, uid string) error {
	var c models.Client
	if err := s.getJSON(ctx, s.clientKey(uid), &c); err != nil {
		return err
	}
	return s.del(ctx, s.clientKey(uid), s.clientIDKey(c.ID))
}

// FindClientByUID implements oauth2.ClientStore.
func (s *ValkeyStore) FindClientByUID(ctx context.Context, uid string) (*models.Client, error) {
	var c models.Client
	if err := s.getJSON(ctx, s.clientKey(uid), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindClientByID implements oauth2.ClientStore.
func (s *ValkeyStore) FindClientByID(ctx context.Context, id string) (*models.Client, error) {
	uid, err := s.get(ctx, s.clientIDKey(id))
	if err != nil {
		return nil, err
	}
	return s.FindClientByUID(ctx, uid)
}

// CreateGrant implements oauth2.CredentialStore.
func (s *ValkeyStore) CreateGrant(ctx context.Context, g *models.Grant) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := s.setNX(ctx, s.grantKey(g.Token), string(b)); err != nil {
		return err
	}
	return s.client.Do(ctx, s.client.B().Sadd().Key(s.grantCredKey(g.ApplicationID, g.ResourceOwnerID)).Member(g.Token).Build()).Error()
}

// FindGrant implements oauth2.CredentialStore.
func (s *ValkeyStore) FindGrant(ctx context.Context, code string) (*models.Grant, error) {
	var g models.Grant
	if err := s.getJSON(ctx, s.grantKey(code), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LockAndRevokeGrant implements oauth2.CredentialStore.
func (s *ValkeyStore) LockAndRevokeGrant(ctx context.Context, code string, at time.Time) (*models.Grant, error) {
	var g models.Grant
	var revoked bool
	err := s.compareAndSet(ctx, s.grantKey(code), func(cur string) (string, bool, error) {
		g = models.Grant{}
		if err := json.Unmarshal([]byte(cur), &g); err != nil {
			return "", false, err
		}
		if g.RevokedAt != nil {
			revoked = true
			return "", false, nil
		}
		revoked = false
		g.RevokedAt = &at
		b, err := json.Marshal(&g)
		return string(b), true, err
	})
	if err != nil {
		return nil, err
	}
	if revoked {
		return &g, errors.ErrAlreadyRevoked
	}
	return &g, nil
}

// CreateAccessToken implements oauth2.CredentialStore.
func (s *ValkeyStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := s.setNX(ctx, s.tokenKey(t.Token), string(b)); err != nil {
		return err
	}
	if t.RefreshToken != "" {
		if err := s.setNX(ctx, s.refreshKey(t.RefreshToken), t.Token); err != nil {
			_ = s.del(ctx, s.tokenKey(t.Token))
			return err
		}
	}
	resps := s.client.DoMulti(ctx,
		s.client.B().Set().Key(s.tokenIDKey(t.ID)).Value(t.Token).Build(),
		s.client.B().Sadd().Key(s.tokenCredKey(t.ApplicationID, t.ResourceOwnerID)).Member(t.Token).Build(),
	)
	for _, r := range resps {
		if err := r.Error(); err != nil {
			return err
		}
	}
	return nil
}

// FindAccessToken implements oauth2.CredentialStore.
func (s *ValkeyStore) FindAccessToken(ctx context.Context, token string) (*models.AccessToken, error) {
	var t models.AccessToken
	if err := s.getJSON(ctx, s.tokenKey(token), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindAccessTokenByRefresh implements oauth2.CredentialStore.
func (s *ValkeyStore) FindAccessTokenByRefresh(ctx context.Context, refresh string) (*models.AccessToken, error) {
	if refresh == "" {
		return nil, errors.ErrNotFound
	}
	access, err := s.get(ctx, s.refreshKey(refresh))
	if err != nil {
		return nil, err
	}
	return s.FindAccessToken(ctx, access)
}

func (s *ValkeyStore) credTokens(ctx context.Context, appID, ownerID string) ([]*models.AccessToken, error) {
	members, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.tokenCredKey(appID, ownerID)).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([]*models.AccessToken, 0, len(members))
	for _, access := range members {
		t, err := s.FindAccessToken(ctx, access)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// MatchingAccessToken implements oauth2.CredentialStore.
func (s *ValkeyStore) MatchingAccessToken(ctx context.Context, appID, ownerID string, sc scopes.Set) (*models.AccessToken, error) {
	tokens, err := s.credTokens(ctx, appID, ownerID)
	if err != nil {
		return nil, err
	}
	var latest *models.AccessToken
	for _, t := range tokens {
		if t.RevokedAt != nil || !t.Scopes.Equal(sc) {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, errors.ErrNotFound
	}
	return latest, nil
}

func (s *ValkeyStore) revokeToken(ctx context.Context, access string, at time.Time, must bool) (*models.AccessToken, error) {
	var t models.AccessToken
	var revoked bool
	err := s.compareAndSet(ctx, s.tokenKey(access), func(cur string) (string, bool, error) {
		t = models.AccessToken{}
		if err := json.Unmarshal([]byte(cur), &t); err != nil {
			return "", false, err
		}
		if t.RevokedAt != nil {
			revoked = true
			return "", false, nil
		}
		revoked = false
		if !must {
			return "", false, nil
		}
		t.RevokedAt = &at
		b, err := json.Marshal(&t)
		return string(b), true, err
	})
	if err != nil {
		return nil, err
	}
	if revoked {
		return &t, errors.ErrAlreadyRevoked
	}
	return &t, nil
}

// LockAndRotateRefresh implements oauth2.CredentialStore.
func (s *ValkeyStore) LockAndRotateRefresh(ctx context.Context, refresh string, at time.Time, revoke bool) (*models.AccessToken, error) {
	if refresh == "" {
		return nil, errors.ErrNotFound
	}
	access, err := s.get(ctx, s.refreshKey(refresh))
	if err != nil {
		return nil, err
	}
	return s.revokeToken(ctx, access, at, revoke)
}

// UpdateAccessToken implements oauth2.CredentialStore.
func (s *ValkeyStore) UpdateAccessToken(ctx context.Context, t *models.AccessToken) error {
	access, err := s.get(ctx, s.tokenIDKey(t.ID))
	if err != nil {
		return err
	}
	cur, err := s.FindAccessToken(ctx, access)
	if err != nil {
		return err
	}
	next := cur.Clone()
	next.Token = t.Token
	next.RefreshToken = t.RefreshToken
	next.Scopes = t.Scopes
	next.ExpiresIn = t.ExpiresIn
	next.CreatedAt = t.CreatedAt
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if next.Token != cur.Token {
		if err := s.setNX(ctx, s.tokenKey(next.Token), string(b)); err != nil {
			return err
		}
	}

	cmds := valkey.Commands{
		s.client.B().Multi().Build(),
		s.client.B().Set().Key(s.tokenKey(next.Token)).Value(string(b)).Build(),
		s.client.B().Set().Key(s.tokenIDKey(next.ID)).Value(next.Token).Build(),
		s.client.B().Srem().Key(s.tokenCredKey(cur.ApplicationID, cur.ResourceOwnerID)).Member(cur.Token).Build(),
		s.client.B().Sadd().Key(s.tokenCredKey(next.ApplicationID, next.ResourceOwnerID)).Member(next.Token).Build(),
	}
	if next.Token != cur.Token {
		cmds = append(cmds, s.client.B().Del().Key(s.tokenKey(cur.Token)).Build())
	}
	if cur.RefreshToken != "" && cur.RefreshToken != next.RefreshToken {
		cmds = append(cmds, s.client.B().Del().Key(s.refreshKey(cur.RefreshToken)).Build())
	}
	if next.RefreshToken != "" {
		cmds = append(cmds, s.client.B().Set().Key(s.refreshKey(next.RefreshToken)).Value(next.Token).Build())
	}
	cmds = append(cmds, s.client.B().Exec().Build())
	for _, r := range s.client.DoMulti(ctx, cmds...) {
		if err := r.Error(); err != nil {
			return err
		}
	}
	return nil
}

// RevokeAccessToken implements oauth2.CredentialStore.
func (s *ValkeyStore) RevokeAccessToken(ctx context.Context, token string, at time.Time) error {
	_, err := s.revokeToken(ctx, token, at, true)
	if errors.Is(err, errors.ErrAlreadyRevoked) {
		return nil
	}
	return err
}

// RevokeAllFor implements oauth2.CredentialStore.
func (s *ValkeyStore) RevokeAllFor(ctx context.Context, appID, ownerID string, at time.Time) error {
	codes, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.grantCredKey(appID, ownerID)).Build()).AsStrSlice()
	if err != nil {
		return err
	}
	for _, code := range codes {
		_, err := s.LockAndRevokeGrant(ctx, code, at)
		if err != nil && !errors.Is(err, errors.ErrAlreadyRevoked) && !errors.Is(err, errors.ErrNotFound) {
			return err
		}
	}
	tokens, err := s.credTokens(ctx, appID, ownerID)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if err := s.RevokeAccessToken(ctx, t.Token, at); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return err
		}
	}
	return nil
}
