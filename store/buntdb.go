package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// key layout
const (
	buntClientKey    = "client:"   // uid -> client json
	buntClientIDKey  = "clientid:" // id -> uid
	buntGrantKey     = "grant:"    // code -> grant json
	buntTokenKey     = "token:"    // access -> token json
	buntRefreshKey   = "refresh:"  // refresh -> access
	buntGrantCredKey = "gcred:"    // app|owner|code -> ""
	buntTokenCredKey = "tcred:"    // app|owner|access -> ""
)

// NewBuntStore create credential store backed by buntdb. Use ":memory:"
// for a volatile store.
func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open buntdb: %w", err)
	}
	return &BuntStore{db: db}, nil
}

// BuntStore a credential store on an embedded buntdb file. buntdb allows a
// single writer, so every locking operation is serialized.
type BuntStore struct {
	db *buntdb.DB
	tx *buntdb.Tx // set on transactional views
}

// Close closes the database.
func (s *BuntStore) Close() error { return s.db.Close() }

func (s *BuntStore) update(fn func(tx *buntdb.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.Update(fn)
}

func (s *BuntStore) view(fn func(tx *buntdb.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.View(fn)
}

// Transact implements oauth2.CredentialStore.
func (s *BuntStore) Transact(ctx context.Context, fn func(ctx context.Context, tx oauth2.CredentialStore) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		return fn(ctx, &BuntStore{db: s.db, tx: tx})
	})
}

var credKeyEscaper = strings.NewReplacer("%", "%25", "|", "%7C")

// credKey indexes value under its client and owner. The ids are escaped so
// that the separator cannot appear inside them.
func credKey(prefix, appID, ownerID, value string) string {
	return prefix + credKeyEscaper.Replace(appID) + "|" + credKeyEscaper.Replace(ownerID) + "|" + value
}

// ascendPrefix visits the keys that start with prefix, matched literally.
func ascendPrefix(tx *buntdb.Tx, prefix string, fn func(key string) bool) error {
	return tx.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		return fn(key)
	})
}

func getJSON(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := tx.Get(key)
	if err == buntdb.ErrNotFound {
		return errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(b), nil)
	return err
}

func exists(tx *buntdb.Tx, key string) (bool, error) {
	_, err := tx.Get(key)
	if err == buntdb.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// CreateClient registers a client.
func (s *BuntStore) CreateClient(ctx context.Context, c *models.Client) error {
	return s.update(func(tx *buntdb.Tx) error {
		ok, err := exists(tx, buntClientKey+c.UID)
		if err != nil {
			return err
		}
		if ok {
			return errors.ErrDuplicateToken
		}
		if _, _, err := tx.Set(buntClientIDKey+c.ID, c.UID, nil); err != nil {
			return err
		}
		return setJSON(tx, buntClientKey+c.UID, c)
	})
}

// DeleteClient removes a client by uid.
func (s *BuntStore) DeleteClient(ctx context.Context, uid string) error {
	return s.update(func(tx *buntdb.Tx) error {
		var c models.Client
		if err := getJSON(tx, buntClientKey+uid, &c); err != nil {
			return err
		}
		if _, err := tx.Delete(buntClientIDKey + c.ID); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		_, err := tx.Delete(buntClientKey + uid)
		return err
	})
}

// FindClientByUID implements oauth2.ClientStore.
func (s *BuntStore) FindClientByUID(ctx context.Context, uid string) (*models.Client, error) {
	var c models.Client
	err := s.view(func(tx *buntdb.Tx) error {
		return getJSON(tx, buntClientKey+uid, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindClientByID implements oauth2.ClientStore.
func (s *BuntStore) FindClientByID(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	err := s.view(func(tx *buntdb.Tx) error {
		uid, err := tx.Get(buntClientIDKey + id)
		if err == buntdb.ErrNotFound {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}
		return getJSON(tx, buntClientKey+uid, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateGrant implements oauth2.CredentialStore.
func (s *BuntStore) CreateGrant(ctx context.Context, g *models.Grant) error {
	return s.update(func(tx *buntdb.Tx) error {
		ok, err := exists(tx, buntGrantKey+g.Token)
		if err != nil {
			return err
		}
		if ok {
			return errors.ErrDuplicateToken
		}
		if _, _, err := tx.Set(credKey(buntGrantCredKey, g.ApplicationID, g.ResourceOwnerID, g.Token), "", nil); err != nil {
			return err
		}
		return setJSON(tx, buntGrantKey+g.Token, g)
	})
}

// FindGrant implements oauth2.CredentialStore.
func (s *BuntStore) FindGrant(ctx context.Context, code string) (*models.Grant, error) {
	var g models.Grant
	if err := s.view(func(tx *buntdb.Tx) error { return getJSON(tx, buntGrantKey+code, &g) }); err != nil {
		return nil, err
	}
	return &g, nil
}

// LockAndRevokeGrant implements oauth2.CredentialStore.
func (s *BuntStore) LockAndRevokeGrant(ctx context.Context, code string, at time.Time) (*models.Grant, error) {
	var g models.Grant
	var revoked bool
	err := s.update(func(tx *buntdb.Tx) error {
		if err := getJSON(tx, buntGrantKey+code, &g); err != nil {
			return err
		}
		if g.RevokedAt != nil {
			revoked = true
			return nil
		}
		g.RevokedAt = &at
		return setJSON(tx, buntGrantKey+code, &g)
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
func (s *BuntStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	return s.update(func(tx *buntdb.Tx) error {
		return putToken(tx, t)
	})
}

func putToken(tx *buntdb.Tx, t *models.AccessToken) error {
	ok, err := exists(tx, buntTokenKey+t.Token)
	if err != nil {
		return err
	}
	if ok {
		return errors.ErrDuplicateToken
	}
	if t.RefreshToken != "" {
		ok, err := exists(tx, buntRefreshKey+t.RefreshToken)
		if err != nil {
			return err
		}
		if ok {
			return errors.ErrDuplicateToken
		}
		if _, _, err := tx.Set(buntRefreshKey+t.RefreshToken, t.Token, nil); err != nil {
			return err
		}
	}
	if _, _, err := tx.Set(credKey(buntTokenCredKey, t.ApplicationID, t.ResourceOwnerID, t.Token), "", nil); err != nil {
		return err
	}
	return setJSON(tx, buntTokenKey+t.Token, t)
}

func dropToken(tx *buntdb.Tx, t *models.AccessToken) error {
	for _, key := range []string{
		buntTokenKey + t.Token,
		credKey(buntTokenCredKey, t.ApplicationID, t.ResourceOwnerID, t.Token),
	} {
		if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	if t.RefreshToken != "" {
		if _, err := tx.Delete(buntRefreshKey + t.RefreshToken); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return nil
}

// FindAccessToken implements oauth2.CredentialStore.
func (s *BuntStore) FindAccessToken(ctx context.Context, token string) (*models.AccessToken, error) {
	var t models.AccessToken
	if err := s.view(func(tx *buntdb.Tx) error { return getJSON(tx, buntTokenKey+token, &t) }); err != nil {
		return nil, err
	}
	return &t, nil
}

func tokenByRefresh(tx *buntdb.Tx, refresh string, t *models.AccessToken) error {
	access, err := tx.Get(buntRefreshKey + refresh)
	if err == buntdb.ErrNotFound {
		return errors.ErrNotFound
	}
	if err != nil {
		return err
	}
	return getJSON(tx, buntTokenKey+access, t)
}

// FindAccessTokenByRefresh implements oauth2.CredentialStore.
func (s *BuntStore) FindAccessTokenByRefresh(ctx context.Context, refresh string) (*models.AccessToken, error) {
	if refresh == "" {
		return nil, errors.ErrNotFound
	}
	var t models.AccessToken
	if err := s.view(func(tx *buntdb.Tx) error { return tokenByRefresh(tx, refresh, &t) }); err != nil {
		return nil, err
	}
	return &t, nil
}

// MatchingAccessToken implements oauth2.CredentialStore.
func (s *BuntStore) MatchingAccessToken(ctx context.Context, appID, ownerID string, sc scopes.Set) (*models.AccessToken, error) {
	var latest *models.AccessToken
	err := s.view(func(tx *buntdb.Tx) error {
		tokens, err := credTokens(tx, appID, ownerID)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			if t.RevokedAt != nil || !t.Scopes.Equal(sc) {
				continue
			}
			if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
				latest = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, errors.ErrNotFound
	}
	return latest, nil
}

func credTokens(tx *buntdb.Tx, appID, ownerID string) ([]*models.AccessToken, error) {
	prefix := credKey(buntTokenCredKey, appID, ownerID, "")
	var access []string
	err := ascendPrefix(tx, prefix, func(key string) bool {
		access = append(access, key[len(prefix):])
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.AccessToken, 0, len(access))
	for _, a := range access {
		var t models.AccessToken
		if err := getJSON(tx, buntTokenKey+a, &t); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, &t)
	}
	return out, nil
}

// LockAndRotateRefresh implements oauth2.CredentialStore.
func (s *BuntStore) LockAndRotateRefresh(ctx context.Context, refresh string, at time.Time, revoke bool) (*models.AccessToken, error) {
	var t models.AccessToken
	var revoked bool
	err := s.update(func(tx *buntdb.Tx) error {
		if err := tokenByRefresh(tx, refresh, &t); err != nil {
			return err
		}
		if t.RevokedAt != nil {
			revoked = true
			return nil
		}
		if !revoke {
			return nil
		}
		t.RevokedAt = &at
		return setJSON(tx, buntTokenKey+t.Token, &t)
	})
	if err != nil {
		return nil, err
	}
	if revoked {
		return &t, errors.ErrAlreadyRevoked
	}
	return &t, nil
}

// UpdateAccessToken implements oauth2.CredentialStore.
func (s *BuntStore) UpdateAccessToken(ctx context.Context, t *models.AccessToken) error {
	return s.update(func(tx *buntdb.Tx) error {
		var cur *models.AccessToken
		err := tx.AscendKeys(buntTokenKey+"*", func(key, value string) bool {
			var v models.AccessToken
			if json.Unmarshal([]byte(value), &v) == nil && v.ID == t.ID {
				cur = &v
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if cur == nil {
			return errors.ErrNotFound
		}
		if err := dropToken(tx, cur); err != nil {
			return err
		}
		next := cur.Clone()
		next.Token = t.Token
		next.RefreshToken = t.RefreshToken
		next.Scopes = t.Scopes
		next.ExpiresIn = t.ExpiresIn
		next.CreatedAt = t.CreatedAt
		return putToken(tx, next)
	})
}

// RevokeAccessToken implements oauth2.CredentialStore.
func (s *BuntStore) RevokeAccessToken(ctx context.Context, token string, at time.Time) error {
	return s.update(func(tx *buntdb.Tx) error {
		var t models.AccessToken
		if err := getJSON(tx, buntTokenKey+token, &t); err != nil {
			return err
		}
		if t.RevokedAt != nil {
			return nil
		}
		t.RevokedAt = &at
		return setJSON(tx, buntTokenKey+token, &t)
	})
}

// RevokeAllFor implements oauth2.CredentialStore.
func (s *BuntStore) RevokeAllFor(ctx context.Context, appID, ownerID string, at time.Time) error {
	return s.update(func(tx *buntdb.Tx) error {
		prefix := credKey(buntGrantCredKey, appID, ownerID, "")
		var codes []string
		if err := ascendPrefix(tx, prefix, func(key string) bool {
			codes = append(codes, key[len(prefix):])
			return true
		}); err != nil {
			return err
		}
		for _, code := range codes {
			var g models.Grant
			if err := getJSON(tx, buntGrantKey+code, &g); err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					continue
				}
				return err
			}
			if g.RevokedAt == nil {
				g.RevokedAt = &at
				if err := setJSON(tx, buntGrantKey+code, &g); err != nil {
					return err
				}
			}
		}

		tokens, err := credTokens(tx, appID, ownerID)
		if err != nil {
			return err
		}
		for _, t := range tokens {
			if t.RevokedAt == nil {
				t.RevokedAt = &at
				if err := setJSON(tx, buntTokenKey+t.Token, t); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
