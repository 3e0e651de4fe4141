package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// NewMemoryStore create credential store (memory)
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]*models.Client),
		grants:  make(map[string]*models.Grant),
		tokens:  make(map[string]*models.AccessToken),
		refresh: make(map[string]string),
	}
}

// MemoryStore keeps clients, grants and tokens in maps. Transactions are
// serialized; writes inside a failed transaction are undone.
type MemoryStore struct {
	sync.RWMutex
	txMu sync.Mutex

	clients map[string]*models.Client      // by uid
	grants  map[string]*models.Grant       // by code
	tokens  map[string]*models.AccessToken // by access token
	refresh map[string]string              // refresh token -> access token
}

// memoryTx a transactional view of a MemoryStore
type memoryTx struct {
	*MemoryStore
	undo []func()
}

// Transact implements oauth2.CredentialStore.
func (s *MemoryStore) Transact(ctx context.Context, fn func(ctx context.Context, tx oauth2.CredentialStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{MemoryStore: s}
	if err := fn(ctx, tx); err != nil {
		s.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.Unlock()
		return err
	}
	return nil
}

// Transact on the view joins the running transaction.
func (tx *memoryTx) Transact(ctx context.Context, fn func(ctx context.Context, tx oauth2.CredentialStore) error) error {
	return fn(ctx, tx)
}

func (tx *memoryTx) CreateGrant(ctx context.Context, g *models.Grant) error {
	if err := tx.MemoryStore.CreateGrant(ctx, g); err != nil {
		return err
	}
	code := g.Token
	tx.undo = append(tx.undo, func() { delete(tx.grants, code) })
	return nil
}

func (tx *memoryTx) LockAndRevokeGrant(ctx context.Context, code string, at time.Time) (*models.Grant, error) {
	g, err := tx.MemoryStore.LockAndRevokeGrant(ctx, code, at)
	if err != nil {
		return g, err
	}
	tx.undo = append(tx.undo, func() {
		if cur, ok := tx.grants[code]; ok {
			cur.RevokedAt = nil
		}
	})
	return g, nil
}

func (tx *memoryTx) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	if err := tx.MemoryStore.CreateAccessToken(ctx, t); err != nil {
		return err
	}
	access, refresh := t.Token, t.RefreshToken
	tx.undo = append(tx.undo, func() {
		delete(tx.tokens, access)
		if refresh != "" {
			delete(tx.refresh, refresh)
		}
	})
	return nil
}

func (tx *memoryTx) LockAndRotateRefresh(ctx context.Context, refresh string, at time.Time, revoke bool) (*models.AccessToken, error) {
	t, err := tx.MemoryStore.LockAndRotateRefresh(ctx, refresh, at, revoke)
	if err != nil || !revoke {
		return t, err
	}
	access := t.Token
	tx.undo = append(tx.undo, func() {
		if cur, ok := tx.tokens[access]; ok {
			cur.RevokedAt = nil
		}
	})
	return t, nil
}

func (tx *memoryTx) UpdateAccessToken(ctx context.Context, t *models.AccessToken) error {
	tx.RLock()
	var prev *models.AccessToken
	for _, cur := range tx.tokens {
		if cur.ID == t.ID {
			prev = cur.Clone()
			break
		}
	}
	tx.RUnlock()

	if err := tx.MemoryStore.UpdateAccessToken(ctx, t); err != nil {
		return err
	}
	if prev != nil {
		newAccess := t.Token
		tx.undo = append(tx.undo, func() {
			delete(tx.tokens, newAccess)
			tx.tokens[prev.Token] = prev
			if prev.RefreshToken != "" {
				tx.refresh[prev.RefreshToken] = prev.Token
			}
		})
	}
	return nil
}

// CreateClient registers a client.
func (s *MemoryStore) CreateClient(ctx context.Context, c *models.Client) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.clients[c.UID]; ok {
		return errors.ErrDuplicateToken
	}
	cp := *c
	s.clients[c.UID] = &cp
	return nil
}

// DeleteClient removes a client by uid.
func (s *MemoryStore) DeleteClient(ctx context.Context, uid string) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.clients[uid]; !ok {
		return errors.ErrNotFound
	}
	delete(s.clients, uid)
	return nil
}

// FindClientByUID implements oauth2.ClientStore.
func (s *MemoryStore) FindClientByUID(ctx context.Context, uid string) (*models.Client, error) {
	s.RLock()
	defer s.RUnlock()

	if c, ok := s.clients[uid]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, errors.ErrNotFound
}

// FindClientByID implements oauth2.ClientStore.
func (s *MemoryStore) FindClientByID(ctx context.Context, id string) (*models.Client, error) {
	s.RLock()
	defer s.RUnlock()

	for _, c := range s.clients {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errors.ErrNotFound
}

// CreateGrant implements oauth2.CredentialStore.
func (s *MemoryStore) CreateGrant(ctx context.Context, g *models.Grant) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.grants[g.Token]; ok {
		return errors.ErrDuplicateToken
	}
	s.grants[g.Token] = g.Clone()
	return nil
}

// FindGrant implements oauth2.CredentialStore.
func (s *MemoryStore) FindGrant(ctx context.Context, code string) (*models.Grant, error) {
	s.RLock()
	defer s.RUnlock()

	if g, ok := s.grants[code]; ok {
		return g.Clone(), nil
	}
	return nil, errors.ErrNotFound
}

// LockAndRevokeGrant implements oauth2.CredentialStore.
func (s *MemoryStore) LockAndRevokeGrant(ctx context.Context, code string, at time.Time) (*models.Grant, error) {
	s.Lock()
	defer s.Unlock()

	g, ok := s.grants[code]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if g.RevokedAt != nil {
		return g.Clone(), errors.ErrAlreadyRevoked
	}
	revokedAt := at
	g.RevokedAt = &revokedAt
	return g.Clone(), nil
}

// CreateAccessToken implements oauth2.CredentialStore.
func (s *MemoryStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.tokens[t.Token]; ok {
		return errors.ErrDuplicateToken
	}
	if t.RefreshToken != "" {
		if _, ok := s.refresh[t.RefreshToken]; ok {
			return errors.ErrDuplicateToken
		}
		s.refresh[t.RefreshToken] = t.Token
	}
	s.tokens[t.Token] = t.Clone()
	return nil
}

// FindAccessToken implements oauth2.CredentialStore.
func (s *MemoryStore) FindAccessToken(ctx context.Context, token string) (*models.AccessToken, error) {
	s.RLock()
	defer s.RUnlock()

	if t, ok := s.tokens[token]; ok {
		return t.Clone(), nil
	}
	return nil, errors.ErrNotFound
}

// FindAccessTokenByRefresh implements oauth2.CredentialStore.
func (s *MemoryStore) FindAccessTokenByRefresh(ctx context.Context, refresh string) (*models.AccessToken, error) {
	s.RLock()
	defer s.RUnlock()

	if t, ok := s.byRefresh(refresh); ok {
		return t.Clone(), nil
	}
	return nil, errors.ErrNotFound
}

func (s *MemoryStore) byRefresh(refresh string) (*models.AccessToken, bool) {
	if refresh == "" {
		return nil, false
	}
	access, ok := s.refresh[refresh]
	if !ok {
		return nil, false
	}
	t, ok := s.tokens[access]
	return t, ok
}

// MatchingAccessToken implements oauth2.CredentialStore.
func (s *MemoryStore) MatchingAccessToken(ctx context.Context, appID, ownerID string, sc scopes.Set) (*models.AccessToken, error) {
	s.RLock()
	defer s.RUnlock()

	var candidates []*models.AccessToken
	for _, t := range s.tokens {
		if t.ApplicationID == appID && t.ResourceOwnerID == ownerID && t.RevokedAt == nil && t.Scopes.Equal(sc) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, errors.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0].Clone(), nil
}

// LockAndRotateRefresh implements oauth2.CredentialStore.
func (s *MemoryStore) LockAndRotateRefresh(ctx context.Context, refresh string, at time.Time, revoke bool) (*models.AccessToken, error) {
	s.Lock()
	defer s.Unlock()

	t, ok := s.byRefresh(refresh)
	if !ok {
		return nil, errors.ErrNotFound
	}
	if t.RevokedAt != nil {
		return t.Clone(), errors.ErrAlreadyRevoked
	}
	if revoke {
		revokedAt := at
		t.RevokedAt = &revokedAt
	}
	return t.Clone(), nil
}

// UpdateAccessToken implements oauth2.CredentialStore.
func (s *MemoryStore) UpdateAccessToken(ctx context.Context, t *models.AccessToken) error {
	s.Lock()
	defer s.Unlock()

	var cur *models.AccessToken
	for _, v := range s.tokens {
		if v.ID == t.ID {
			cur = v
			break
		}
	}
	if cur == nil {
		return errors.ErrNotFound
	}
	if t.Token != cur.Token {
		if _, ok := s.tokens[t.Token]; ok {
			return errors.ErrDuplicateToken
		}
	}
	if t.RefreshToken != cur.RefreshToken && t.RefreshToken != "" {
		if _, ok := s.refresh[t.RefreshToken]; ok {
			return errors.ErrDuplicateToken
		}
	}

	delete(s.tokens, cur.Token)
	if cur.RefreshToken != "" {
		delete(s.refresh, cur.RefreshToken)
	}
	next := cur.Clone()
	next.Token = t.Token
	next.RefreshToken = t.RefreshToken
	next.Scopes = t.Scopes
	next.ExpiresIn = t.ExpiresIn
	next.CreatedAt = t.CreatedAt
	s.tokens[next.Token] = next
	if next.RefreshToken != "" {
		s.refresh[next.RefreshToken] = next.Token
	}
	return nil
}

// RevokeAccessToken implements oauth2.CredentialStore.
func (s *MemoryStore) RevokeAccessToken(ctx context.Context, token string, at time.Time) error {
	s.Lock()
	defer s.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return errors.ErrNotFound
	}
	if t.RevokedAt == nil {
		revokedAt := at
		t.RevokedAt = &revokedAt
	}
	return nil
}

// RevokeAllFor implements oauth2.CredentialStore.
func (s *MemoryStore) RevokeAllFor(ctx context.Context, appID, ownerID string, at time.Time) error {
	s.Lock()
	defer s.Unlock()

	for _, g := range s.grants {
		if g.ApplicationID == appID && g.ResourceOwnerID == ownerID && g.RevokedAt == nil {
			revokedAt := at
			g.RevokedAt = &revokedAt
		}
	}
	for _, t := range s.tokens {
		if t.ApplicationID == appID && t.ResourceOwnerID == ownerID && t.RevokedAt == nil {
			revokedAt := at
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}
