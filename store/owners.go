package store

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/legit-games/oauth2"
)

// NewOwnerStore create resource owner store (memory)
func NewOwnerStore() *OwnerStore {
	return &OwnerStore{data: make(map[string]owner)}
}

type owner struct {
	id   string
	hash []byte
}

// OwnerStore authenticates resource owners against bcrypt password hashes
// held in memory. It implements oauth2.ResourceOwnerAuthenticator.
type OwnerStore struct {
	sync.RWMutex
	data map[string]owner // by username
}

var _ oauth2.ResourceOwnerAuthenticator = (*OwnerStore)(nil)

// Set registers username with the given owner id and plaintext password.
func (s *OwnerStore) Set(username, ownerID, password string) error {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.SetHash(username, ownerID, h)
}

// SetHash registers username with an existing bcrypt hash.
func (s *OwnerStore) SetHash(username, ownerID string, hash []byte) error {
	if _, err := bcrypt.Cost(hash); err != nil {
		return fmt.Errorf("owner %q: %w", username, err)
	}
	s.Lock()
	defer s.Unlock()

	s.data[username] = owner{id: ownerID, hash: hash}
	return nil
}

// Authenticate implements oauth2.ResourceOwnerAuthenticator.
func (s *OwnerStore) Authenticate(ctx context.Context, creds oauth2.Credentials) (string, error) {
	s.RLock()
	o, ok := s.data[creds.Username]
	s.RUnlock()

	if !ok || creds.Password == "" {
		return "", nil
	}
	if bcrypt.CompareHashAndPassword(o.hash, []byte(creds.Password)) != nil {
		return "", nil
	}
	return o.id, nil
}
