package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/legit-games/oauth2/scopes"
)

// Client a registered application
type Client struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	Name         string     `gorm:"column:name;not null" json:"name"`
	UID          string     `gorm:"column:uid;uniqueIndex;not null" json:"uid"`
	Secret       string     `gorm:"column:secret;not null" json:"secret"` // bcrypt hash, empty for public clients
	RedirectURI  string     `gorm:"column:redirect_uri;not null" json:"redirect_uri"`
	Scopes       scopes.Set `gorm:"column:scopes;not null" json:"scopes"`
	Confidential bool       `gorm:"column:confidential;not null" json:"confidential"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName gorm table name
func (Client) TableName() string { return "oauth_applications" }

// NewClient builds a client with fresh uid and, for confidential clients,
// a fresh secret. The plaintext secret is returned once and only its hash
// is kept on the client.
func NewClient(name string, redirectURIs []string, sc scopes.Set, confidential bool) (*Client, string, error) {
	uid, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}
	c := &Client{
		ID:           uuid.NewString(),
		Name:         name,
		UID:          uid,
		RedirectURI:  strings.Join(redirectURIs, "\n"),
		Scopes:       sc,
		Confidential: confidential,
	}
	if !confidential {
		return c, "", nil
	}
	secret, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}
	if err := c.SetSecret(secret); err != nil {
		return nil, "", err
	}
	return c, secret, nil
}

// RedirectURIs registered redirect uris
func (c *Client) RedirectURIs() []string {
	var out []string
	for _, u := range strings.Split(c.RedirectURI, "\n") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// HasRedirectURI reports whether uri is registered, compared as exact strings.
func (c *Client) HasRedirectURI(uri string) bool {
	if uri == "" {
		return false
	}
	for _, u := range c.RedirectURIs() {
		if u == uri {
			return true
		}
	}
	return false
}

// SetSecret stores the bcrypt hash of plain.
func (c *Client) SetSecret(plain string) error {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash client secret: %w", err)
	}
	c.Secret = string(h)
	return nil
}

// VerifySecret checks plain against the stored hash. Public clients have
// no secret and only verify an empty one.
func (c *Client) VerifySecret(plain string) bool {
	if c.Secret == "" {
		return plain == "" && !c.Confidential
	}
	if plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.Secret), []byte(plain)) == nil
}

// Validate checks the registration. Every redirect uri must be the native
// marker or an absolute uri without fragment.
func (c *Client) Validate(nativeURI string) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("client name is required")
	}
	if c.UID == "" {
		return fmt.Errorf("client uid is required")
	}
	uris := c.RedirectURIs()
	if len(uris) == 0 {
		return fmt.Errorf("at least one redirect uri is required")
	}
	for _, raw := range uris {
		if raw == nativeURI {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("redirect uri %q: %w", raw, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("redirect uri %q must be absolute", raw)
		}
		if u.Fragment != "" {
			return fmt.Errorf("redirect uri %q must not contain a fragment", raw)
		}
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
