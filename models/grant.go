package models

import (
	"time"

	"github.com/legit-games/oauth2/scopes"
)

// Grant an authorization code issued to a client on behalf of a resource
// owner. It is consumed by revoking it and can be consumed at most once.
type Grant struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	Token           string     `gorm:"column:token;uniqueIndex;not null" json:"token"`
	ApplicationID   string     `gorm:"column:application_id;not null" json:"application_id"`
	ResourceOwnerID string     `gorm:"column:resource_owner_id;not null" json:"resource_owner_id"`
	Scopes          scopes.Set `gorm:"column:scopes;not null" json:"scopes"`
	RedirectURI     string     `gorm:"column:redirect_uri;not null" json:"redirect_uri"`
	ExpiresAt       time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	RevokedAt       *time.Time `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
}

// TableName gorm table name
func (Grant) TableName() string { return "oauth_access_grants" }

// Expired reports whether the code is past its expiry at now.
func (g *Grant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Revoked reports whether the code was consumed or revoked at or before now.
func (g *Grant) Revoked(now time.Time) bool {
	return g.RevokedAt != nil && !g.RevokedAt.After(now)
}

// Accessible reports whether the code can still be exchanged.
func (g *Grant) Accessible(now time.Time) bool {
	return !g.Expired(now) && !g.Revoked(now)
}

// Clone returns a copy that does not share the revocation time.
func (g *Grant) Clone() *Grant {
	c := *g
	if g.RevokedAt != nil {
		t := *g.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
