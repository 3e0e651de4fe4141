package models

import (
	"time"

	"github.com/legit-games/oauth2/scopes"
)

// AccessToken a bearer credential, optionally paired with a refresh token.
// ApplicationID is empty for tokens issued without a client.
type AccessToken struct {
	ID                   string     `gorm:"column:id;primaryKey" json:"id"`
	Token                string     `gorm:"column:token;uniqueIndex;not null" json:"token"`
	RefreshToken         string     `gorm:"column:refresh_token" json:"refresh_token,omitempty"`
	ApplicationID        string     `gorm:"column:application_id" json:"application_id,omitempty"`
	ResourceOwnerID      string     `gorm:"column:resource_owner_id" json:"resource_owner_id,omitempty"`
	Scopes               scopes.Set `gorm:"column:scopes;not null" json:"scopes"`
	ExpiresIn            int64      `gorm:"column:expires_in" json:"expires_in"` // seconds, 0 never expires
	CreatedAt            time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	RevokedAt            *time.Time `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
	PreviousRefreshToken string     `gorm:"column:previous_refresh_token;not null;default:''" json:"previous_refresh_token,omitempty"`
}

// TableName gorm table name
func (AccessToken) TableName() string { return "oauth_access_tokens" }

// ExpiresAt returns the expiry time, zero when the token never expires.
func (t *AccessToken) ExpiresAt() time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Expired reports whether the token is past its lifetime at now.
func (t *AccessToken) Expired(now time.Time) bool {
	if t.ExpiresIn <= 0 {
		return false
	}
	return !now.Before(t.ExpiresAt())
}

// ExpiresInSeconds remaining lifetime at now, clamped at zero.
// Returns -1 for tokens that never expire.
func (t *AccessToken) ExpiresInSeconds(now time.Time) int64 {
	if t.ExpiresIn <= 0 {
		return -1
	}
	left := int64(t.ExpiresAt().Sub(now) / time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Revoked reports whether the token was revoked at or before now.
func (t *AccessToken) Revoked(now time.Time) bool {
	return t.RevokedAt != nil && !t.RevokedAt.After(now)
}

// Accessible reports whether the token is neither expired nor revoked.
func (t *AccessToken) Accessible(now time.Time) bool {
	return !t.Expired(now) && !t.Revoked(now)
}

// Acceptable reports whether the token is accessible and, when scopes are
// given, carries at least one of them.
func (t *AccessToken) Acceptable(now time.Time, required ...string) bool {
	if !t.Accessible(now) {
		return false
	}
	return len(required) == 0 || t.Scopes.HasAny(required...)
}

// UsesRefreshToken reports whether the token has a refresh token.
func (t *AccessToken) UsesRefreshToken() bool { return t.RefreshToken != "" }

// SameCredential reports whether other was issued to the same client and
// resource owner.
func (t *AccessToken) SameCredential(other *AccessToken) bool {
	if other == nil {
		return false
	}
	return t.ApplicationID == other.ApplicationID && t.ResourceOwnerID == other.ResourceOwnerID
}

// TokenInfo the public description of a token.
type TokenInfo struct {
	ResourceOwnerID  string        `json:"resource_owner_id"`
	Scopes           []string      `json:"scopes"`
	ExpiresInSeconds *int64        `json:"expires_in_seconds"`
	Application      *TokenInfoApp `json:"application"`
	CreatedAt        int64         `json:"created_at"`
}

// TokenInfoApp client part of TokenInfo
type TokenInfoApp struct {
	UID string `json:"uid"`
}

// AsJSON describes the token at now. client may be nil.
func (t *AccessToken) AsJSON(client *Client, now time.Time) TokenInfo {
	info := TokenInfo{
		ResourceOwnerID: t.ResourceOwnerID,
		Scopes:          t.Scopes.All(),
		CreatedAt:       t.CreatedAt.Unix(),
	}
	if t.ExpiresIn > 0 {
		left := t.ExpiresInSeconds(now)
		info.ExpiresInSeconds = &left
	}
	if client != nil {
		info.Application = &TokenInfoApp{UID: client.UID}
	}
	return info
}

// Clone returns a copy that does not share the revocation time.
func (t *AccessToken) Clone() *AccessToken {
	c := *t
	if t.RevokedAt != nil {
		r := *t.RevokedAt
		c.RevokedAt = &r
	}
	return &c
}
