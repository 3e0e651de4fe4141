package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/scopes"
)

// OpenDB opens a postgres connection with unique violations reported as
// gorm.ErrDuplicatedKey.
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// NewDBStore create credential store (database)
func NewDBStore(db *gorm.DB) *DBStore { return &DBStore{DB: db} }

// DBStore a credential store on a SQL database. Codes and refresh tokens
// are redeemed under SELECT ... FOR UPDATE.
type DBStore struct{ DB *gorm.DB }

func dbErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.ErrDuplicateToken
	}
	return err
}

// Transact implements oauth2.CredentialStore.
func (s *DBStore) Transact(ctx context.Context, fn func(ctx context.Context, tx oauth2.CredentialStore) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &DBStore{DB: tx})
	})
}

// CreateClient registers a client.
func (s *DBStore) CreateClient(ctx context.Context, c *models.Client) error {
	return dbErr(s.DB.WithContext(ctx).Create(c).Error)
}

// DeleteClient removes a client by uid.
func (s *DBStore) DeleteClient(ctx context.Context, uid string) error {
	res := s.DB.WithContext(ctx).Exec(`DELETE FROM oauth_applications WHERE uid = ?`, uid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// FindClientByUID implements oauth2.ClientStore.
func (s *DBStore) FindClientByUID(ctx context.Context, uid string) (*models.Client, error) {
	var c models.Client
	if err := s.DB.WithContext(ctx).Where("uid = ?", uid).First(&c).Error; err != nil {
		return nil, dbErr(err)
	}
	return &c, nil
}

// FindClientByID implements oauth2.ClientStore.
func (s *DBStore) FindClientByID(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, dbErr(err)
	}
	return &c, nil
}

// CreateGrant implements oauth2.CredentialStore.
func (s *DBStore) CreateGrant(ctx context.Context, g *models.Grant) error {
	return dbErr(s.DB.WithContext(ctx).Create(g).Error)
}

// FindGrant implements oauth2.CredentialStore.
func (s *DBStore) FindGrant(ctx context.Context, code string) (*models.Grant, error) {
	var g models.Grant
	if err := s.DB.WithContext(ctx).Where("token = ?", code).First(&g).Error; err != nil {
		return nil, dbErr(err)
	}
	return &g, nil
}

// LockAndRevokeGrant implements oauth2.CredentialStore.
func (s *DBStore) LockAndRevokeGrant(ctx context.Context, code string, at time.Time) (*models.Grant, error) {
	var g models.Grant
	var revoked bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("token = ?", code).First(&g).Error; err != nil {
			return err
		}
		if g.RevokedAt != nil {
			revoked = true
			return nil
		}
		g.RevokedAt = &at
		return tx.Exec(`UPDATE oauth_access_grants SET revoked_at = ? WHERE id = ?`, at, g.ID).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	if revoked {
		return &g, errors.ErrAlreadyRevoked
	}
	return &g, nil
}

// CreateAccessToken implements oauth2.CredentialStore.
func (s *DBStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	return dbErr(s.DB.WithContext(ctx).Create(t).Error)
}

// FindAccessToken implements oauth2.CredentialStore.
func (s *DBStore) FindAccessToken(ctx context.Context, token string) (*models.AccessToken, error) {
	var t models.AccessToken
	if err := s.DB.WithContext(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		return nil, dbErr(err)
	}
	return &t, nil
}

// FindAccessTokenByRefresh implements oauth2.CredentialStore.
func (s *DBStore) FindAccessTokenByRefresh(ctx context.Context, refresh string) (*models.AccessToken, error) {
	if refresh == "" {
		return nil, errors.ErrNotFound
	}
	var t models.AccessToken
	if err := s.DB.WithContext(ctx).Where("refresh_token = ?", refresh).First(&t).Error; err != nil {
		return nil, dbErr(err)
	}
	return &t, nil
}

// MatchingAccessToken implements oauth2.CredentialStore.
func (s *DBStore) MatchingAccessToken(ctx context.Context, appID, ownerID string, sc scopes.Set) (*models.AccessToken, error) {
	var rows []models.AccessToken
	err := s.DB.WithContext(ctx).
		Where("application_id = ? AND resource_owner_id = ? AND revoked_at IS NULL", appID, ownerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Scopes.Equal(sc) {
			return &rows[i], nil
		}
	}
	return nil, errors.ErrNotFound
}

// LockAndRotateRefresh implements oauth2.CredentialStore.
func (s *DBStore) LockAndRotateRefresh(ctx context.Context, refresh string, at time.Time, revoke bool) (*models.AccessToken, error) {
	if refresh == "" {
		return nil, errors.ErrNotFound
	}
	var t models.AccessToken
	var revoked bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("refresh_token = ?", refresh).First(&t).Error; err != nil {
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
		return tx.Exec(`UPDATE oauth_access_tokens SET revoked_at = ? WHERE id = ?`, at, t.ID).Error
	})
	if err != nil {
		return nil, dbErr(err)
	}
	if revoked {
		return &t, errors.ErrAlreadyRevoked
	}
	return &t, nil
}

// UpdateAccessToken implements oauth2.CredentialStore.
func (s *DBStore) UpdateAccessToken(ctx context.Context, t *models.AccessToken) error {
	res := s.DB.WithContext(ctx).Model(&models.AccessToken{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
		"token":         t.Token,
		"refresh_token": t.RefreshToken,
		"scopes":        t.Scopes,
		"expires_in":    t.ExpiresIn,
		"created_at":    t.CreatedAt,
	})
	if res.Error != nil {
		return dbErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// RevokeAccessToken implements oauth2.CredentialStore.
func (s *DBStore) RevokeAccessToken(ctx context.Context, token string, at time.Time) error {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.AccessToken{}).Where("token = ?", token).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrNotFound
	}
	return s.DB.WithContext(ctx).Exec(
		`UPDATE oauth_access_tokens SET revoked_at = ? WHERE token = ? AND revoked_at IS NULL`, at, token,
	).Error
}

// RevokeAllFor implements oauth2.CredentialStore.
func (s *DBStore) RevokeAllFor(ctx context.Context, appID, ownerID string, at time.Time) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE oauth_access_grants SET revoked_at = ? WHERE application_id = ? AND resource_owner_id = ? AND revoked_at IS NULL`,
			at, appID, ownerID,
		).Error; err != nil {
			return err
		}
		return tx.Exec(
			`UPDATE oauth_access_tokens SET revoked_at = ? WHERE application_id = ? AND resource_owner_id = ? AND revoked_at IS NULL`,
			at, appID, ownerID,
		).Error
	})
}
