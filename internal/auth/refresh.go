package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
	"gorm.io/gorm"
)

// ErrInvalidRefreshToken is returned for unknown, revoked, or expired refresh
// tokens. The reasons are not distinguished to callers.
var ErrInvalidRefreshToken = errors.New("refresh token is invalid or expired")

// RefreshStore manages refresh token persistence via GORM.
type RefreshStore struct {
	db *gorm.DB
}

// NewRefreshStore creates a RefreshStore backed by the given GORM DB.
func NewRefreshStore(db *gorm.DB) *RefreshStore {
	return &RefreshStore{db: db}
}

// IssueRefreshToken generates a secure random token, stores its SHA-256 hash,
// and returns the plaintext token to the caller (stored nowhere).
func (s *RefreshStore) IssueRefreshToken(ctx context.Context, principalID string, ttl time.Duration) (string, error) {
	return issue(s.db.WithContext(ctx), principalID, ttl)
}

// RotateRefreshToken revokes rawToken and issues a replacement with the given
// ttl. The revoke is conditional so a token raced by two requests rotates
// only once. Returns the new token and the principal it belongs to.
func (s *RefreshStore) RotateRefreshToken(ctx context.Context, rawToken string, ttl time.Duration) (token, principalID string, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt model.RefreshToken
		if err := tx.Where("token_hash = ?", hashToken(rawToken)).First(&rt).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRefreshToken
			}
			return fmt.Errorf("load refresh token: %w", err)
		}
		now := time.Now()
		if rt.RevokedAt != nil || !now.Before(rt.ExpiresAt) {
			return ErrInvalidRefreshToken
		}

		res := tx.Model(&model.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", rt.ID).
			Update("revoked_at", now)
		if res.Error != nil {
			return fmt.Errorf("revoke old refresh token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidRefreshToken
		}

		token, err = issue(tx, rt.PrincipalID, ttl)
		principalID = rt.PrincipalID
		return err
	})
	if err != nil {
		return "", "", err
	}
	return token, principalID, nil
}

// RevokeRefreshToken marks the given token as revoked.
func (s *RefreshStore) RevokeRefreshToken(ctx context.Context, rawToken string) error {
	return s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", hashToken(rawToken)).
		Update("revoked_at", time.Now()).Error
}

// RevokeAllForPrincipal revokes every live refresh token of a principal.
func (s *RefreshStore) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	return s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("principal_id = ? AND revoked_at IS NULL", principalID).
		Update("revoked_at", time.Now()).Error
}

func issue(db *gorm.DB, principalID string, ttl time.Duration) (string, error) {
	raw, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	rt := &model.RefreshToken{
		PrincipalID: principalID,
		TokenHash:   hashToken(raw),
		ExpiresAt:   time.Now().Add(ttl),
	}
	if err := db.Create(rt).Error; err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
