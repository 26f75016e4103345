package store

import (
	"context"
	"fmt"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
)

// CreateInvitation inserts inv.
func (s *Store) CreateInvitation(ctx context.Context, inv *model.Invitation) error {
	if err := s.conn(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

// GetInvitation returns the invitation with the given id.
func (s *Store) GetInvitation(ctx context.Context, id string) (model.Invitation, error) {
	var inv model.Invitation
	if err := s.conn(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return model.Invitation{}, mapNotFound(err, ErrInvitationNotFound)
	}
	return inv, nil
}

// GetInvitationByTokenHash returns the invitation whose token hashes to hash.
func (s *Store) GetInvitationByTokenHash(ctx context.Context, hash string) (model.Invitation, error) {
	var inv model.Invitation
	if err := s.conn(ctx).Where("token_hash = ?", hash).First(&inv).Error; err != nil {
		return model.Invitation{}, mapNotFound(err, ErrInvitationNotFound)
	}
	return inv, nil
}

// MarkInvitationUsed consumes a pending invitation. It reports false when the
// invitation was already used or revoked by a concurrent caller.
func (s *Store) MarkInvitationUsed(ctx context.Context, id, principalID string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&model.Invitation{}).
		Where("id = ? AND used_at IS NULL AND revoked_at IS NULL", id).
		Updates(map[string]any{"used_at": at, "accepted_by": principalID})
	if res.Error != nil {
		return false, fmt.Errorf("mark invitation used: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RevokeInvitation marks a pending invitation revoked. It reports false when
// the invitation had already been used or revoked.
func (s *Store) RevokeInvitation(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&model.Invitation{}).
		Where("id = ? AND used_at IS NULL AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("revoke invitation: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListInvitations returns invitations newest first. A nil tenantID lists
// every invitation.
func (s *Store) ListInvitations(ctx context.Context, tenantID *string) ([]model.Invitation, error) {
	db := s.conn(ctx)
	if tenantID != nil {
		db = db.Where("tenant_id = ?", *tenantID)
	}
	var out []model.Invitation
	if err := db.Order("created_at DESC, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return out, nil
}
