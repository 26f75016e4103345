package store

import (
	"context"
	"fmt"

	"github.com/d9705996/clientpulse/internal/model"
)

// ListGrants returns every grant held by the principal, global first.
func (s *Store) ListGrants(ctx context.Context, principalID string) ([]model.Grant, error) {
	var grants []model.Grant
	err := s.conn(ctx).
		Where("principal_id = ?", principalID).
		Order("tenant_id IS NOT NULL, scope_key").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// ListGrantsForTenant returns the grants scoped to one tenant.
func (s *Store) ListGrantsForTenant(ctx context.Context, tenantID string) ([]model.Grant, error) {
	var grants []model.Grant
	if err := s.conn(ctx).Where("tenant_id = ?", tenantID).Order("principal_id").Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("list tenant grants: %w", err)
	}
	return grants, nil
}

// GetGrant returns the grant for (principal, scope).
func (s *Store) GetGrant(ctx context.Context, principalID, scopeKey string) (model.Grant, error) {
	var g model.Grant
	err := s.conn(ctx).
		Where("principal_id = ? AND scope_key = ?", principalID, scopeKey).
		First(&g).Error
	if err != nil {
		return model.Grant{}, mapNotFound(err, ErrGrantNotFound)
	}
	return g, nil
}

// SaveGrant inserts g when it has no id yet and updates it otherwise.
func (s *Store) SaveGrant(ctx context.Context, g *model.Grant) error {
	var err error
	if g.ID == "" {
		err = s.conn(ctx).Create(g).Error
	} else {
		err = s.conn(ctx).Save(g).Error
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save grant: %w", ErrConflict)
		}
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

// DeleteGrant removes the grant with the given id.
func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	res := s.conn(ctx).Where("id = ?", id).Delete(&model.Grant{})
	if res.Error != nil {
		return fmt.Errorf("delete grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// DeleteGrantsForTenant removes every grant scoped to the tenant.
func (s *Store) DeleteGrantsForTenant(ctx context.Context, tenantID string) error {
	if err := s.conn(ctx).Where("tenant_id = ?", tenantID).Delete(&model.Grant{}).Error; err != nil {
		return fmt.Errorf("delete tenant grants: %w", err)
	}
	return nil
}

// CountOwners returns the number of global owner grants in the system.
func (s *Store) CountOwners(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Grant{}).
		Where("scope_key = ? AND role = ?", model.GlobalScope, model.RoleOwner).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return n, nil
}
