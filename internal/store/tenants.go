package store

import (
	"context"
	"fmt"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
	"gorm.io/gorm"
)

// CreateTenant inserts t together with any feeds it carries.
// Returns ErrDuplicateSlug when the slug is taken.
func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if err := s.conn(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// GetTenant returns the tenant with its feeds.
func (s *Store) GetTenant(ctx context.Context, id string) (model.Tenant, error) {
	var t model.Tenant
	err := s.conn(ctx).
		Preload("Feeds", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		return model.Tenant{}, mapNotFound(err, ErrTenantNotFound)
	}
	return t, nil
}

// TenantKind returns only the kind column of a tenant.
func (s *Store) TenantKind(ctx context.Context, id string) (model.TenantKind, error) {
	var t model.Tenant
	if err := s.conn(ctx).Select("id", "kind").Where("id = ?", id).First(&t).Error; err != nil {
		return "", mapNotFound(err, ErrTenantNotFound)
	}
	return t.Kind, nil
}

// ListTenants returns tenants ordered by name. A nil ids slice lists every
// tenant; an empty one lists none.
func (s *Store) ListTenants(ctx context.Context, ids []string) ([]model.Tenant, error) {
	if ids != nil && len(ids) == 0 {
		return []model.Tenant{}, nil
	}
	q := s.conn(ctx).Preload("Feeds", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") })
	if ids != nil {
		q = q.Where("id IN ?", ids)
	}
	var tenants []model.Tenant
	if err := q.Order("name, id").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// SlugTaken reports whether another tenant already uses slug.
func (s *Store) SlugTaken(ctx context.Context, slug, exceptID string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Tenant{}).
		Where("slug = ? AND id <> ?", slug, exceptID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return n > 0, nil
}

// SaveTenant updates the tenant's own columns; feeds are managed separately.
func (s *Store) SaveTenant(ctx context.Context, t *model.Tenant) error {
	if err := s.conn(ctx).Omit("Feeds").Save(t).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("update tenant: %w", err)
	}
	return nil
}

// DeleteTenant removes the tenant and everything it owns: observations,
// grants and feeds. Call it inside WithTx so the cascade is all-or-nothing.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	db := s.conn(ctx)
	if err := db.Where("tenant_id = ?", id).Delete(&model.MetricObservation{}).Error; err != nil {
		return fmt.Errorf("delete tenant observations: %w", err)
	}
	if err := db.Where("tenant_id = ?", id).Delete(&model.Grant{}).Error; err != nil {
		return fmt.Errorf("delete tenant grants: %w", err)
	}
	if err := db.Where("tenant_id = ?", id).Delete(&model.Feed{}).Error; err != nil {
		return fmt.Errorf("delete tenant feeds: %w", err)
	}
	res := db.Where("id = ?", id).Delete(&model.Tenant{})
	if res.Error != nil {
		return fmt.Errorf("delete tenant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// CreateFeed inserts a feed for an existing tenant.
func (s *Store) CreateFeed(ctx context.Context, f *model.Feed) error {
	if err := s.conn(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	return nil
}

// GetFeed returns a feed owned by the tenant.
func (s *Store) GetFeed(ctx context.Context, tenantID, feedID string) (model.Feed, error) {
	var f model.Feed
	if err := s.conn(ctx).Where("id = ? AND tenant_id = ?", feedID, tenantID).First(&f).Error; err != nil {
		return model.Feed{}, mapNotFound(err, ErrFeedNotFound)
	}
	return f, nil
}

// SaveFeed updates a feed.
func (s *Store) SaveFeed(ctx context.Context, f *model.Feed) error {
	if err := s.conn(ctx).Save(f).Error; err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return nil
}

// DeleteFeed removes a feed and the observations it produced.
func (s *Store) DeleteFeed(ctx context.Context, tenantID, feedID string) error {
	db := s.conn(ctx)
	if err := db.Where("tenant_id = ? AND source_id = ?", tenantID, feedID).Delete(&model.MetricObservation{}).Error; err != nil {
		return fmt.Errorf("delete feed observations: %w", err)
	}
	res := db.Where("id = ? AND tenant_id = ?", feedID, tenantID).Delete(&model.Feed{})
	if res.Error != nil {
		return fmt.Errorf("delete feed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFeedNotFound
	}
	return nil
}

// MarkFeedSynced stamps the feed's last successful merge time.
func (s *Store) MarkFeedSynced(ctx context.Context, feedID string, at time.Time) error {
	err := s.conn(ctx).Model(&model.Feed{}).
		Where("id = ?", feedID).
		Update("last_synced_at", at).Error
	if err != nil {
		return fmt.Errorf("mark feed synced: %w", err)
	}
	return nil
}
