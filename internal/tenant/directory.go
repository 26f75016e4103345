// Package tenant is the directory of client organisations and their data
// feeds. Every operation is authorized through the policy engine before it
// touches storage.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/d9705996/clientpulse/internal/lock"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
)

// ErrInvalidTenant wraps every validation failure of a tenant or feed.
var ErrInvalidTenant = errors.New("invalid tenant")

// FeedSpec describes a feed to attach to a tenant.
type FeedSpec struct {
	Name       string
	Kind       model.FeedKind
	Locator    string
	SubSources []string
}

// Spec describes a tenant to create.
type Spec struct {
	Name         string
	Slug         string
	Kind         model.TenantKind // empty means standard
	Categories   []string
	LogoURL      string
	PrimaryColor string
	Feeds        []FeedSpec
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name         *string
	Slug         *string
	Kind         *model.TenantKind
	Categories   *[]string
	LogoURL      *string
	PrimaryColor *string
}

func (p Patch) touchesBranding() bool {
	return p.LogoURL != nil || p.PrimaryColor != nil
}

// FeedPatch is a partial feed update. A feed's kind is fixed at creation.
type FeedPatch struct {
	Name       *string
	Locator    *string
	SubSources *[]string
}

// Directory manages tenants and feeds.
type Directory struct {
	store  *store.Store
	engine *policy.Engine
	locks  *lock.Keyed
	log    *slog.Logger
}

// NewDirectory returns a Directory. locks must be the same instance the
// ingest reconciler uses.
func NewDirectory(st *store.Store, engine *policy.Engine, locks *lock.Keyed, log *slog.Logger) *Directory {
	return &Directory{store: st, engine: engine, locks: locks, log: log}
}

// Create inserts a new tenant with its feeds. It needs write at global
// scope, plus branding or user administration rights when the spec sets
// branding or asks for an internal dashboard.
func (d *Directory) Create(ctx context.Context, actor string, s Spec) (model.Tenant, error) {
	if err := d.engine.Require(ctx, actor, nil, policy.ActionWrite); err != nil {
		return model.Tenant{}, err
	}
	if s.LogoURL != "" || s.PrimaryColor != "" {
		if err := d.engine.Require(ctx, actor, nil, policy.ActionAdminManageBranding); err != nil {
			return model.Tenant{}, err
		}
	}
	if s.Kind == "" {
		s.Kind = model.TenantStandard
	}
	if s.Kind != model.TenantStandard {
		if err := d.engine.Require(ctx, actor, nil, policy.ActionAdminManageUsers); err != nil {
			return model.Tenant{}, err
		}
	}

	t := model.Tenant{
		Name:         s.Name,
		Slug:         strings.TrimSpace(s.Slug),
		Kind:         s.Kind,
		Categories:   model.StringSlice(s.Categories),
		LogoURL:      strings.TrimSpace(s.LogoURL),
		PrimaryColor: strings.TrimSpace(s.PrimaryColor),
	}
	if err := validateTenant(&t); err != nil {
		return model.Tenant{}, err
	}
	for _, fs := range s.Feeds {
		f := model.Feed{Name: fs.Name, Kind: fs.Kind, Locator: fs.Locator, SubSources: model.StringSlice(fs.SubSources)}
		if err := validateFeed(&f); err != nil {
			return model.Tenant{}, err
		}
		t.Feeds = append(t.Feeds, f)
	}

	taken, err := d.store.SlugTaken(ctx, t.Slug, "")
	if err != nil {
		return model.Tenant{}, err
	}
	if taken {
		return model.Tenant{}, store.ErrDuplicateSlug
	}
	if err := d.store.CreateTenant(ctx, &t); err != nil {
		return model.Tenant{}, err
	}
	d.log.InfoContext(ctx, "tenant created", "actor", actor, "tenant_id", t.ID, "slug", t.Slug)
	return t, nil
}

// Get returns one tenant the actor may read.
func (d *Directory) Get(ctx context.Context, actor, id string) (model.Tenant, error) {
	if err := d.engine.Require(ctx, actor, &id, policy.ActionRead); err != nil {
		return model.Tenant{}, err
	}
	return d.store.GetTenant(ctx, id)
}

// Update applies a patch. Write on the tenant is always required; branding
// fields also need admin_manage_branding and a kind change needs
// admin_manage_users.
func (d *Directory) Update(ctx context.Context, actor, id string, p Patch) (model.Tenant, error) {
	if err := d.engine.Require(ctx, actor, &id, policy.ActionWrite); err != nil {
		return model.Tenant{}, err
	}
	if p.touchesBranding() {
		if err := d.engine.Require(ctx, actor, &id, policy.ActionAdminManageBranding); err != nil {
			return model.Tenant{}, err
		}
	}

	unlock, err := d.locks.Lock(ctx, lock.TenantKey(id))
	if err != nil {
		return model.Tenant{}, err
	}
	defer unlock()

	t, err := d.store.GetTenant(ctx, id)
	if err != nil {
		return model.Tenant{}, err
	}
	if p.Kind != nil && *p.Kind != t.Kind {
		if err := d.engine.Require(ctx, actor, &id, policy.ActionAdminManageUsers); err != nil {
			return model.Tenant{}, err
		}
		t.Kind = *p.Kind
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Slug != nil {
		t.Slug = strings.TrimSpace(*p.Slug)
	}
	if p.Categories != nil {
		t.Categories = model.StringSlice(*p.Categories)
	}
	if p.LogoURL != nil {
		t.LogoURL = strings.TrimSpace(*p.LogoURL)
	}
	if p.PrimaryColor != nil {
		t.PrimaryColor = strings.TrimSpace(*p.PrimaryColor)
	}
	if err := validateTenant(&t); err != nil {
		return model.Tenant{}, err
	}

	taken, err := d.store.SlugTaken(ctx, t.Slug, t.ID)
	if err != nil {
		return model.Tenant{}, err
	}
	if taken {
		return model.Tenant{}, store.ErrDuplicateSlug
	}
	if err := d.store.SaveTenant(ctx, &t); err != nil {
		return model.Tenant{}, err
	}
	d.log.InfoContext(ctx, "tenant updated", "actor", actor, "tenant_id", t.ID)
	return t, nil
}

// Delete removes the tenant together with its feeds, grants and
// observations in one transaction. It needs admin_manage_users on the tenant.
func (d *Directory) Delete(ctx context.Context, actor, id string) error {
	if err := d.engine.Require(ctx, actor, &id, policy.ActionAdminManageUsers); err != nil {
		return err
	}

	unlock, err := d.locks.Lock(ctx, lock.TenantKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	err = d.engine.WithGrantTx(ctx, func(tx *policy.GrantTx) error {
		if err := tx.Store().AdvisoryLock(ctx, lock.TenantKey(id)); err != nil {
			return err
		}
		if err := tx.RevokeAllForTenant(ctx, id); err != nil {
			return err
		}
		return tx.Store().DeleteTenant(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete tenant %s: %w", id, err)
	}
	d.log.InfoContext(ctx, "tenant deleted", "actor", actor, "tenant_id", id)
	return nil
}

// ListVisibleTo returns the tenants the principal may see: all of them for
// owners and operators, otherwise exactly the explicitly granted ones minus
// internal dashboards.
func (d *Directory) ListVisibleTo(ctx context.Context, principalID string) ([]model.Tenant, error) {
	id, err := d.engine.Resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if id.GlobalRole == model.RoleOwner || id.GlobalRole == model.RoleOperator {
		return d.store.ListTenants(ctx, nil)
	}

	tenants, err := d.store.ListTenants(ctx, id.TenantIDs())
	if err != nil {
		return nil, err
	}
	visible := tenants[:0]
	for _, t := range tenants {
		if t.Kind == model.TenantInternalDashboard {
			continue
		}
		visible = append(visible, t)
	}
	return visible, nil
}

// AddFeed attaches a new feed to the tenant.
func (d *Directory) AddFeed(ctx context.Context, actor, tenantID string, fs FeedSpec) (model.Feed, error) {
	if err := d.engine.Require(ctx, actor, &tenantID, policy.ActionWrite); err != nil {
		return model.Feed{}, err
	}
	f := model.Feed{
		TenantID:   tenantID,
		Name:       fs.Name,
		Kind:       fs.Kind,
		Locator:    fs.Locator,
		SubSources: model.StringSlice(fs.SubSources),
	}
	if err := validateFeed(&f); err != nil {
		return model.Feed{}, err
	}

	unlock, err := d.locks.Lock(ctx, lock.TenantKey(tenantID))
	if err != nil {
		return model.Feed{}, err
	}
	defer unlock()

	if _, err := d.store.TenantKind(ctx, tenantID); err != nil {
		return model.Feed{}, err
	}
	if err := d.store.CreateFeed(ctx, &f); err != nil {
		return model.Feed{}, err
	}
	d.log.InfoContext(ctx, "feed added", "actor", actor, "tenant_id", tenantID, "feed_id", f.ID)
	return f, nil
}

// UpdateFeed applies a feed patch. Narrowing the sub-source list does not
// remove observations already merged from dropped sub-sources.
func (d *Directory) UpdateFeed(ctx context.Context, actor, tenantID, feedID string, p FeedPatch) (model.Feed, error) {
	if err := d.engine.Require(ctx, actor, &tenantID, policy.ActionWrite); err != nil {
		return model.Feed{}, err
	}

	unlock, err := d.locks.Lock(ctx, lock.TenantKey(tenantID))
	if err != nil {
		return model.Feed{}, err
	}
	defer unlock()

	f, err := d.store.GetFeed(ctx, tenantID, feedID)
	if err != nil {
		return model.Feed{}, err
	}
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Locator != nil {
		f.Locator = *p.Locator
	}
	if p.SubSources != nil {
		f.SubSources = model.StringSlice(*p.SubSources)
	}
	if err := validateFeed(&f); err != nil {
		return model.Feed{}, err
	}
	f.UpdatedAt = time.Now().UTC()
	if err := d.store.SaveFeed(ctx, &f); err != nil {
		return model.Feed{}, err
	}
	return f, nil
}

// RemoveFeed detaches a feed and deletes the observations it produced.
func (d *Directory) RemoveFeed(ctx context.Context, actor, tenantID, feedID string) error {
	if err := d.engine.Require(ctx, actor, &tenantID, policy.ActionWrite); err != nil {
		return err
	}

	unlock, err := d.locks.Lock(ctx, lock.TenantKey(tenantID))
	if err != nil {
		return err
	}
	defer unlock()

	err = d.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.AdvisoryLock(ctx, lock.TenantKey(tenantID)); err != nil {
			return err
		}
		return tx.DeleteFeed(ctx, tenantID, feedID)
	})
	if err != nil {
		return err
	}
	d.log.InfoContext(ctx, "feed removed", "actor", actor, "tenant_id", tenantID, "feed_id", feedID)
	return nil
}
