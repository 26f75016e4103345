// Package identity resolves a principal into its global role and the set of
// tenants it holds a role on. Resolution is a pure read; every authorization
// decision in clientpulse starts here.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/d9705996/clientpulse/internal/model"
)

// ErrResolutionUnavailable is returned when the grant store cannot be read.
// Callers must deny.
var ErrResolutionUnavailable = errors.New("identity resolution unavailable")

// TenantGrant is one tenant-scoped role held by a principal.
type TenantGrant struct {
	TenantID string     `json:"tenant_id"`
	Role     model.Role `json:"role"`
}

// Identity is the resolved access picture of one principal.
type Identity struct {
	PrincipalID string        `json:"principal_id"`
	GlobalRole  model.Role    `json:"global_role"`
	Tenants     []TenantGrant `json:"tenants"`
}

// TenantRole returns the role the identity holds on tenantID, if any.
func (id Identity) TenantRole(tenantID string) (model.Role, bool) {
	for _, g := range id.Tenants {
		if g.TenantID == tenantID {
			return g.Role, true
		}
	}
	return "", false
}

// TenantIDs returns the ids of every tenant the identity holds a grant on.
func (id Identity) TenantIDs() []string {
	ids := make([]string, 0, len(id.Tenants))
	for _, g := range id.Tenants {
		ids = append(ids, g.TenantID)
	}
	return ids
}

// Resolver turns a principal id into an Identity.
type Resolver interface {
	Resolve(ctx context.Context, principalID string) (Identity, error)
}

// GrantLister is the read side of the grant store.
type GrantLister interface {
	ListGrants(ctx context.Context, principalID string) ([]model.Grant, error)
}

// StoreResolver resolves identities straight from the grant store.
type StoreResolver struct {
	grants GrantLister
	log    *slog.Logger
}

// NewResolver returns a StoreResolver reading from grants.
func NewResolver(grants GrantLister, log *slog.Logger) *StoreResolver {
	return &StoreResolver{grants: grants, log: log}
}

// Resolve reads every grant of principalID. A principal without a global grant
// is a member with no implicit tenant access. Grants carrying a role outside
// the known set are ignored rather than trusted.
func (r *StoreResolver) Resolve(ctx context.Context, principalID string) (Identity, error) {
	grants, err := r.grants.ListGrants(ctx, principalID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrResolutionUnavailable, err)
	}

	id := Identity{PrincipalID: principalID, GlobalRole: model.RoleMember, Tenants: []TenantGrant{}}
	for _, g := range grants {
		if !g.Role.Valid() {
			r.log.WarnContext(ctx, "ignoring grant with unknown role",
				"grant_id", g.ID, "principal_id", principalID, "role", string(g.Role))
			continue
		}
		if g.IsGlobal() {
			id.GlobalRole = g.Role
			continue
		}
		if g.Role == model.RoleOwner {
			r.log.WarnContext(ctx, "ignoring tenant-scoped owner grant",
				"grant_id", g.ID, "principal_id", principalID)
			continue
		}
		id.Tenants = append(id.Tenants, TenantGrant{TenantID: *g.TenantID, Role: g.Role})
	}
	return id, nil
}
