package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/store"
)

// GrantLockKey names the exclusive section every grant write runs in. It is
// used both for the in-process lock and the PostgreSQL advisory lock.
const GrantLockKey = "clientpulse:grants"

type invalidator interface {
	Invalidate(principalIDs ...string)
}

// GrantTx is an open grant transaction. All changes made through it commit
// or roll back together, and the last-owner invariant is checked against the
// state inside the transaction.
type GrantTx struct {
	st      *store.Store
	touched []string
}

// Store returns the transaction-bound store so callers can make related
// writes in the same transaction.
func (g *GrantTx) Store() *store.Store { return g.st }

// WithGrantTx runs fn in a transaction holding the grant lock. Resolved
// identities of every principal fn touched are invalidated after commit.
//
// fn must not call back into the engine's Authorize: on SQLite the
// transaction holds the only connection. Authorize before opening it.
func (e *Engine) WithGrantTx(ctx context.Context, fn func(*GrantTx) error) error {
	unlock, err := e.locks.Lock(ctx, GrantLockKey)
	if err != nil {
		return fmt.Errorf("acquire grant lock: %w", err)
	}
	defer unlock()

	var touched []string
	err = e.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.AdvisoryLock(ctx, GrantLockKey); err != nil {
			return err
		}
		gt := &GrantTx{st: tx}
		if err := fn(gt); err != nil {
			return err
		}
		touched = gt.touched
		return nil
	})
	if err != nil {
		return err
	}
	if inv, ok := e.resolver.(invalidator); ok && len(touched) > 0 {
		inv.Invalidate(touched...)
	}
	return nil
}

// Apply gives principalID the role in the scope, creating or updating the
// grant. It performs no authorization. Owner is only valid globally.
func (g *GrantTx) Apply(ctx context.Context, principalID string, tenantID *string, role model.Role) (model.Grant, error) {
	if !role.Valid() {
		return model.Grant{}, fmt.Errorf("%w: unknown role %q", ErrInvalidGrant, role)
	}
	if role == model.RoleOwner && tenantID != nil {
		return model.Grant{}, fmt.Errorf("%w: owner can only be granted globally", ErrInvalidGrant)
	}
	if _, err := g.st.GetPrincipal(ctx, principalID); err != nil {
		return model.Grant{}, err
	}
	if tenantID != nil {
		if _, err := g.st.TenantKind(ctx, *tenantID); err != nil {
			return model.Grant{}, err
		}
	}

	scope := model.ScopeKeyFor(tenantID)
	existing, err := g.st.GetGrant(ctx, principalID, scope)
	switch {
	case errors.Is(err, store.ErrGrantNotFound):
		grant := model.Grant{PrincipalID: principalID, ScopeKey: scope, TenantID: tenantID, Role: role}
		if err := g.st.SaveGrant(ctx, &grant); err != nil {
			return model.Grant{}, err
		}
		g.touch(principalID)
		return grant, nil
	case err != nil:
		return model.Grant{}, err
	}

	if existing.Role == role {
		return existing, nil
	}
	if existing.Role == model.RoleOwner {
		if err := g.ensureAnotherOwner(ctx); err != nil {
			return model.Grant{}, err
		}
	}
	existing.Role = role
	if err := g.st.SaveGrant(ctx, &existing); err != nil {
		return model.Grant{}, err
	}
	g.touch(principalID)
	return existing, nil
}

// Revoke deletes the principal's grant in the scope.
func (g *GrantTx) Revoke(ctx context.Context, principalID string, tenantID *string) error {
	existing, err := g.st.GetGrant(ctx, principalID, model.ScopeKeyFor(tenantID))
	if err != nil {
		return err
	}
	if existing.IsGlobal() && existing.Role == model.RoleOwner {
		if err := g.ensureAnotherOwner(ctx); err != nil {
			return err
		}
	}
	if err := g.st.DeleteGrant(ctx, existing.ID); err != nil {
		return err
	}
	g.touch(principalID)
	return nil
}

// RevokeAllForTenant deletes every grant scoped to tenantID. Owner grants
// are global, so this never affects the last-owner invariant.
func (g *GrantTx) RevokeAllForTenant(ctx context.Context, tenantID string) error {
	grants, err := g.st.ListGrantsForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := g.st.DeleteGrantsForTenant(ctx, tenantID); err != nil {
		return err
	}
	for _, gr := range grants {
		g.touch(gr.PrincipalID)
	}
	return nil
}

func (g *GrantTx) ensureAnotherOwner(ctx context.Context) error {
	n, err := g.st.CountOwners(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastOwnerRevocation
	}
	return nil
}

func (g *GrantTx) touch(principalID string) {
	g.touched = append(g.touched, principalID)
}

// SetGrant authorizes actor for admin_manage_users in the grant's scope and
// then applies the grant atomically.
func (e *Engine) SetGrant(ctx context.Context, actor, principalID string, tenantID *string, role model.Role) (model.Grant, error) {
	if err := e.Require(ctx, actor, tenantID, ActionAdminManageUsers); err != nil {
		return model.Grant{}, err
	}
	var out model.Grant
	err := e.WithGrantTx(ctx, func(tx *GrantTx) error {
		g, err := tx.Apply(ctx, principalID, tenantID, role)
		out = g
		return err
	})
	if err != nil {
		return model.Grant{}, err
	}
	e.log.InfoContext(ctx, "grant set",
		"actor", actor, "principal_id", principalID, "tenant_id", deref(tenantID), "role", string(role))
	return out, nil
}

// RevokeGrant authorizes actor and deletes the principal's grant in scope.
func (e *Engine) RevokeGrant(ctx context.Context, actor, principalID string, tenantID *string) error {
	if err := e.Require(ctx, actor, tenantID, ActionAdminManageUsers); err != nil {
		return err
	}
	err := e.WithGrantTx(ctx, func(tx *GrantTx) error {
		return tx.Revoke(ctx, principalID, tenantID)
	})
	if err != nil {
		return err
	}
	e.log.InfoContext(ctx, "grant revoked",
		"actor", actor, "principal_id", principalID, "tenant_id", deref(tenantID))
	return nil
}
