// Package policy decides whether a principal may perform an action on a
// tenant, and owns every change to the grant table.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/d9705996/clientpulse/internal/identity"
	"github.com/d9705996/clientpulse/internal/lock"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/observability"
	"github.com/d9705996/clientpulse/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sentinel errors returned by the engine.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUnknownAction       = errors.New("unknown action")
	ErrInvalidGrant        = errors.New("invalid grant")
	ErrLastOwnerRevocation = errors.New("cannot remove the last owner")
)

// Engine evaluates authorization rules against resolved identities.
type Engine struct {
	store    *store.Store
	resolver identity.Resolver
	locks    *lock.Keyed
	log      *slog.Logger

	decisions metric.Int64Counter
}

// NewEngine returns an Engine. locks is shared with the other writers in the
// process so lock ordering stays consistent.
func NewEngine(st *store.Store, resolver identity.Resolver, locks *lock.Keyed, log *slog.Logger) *Engine {
	decisions, err := observability.For("policy").Counter("decisions",
		"Authorization decisions by action and outcome.")
	if err != nil {
		log.Warn("policy: create decision counter", "err", err)
	}
	return &Engine{store: st, resolver: resolver, locks: locks, log: log, decisions: decisions}
}

// Resolve returns the identity of principalID as the engine sees it.
func (e *Engine) Resolve(ctx context.Context, principalID string) (identity.Identity, error) {
	return e.resolver.Resolve(ctx, principalID)
}

// Authorize evaluates the rules in order, first match wins:
//
//  1. a global owner may do anything;
//  2. at global scope (tenantID nil) an operator may read and write, nobody
//     else may do anything;
//  3. a global operator may read and write any existing tenant;
//  4. a tenant grant lets a member read and an operator read and write;
//  5. otherwise deny.
//
// Admin actions are only ever allowed by rule 1. Tenants that do not exist
// deny everyone but owners, and internal operator dashboards deny every
// principal whose global role is member. Any error comes with Deny.
func (e *Engine) Authorize(ctx context.Context, principalID string, tenantID *string, action Action) (Decision, error) {
	d, err := e.authorize(ctx, principalID, tenantID, action)
	if e.decisions != nil {
		e.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(action)),
			attribute.String("decision", d.String()),
		))
	}
	if d == Deny {
		e.log.DebugContext(ctx, "access denied",
			"principal_id", principalID, "tenant_id", deref(tenantID), "action", string(action), "err", err)
	}
	return d, err
}

func (e *Engine) authorize(ctx context.Context, principalID string, tenantID *string, action Action) (Decision, error) {
	if !action.Valid() {
		return Deny, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	id, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return Deny, err
	}

	if id.GlobalRole == model.RoleOwner {
		return Allow, nil
	}

	if tenantID == nil {
		if id.GlobalRole == model.RoleOperator && !action.Admin() {
			return Allow, nil
		}
		return Deny, nil
	}

	kind, err := e.store.TenantKind(ctx, *tenantID)
	if errors.Is(err, store.ErrTenantNotFound) {
		return Deny, nil
	}
	if err != nil {
		return Deny, fmt.Errorf("%w: %w", identity.ErrResolutionUnavailable, err)
	}
	if kind == model.TenantInternalDashboard && id.GlobalRole == model.RoleMember {
		return Deny, nil
	}
	if action.Admin() {
		return Deny, nil
	}
	if id.GlobalRole == model.RoleOperator {
		return Allow, nil
	}

	role, ok := id.TenantRole(*tenantID)
	if !ok {
		return Deny, nil
	}
	switch {
	case role == model.RoleOperator && (action == ActionRead || action == ActionWrite):
		return Allow, nil
	case role == model.RoleMember && action == ActionRead:
		return Allow, nil
	}
	return Deny, nil
}

// Require is Authorize for callers that only care about the error. A
// denial is reported as ErrUnauthorized; resolution failures keep their own
// error so callers can tell them apart.
func (e *Engine) Require(ctx context.Context, principalID string, tenantID *string, action Action) error {
	d, err := e.Authorize(ctx, principalID, tenantID, action)
	if err != nil {
		return err
	}
	if d != Allow {
		return fmt.Errorf("%w: %s on %s", ErrUnauthorized, action, scopeName(tenantID))
	}
	return nil
}

func scopeName(tenantID *string) string {
	if tenantID == nil {
		return "global scope"
	}
	return "tenant " + *tenantID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
