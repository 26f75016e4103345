package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/d9705996/clientpulse/internal/identity"
	"github.com/d9705996/clientpulse/internal/lock"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/d9705996/clientpulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allActions = []policy.Action{
	policy.ActionRead, policy.ActionWrite, policy.ActionAdminManageUsers, policy.ActionAdminManageBranding,
}

func newEngine(t *testing.T) (*policy.Engine, *store.Store) {
	t.Helper()
	st := testutil.NewStore(t)
	log := testutil.NullLogger()
	return policy.NewEngine(st, identity.NewResolver(st, log), &lock.Keyed{}, log), st
}

func authorize(t *testing.T, e *policy.Engine, p string, tenantID *string, a policy.Action) policy.Decision {
	t.Helper()
	d, err := e.Authorize(context.Background(), p, tenantID, a)
	require.NoError(t, err)
	return d
}

func TestAuthorize_DenyByDefault(t *testing.T) {
	e, st := newEngine(t)
	p := testutil.Principal(t, st, "nobody@example.com")
	acme, _ := testutil.Tenant(t, st, "acme", model.TenantStandard)

	for _, a := range allActions {
		assert.Equal(t, policy.Deny, authorize(t, e, p, &acme, a), a)
		assert.Equal(t, policy.Deny, authorize(t, e, p, nil, a), a)
	}
	assert.Equal(t, policy.Deny, authorize(t, e, "no-such-principal", &acme, policy.ActionRead))
}

func TestAuthorize_OwnerSupremacy(t *testing.T) {
	e, st := newEngine(t)
	owner := testutil.Principal(t, st, "owner@example.com")
	testutil.Grant(t, st, owner, nil, model.RoleOwner)
	acme, _ := testutil.Tenant(t, st, "acme", model.TenantStandard)
	internal, _ := testutil.Tenant(t, st, "ops", model.TenantInternalDashboard)
	unknown := "missing"

	for _, a := range allActions {
		for _, tid := range []*string{nil, &acme, &internal, &unknown} {
			assert.Equal(t, policy.Allow, authorize(t, e, owner, tid, a), a)
		}
	}
}

func TestAuthorize_MemberReadOnlyScenario(t *testing.T) {
	e, st := newEngine(t)
	p := testutil.Principal(t, st, "member@example.com")
	acme, _ := testutil.Tenant(t, st, "acme", model.TenantStandard)
	other, _ := testutil.Tenant(t, st, "other", model.TenantStandard)
	testutil.Grant(t, st, p, &acme, model.RoleMember)

	assert.Equal(t, policy.Deny, authorize(t, e, p, &acme, policy.ActionWrite))
	assert.Equal(t, policy.Allow, authorize(t, e, p, &acme, policy.ActionRead))
	assert.Equal(t, policy.Deny, authorize(t, e, p, &other, policy.ActionRead))
	assert.Equal(t, policy.Deny, authorize(t, e, p, nil, policy.ActionRead))
}

func TestAuthorize_TenantOperator(t *testing.T) {
	e, st := newEngine(t)
	p := testutil.Principal(t, st, "tenantop@example.com")
	acme, _ := testutil.Tenant(t, st, "acme", model.TenantStandard)
	testutil.Grant(t, st, p, &acme, model.RoleOperator)

	assert.Equal(t, policy.Allow, authorize(t, e, p, &acme, policy.ActionRead))
	assert.Equal(t, policy.Allow, authorize(t, e, p, &acme, policy.ActionWrite))
	assert.Equal(t, policy.Deny, authorize(t, e, p, &acme, policy.ActionAdminManageUsers))
	assert.Equal(t, policy.Deny, authorize(t, e, p, &acme, policy.ActionAdminManageBranding))
}

func TestAuthorize_GlobalOperator(t *testing.T) {
	e, st := newEngine(t)
	p := testutil.Principal(t, st, "op@example.com")
	testutil.Grant(t, st, p, nil, model.RoleOperator)
	acme, _ := testutil.Tenant(t, st, "acme", model.TenantStandard)
	internal, _ := testutil.Tenant(t, st, "ops", model.TenantInternalDashboard)
	unknown := "missing"

	for _, tid := range []*string{nil, &acme, &internal} {
		assert.Equal(t, policy.Allow, authorize(t, e, p, tid, policy.ActionRead))
		assert.Equal(t, policy.Allow, authorize(t, e, p, tid, policy.ActionWrite))
		assert.Equal(t, policy.Deny, authorize(t, e, p, tid, policy.ActionAdminManageUsers))
		assert.Equal(t, policy.Deny, authorize(t, e, p, tid, policy.ActionAdminManageBranding))
	}
	assert.Equal(t, policy.Deny, authorize(t, e, p, &unknown, policy.ActionRead))
}

func TestAuthorize_InternalDashboardHiddenFromMembers(t *testing.T) {
	e, st := newEngine(t)
	p := testutil.Principal(t, st, "member@example.com")
	internal, _ := testutil.Tenant(t, st, "ops", model.TenantInternalDashboard)
	testutil.Grant(t, st, p, &internal, model.RoleOperator)

	assert.Equal(t, policy.Deny, authorize(t, e, p, &internal, policy.ActionRead))
	assert.Equal(t, policy.Deny, authorize(t, e, p, &internal, policy.ActionWrite))
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string) (identity.Identity, error) {
	return identity.Identity{}, identity.ErrResolutionUnavailable
}

func TestAuthorize_ResolutionFailureDenies(t *testing.T) {
	st := testutil.NewStore(t)
	e := policy.NewEngine(st, brokenResolver{}, &lock.Keyed{}, testutil.NullLogger())

	d, err := e.Authorize(context.Background(), "p", nil, policy.ActionRead)
	assert.Equal(t, policy.Deny, d)
	require.ErrorIs(t, err, identity.ErrResolutionUnavailable)

	err = e.Require(context.Background(), "p", nil, policy.ActionRead)
	require.ErrorIs(t, err, identity.ErrResolutionUnavailable)
	assert.False(t, errors.Is(err, policy.ErrUnauthorized))
}

func TestAuthorize_UnknownAction(t *testing.T) {
	e, st := newEngine(t)
	owner := testutil.Principal(t, st, "owner@example.com")
	testutil.Grant(t, st, owner, nil, model.RoleOwner)

	d, err := e.Authorize(context.Background(), owner, nil, policy.Action("delete_everything"))
	assert.Equal(t, policy.Deny, d)
	require.ErrorIs(t, err, policy.ErrUnknownAction)

	_, err = policy.ParseAction("nope")
	require.ErrorIs(t, err, policy.ErrUnknownAction)
	a, err := policy.ParseAction(" Write ")
	require.NoError(t, err)
	assert.Equal(t, policy.ActionWrite, a)
}

func TestRequire_DenialIsUnauthorized(t *testing.T) {
	e, st := newEngine(t)
	p := testutil.Principal(t, st, "nobody@example.com")

	err := e.Require(context.Background(), p, nil, policy.ActionWrite)
	require.ErrorIs(t, err, policy.ErrUnauthorized)
}
