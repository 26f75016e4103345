package model_test

import (
	"testing"
	"time"

	"github.com/d9705996/clientpulse/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := model.ParseRole(" Operator ")
	require.NoError(t, err)
	assert.Equal(t, model.RoleOperator, r)

	_, err = model.ParseRole("admin")
	require.Error(t, err)
}

func TestParseValueKind_DefaultsToActual(t *testing.T) {
	k, err := model.ParseValueKind("")
	require.NoError(t, err)
	assert.Equal(t, model.ValueActual, k)

	_, err = model.ParseValueKind("forecast")
	require.Error(t, err)
}

func TestParseTenantKind(t *testing.T) {
	k, err := model.ParseTenantKind("")
	require.NoError(t, err)
	assert.Equal(t, model.TenantStandard, k)

	k, err = model.ParseTenantKind("internal-operator-dashboard")
	require.NoError(t, err)
	assert.Equal(t, model.TenantInternalDashboard, k)

	_, err = model.ParseTenantKind("client")
	require.Error(t, err)
}

func TestInvitationStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	inv := model.Invitation{ExpiresAt: now.Add(time.Hour)}
	assert.Equal(t, model.InvitationPending, inv.Status(now))
	assert.Equal(t, model.InvitationExpired, inv.Status(now.Add(time.Hour)))

	used := now
	inv.UsedAt = &used
	assert.Equal(t, model.InvitationAccepted, inv.Status(now.Add(2*time.Hour)))

	inv.RevokedAt = &used
	assert.Equal(t, model.InvitationRevoked, inv.Status(now))
}

func TestScopeKeyFor(t *testing.T) {
	assert.Equal(t, model.GlobalScope, model.ScopeKeyFor(nil))
	id := "t-1"
	assert.Equal(t, "t-1", model.ScopeKeyFor(&id))
}
