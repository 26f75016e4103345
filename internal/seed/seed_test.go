package seed_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/d9705996/clientpulse/internal/auth"
	"github.com/d9705996/clientpulse/internal/identity"
	"github.com/d9705996/clientpulse/internal/lock"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/seed"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/d9705996/clientpulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(st *store.Store) *policy.Engine {
	log := testutil.NullLogger()
	return policy.NewEngine(st, identity.NewResolver(st, log), &lock.Keyed{}, log)
}

func TestEnsureOwner_GeneratesPasswordOnce(t *testing.T) {
	st := testutil.NewStore(t)
	engine := newEngine(st)
	ctx := context.Background()
	var out bytes.Buffer

	opts := seed.OwnerOptions{Email: "Owner@Example.com", Out: &out}
	require.NoError(t, seed.EnsureOwner(ctx, st, engine, opts, testutil.NullLogger()))
	require.Contains(t, out.String(), "[clientpulse] seed owner password: ")
	password := strings.TrimSpace(strings.TrimPrefix(out.String(), "[clientpulse] seed owner password: "))

	p, err := auth.NewAccounts(st).Login(ctx, "owner@example.com", password)
	require.NoError(t, err)
	d, err := engine.Authorize(ctx, p.ID, nil, policy.ActionAdminManageUsers)
	require.NoError(t, err)
	assert.Equal(t, policy.Allow, d)

	out.Reset()
	require.NoError(t, seed.EnsureOwner(ctx, st, engine, opts, testutil.NullLogger()))
	assert.Empty(t, out.String(), "second boot prints nothing")
	n, err := st.CountOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnsureOwner_SuppliedPassword(t *testing.T) {
	st := testutil.NewStore(t)
	var out bytes.Buffer
	opts := seed.OwnerOptions{Email: "owner@example.com", Password: "my-supplied-password", Out: &out}
	require.NoError(t, seed.EnsureOwner(context.Background(), st, newEngine(st), opts, testutil.NullLogger()))
	assert.Empty(t, out.String())

	_, err := auth.NewAccounts(st).Login(context.Background(), "owner@example.com", "my-supplied-password")
	require.NoError(t, err)
}

func TestEnsureOwner_PromotesExistingPrincipal(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	id := testutil.Principal(t, st, "owner@example.com")

	require.NoError(t, seed.EnsureOwner(ctx, st, newEngine(st), seed.OwnerOptions{Email: "owner@example.com"}, testutil.NullLogger()))
	grants, err := st.ListGrants(ctx, id)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, model.RoleOwner, grants[0].Role)
}

func TestEnsureOwner_SkipsWhenOwnerExists(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	existing := testutil.Principal(t, st, "first@example.com")
	testutil.Grant(t, st, existing, nil, model.RoleOwner)

	require.NoError(t, seed.EnsureOwner(ctx, st, newEngine(st), seed.OwnerOptions{Email: "owner@example.com"}, testutil.NullLogger()))
	_, err := st.GetPrincipalByEmail(ctx, "owner@example.com")
	require.ErrorIs(t, err, store.ErrPrincipalNotFound)
}

func TestEnsureOwner_RequiresEmail(t *testing.T) {
	st := testutil.NewStore(t)
	require.Error(t, seed.EnsureOwner(context.Background(), st, newEngine(st), seed.OwnerOptions{}, testutil.NullLogger()))
}
