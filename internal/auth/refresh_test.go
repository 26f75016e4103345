package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/clientpulse/internal/auth"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/d9705996/clientpulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshStore_Rotate(t *testing.T) {
	gormDB := testutil.NewDB(t)
	st := store.New(gormDB)
	rs := auth.NewRefreshStore(gormDB)
	ctx := context.Background()
	p := testutil.Principal(t, st, "p@example.com")

	first, err := rs.IssueRefreshToken(ctx, p, time.Hour)
	require.NoError(t, err)

	second, owner, err := rs.RotateRefreshToken(ctx, first, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, p, owner)
	assert.NotEqual(t, first, second)

	_, _, err = rs.RotateRefreshToken(ctx, first, time.Hour)
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken, "a rotated token is spent")

	_, _, err = rs.RotateRefreshToken(ctx, second, time.Hour)
	require.NoError(t, err)
}

func TestRefreshStore_RejectsExpiredAndRevoked(t *testing.T) {
	gormDB := testutil.NewDB(t)
	st := store.New(gormDB)
	rs := auth.NewRefreshStore(gormDB)
	ctx := context.Background()
	p := testutil.Principal(t, st, "p@example.com")

	expired, err := rs.IssueRefreshToken(ctx, p, -time.Minute)
	require.NoError(t, err)
	_, _, err = rs.RotateRefreshToken(ctx, expired, time.Hour)
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	live, err := rs.IssueRefreshToken(ctx, p, time.Hour)
	require.NoError(t, err)
	require.NoError(t, rs.RevokeRefreshToken(ctx, live))
	_, _, err = rs.RotateRefreshToken(ctx, live, time.Hour)
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	_, _, err = rs.RotateRefreshToken(ctx, "unknown", time.Hour)
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
}

func TestRefreshStore_RevokeAllForPrincipal(t *testing.T) {
	gormDB := testutil.NewDB(t)
	st := store.New(gormDB)
	rs := auth.NewRefreshStore(gormDB)
	ctx := context.Background()
	p := testutil.Principal(t, st, "p@example.com")

	a, err := rs.IssueRefreshToken(ctx, p, time.Hour)
	require.NoError(t, err)
	b, err := rs.IssueRefreshToken(ctx, p, time.Hour)
	require.NoError(t, err)
	require.NoError(t, rs.RevokeAllForPrincipal(ctx, p))

	for _, tok := range []string{a, b} {
		_, _, err := rs.RotateRefreshToken(ctx, tok, time.Hour)
		require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
	}
}

func TestRefreshStore_ConcurrentRotateOnce(t *testing.T) {
	gormDB := testutil.NewDB(t)
	st := store.New(gormDB)
	rs := auth.NewRefreshStore(gormDB)
	ctx := context.Background()
	p := testutil.Principal(t, st, "p@example.com")
	tok, err := rs.IssueRefreshToken(ctx, p, time.Hour)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := rs.RotateRefreshToken(ctx, tok, time.Hour); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
