//go:build integration

package ingest_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/clientpulse/internal/config"
	"github.com/d9705996/clientpulse/internal/db"
	"github.com/d9705996/clientpulse/internal/identity"
	"github.com/d9705996/clientpulse/internal/ingest"
	"github.com/d9705996/clientpulse/internal/lock"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/policy"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/d9705996/clientpulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T, ctx context.Context) *store.Store {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "clientpulse",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	gormDB, pool, err := db.New(ctx, &config.DBConfig{
		Driver:   "postgres",
		DSN:      fmt.Sprintf("postgres://test:test@%s:%s/clientpulse?sslmode=disable", host, port.Port()),
		MaxConns: 8,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return store.New(gormDB)
}

// Two reconcilers with separate in-process locks stand in for two server
// instances; the advisory lock must still serialise their merges.
func TestIntegration_MergeAcrossInstances(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t, ctx)
	log := testutil.NullLogger()

	writer := testutil.Principal(t, st, "importer@example.com")
	testutil.Grant(t, st, writer, nil, model.RoleOperator)
	tenantID, feedID := testutil.Tenant(t, st, "acme", model.TenantStandard, "Q1")
	src := ingest.SourceDescriptor{SourceID: feedID, SubSource: "Q1"}

	newInstance := func() *ingest.Reconciler {
		locks := &lock.Keyed{}
		engine := policy.NewEngine(st, identity.NewResolver(st, log), locks, log)
		rec, err := ingest.NewReconciler(st, engine, locks, ingest.Config{ChunkSize: 2}, log)
		require.NoError(t, err)
		return rec
	}
	instances := []*ingest.Reconciler{newInstance(), newInstance()}

	var (
		mu       sync.Mutex
		inserted int
		wg       sync.WaitGroup
	)
	for i := range 6 {
		wg.Add(1)
		go func(rec *ingest.Reconciler, v float64) {
			defer wg.Done()
			res, err := rec.Merge(ctx, writer, tenantID, src, []ingest.RawObservation{
				obs("2025-01-01", "sales", "Leads", v),
				obs("2025-01-01", "sales", "Clicks", v*5),
				obs("2025-01-02", "sales", "Leads", v),
			})
			if assert.NoError(t, err) {
				mu.Lock()
				inserted += res.Inserted
				mu.Unlock()
			}
		}(instances[i%2], float64(i+1))
	}
	wg.Wait()

	assert.Equal(t, 3, inserted)
	got, err := st.QueryObservations(ctx, tenantID, store.ObservationQuery{Kind: model.ValueActual})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestIntegration_SessionLockSpansTransactions(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t, ctx)
	key := lock.TenantKey("acme")

	release, err := st.SessionLock(ctx, key)
	require.NoError(t, err)

	for range 2 {
		require.NoError(t, st.WithTx(ctx, func(*store.Store) error { return nil }))
	}
	blocked, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err = st.WithTx(blocked, func(tx *store.Store) error { return tx.AdvisoryLock(blocked, key) })
	require.Error(t, err, "another session waits while the lock is held")

	release()
	require.NoError(t, st.WithTx(ctx, func(tx *store.Store) error { return tx.AdvisoryLock(ctx, key) }))
}

func TestIntegration_DuplicateSlugMapsOnPostgres(t *testing.T) {
	ctx := context.Background()
	st := setupPostgres(t, ctx)

	require.NoError(t, st.CreateTenant(ctx, &model.Tenant{Name: "Acme", Slug: "acme", Kind: model.TenantStandard}))
	err := st.CreateTenant(ctx, &model.Tenant{Name: "Acme", Slug: "acme", Kind: model.TenantStandard})
	require.ErrorIs(t, err, store.ErrDuplicateSlug)
}
