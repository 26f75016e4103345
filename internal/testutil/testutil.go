// Package testutil builds throwaway SQLite-backed stores and fixtures for
// package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/d9705996/clientpulse/internal/config"
	"github.com/d9705996/clientpulse/internal/db"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/d9705996/clientpulse/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB opens a migrated SQLite database in the test's temp dir.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, _, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gormDB
}

// NewStore returns a Store over a fresh database.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(NewDB(t))
}

// NullLogger discards everything.
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Principal inserts a principal with the given email and returns its id.
func Principal(t *testing.T, st *store.Store, email string) string {
	t.Helper()
	p := &model.Principal{Email: email, Name: email}
	require.NoError(t, st.CreatePrincipal(context.Background(), p))
	return p.ID
}

// Grant writes a grant directly, bypassing authorization and invariants.
func Grant(t *testing.T, st *store.Store, principalID string, tenantID *string, role model.Role) {
	t.Helper()
	g := &model.Grant{
		PrincipalID: principalID,
		ScopeKey:    model.ScopeKeyFor(tenantID),
		TenantID:    tenantID,
		Role:        role,
	}
	require.NoError(t, st.SaveGrant(context.Background(), g))
}

// Tenant inserts a tenant with one spreadsheet feed whose sub-sources are
// tabs, and returns the tenant id and feed id.
func Tenant(t *testing.T, st *store.Store, slug string, kind model.TenantKind, tabs ...string) (tenantID, feedID string) {
	t.Helper()
	tn := &model.Tenant{
		Name: slug,
		Slug: slug,
		Kind: kind,
		Feeds: []model.Feed{{
			Name:       "main sheet",
			Kind:       model.FeedSpreadsheet,
			Locator:    "sheet-" + slug,
			SubSources: model.StringSlice(tabs),
		}},
	}
	require.NoError(t, st.CreateTenant(context.Background(), tn))
	return tn.ID, tn.Feeds[0].ID
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
