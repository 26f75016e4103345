package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/d9705996/clientpulse/internal/config"
	"github.com/d9705996/clientpulse/internal/db"
	"github.com/d9705996/clientpulse/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SQLiteCreatesSchema(t *testing.T) {
	gormDB, pool, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "schema.db"),
	})
	require.NoError(t, err)
	assert.Nil(t, pool, "sqlite must not open a pgx pool")

	for _, m := range db.Models() {
		assert.True(t, gormDB.Migrator().HasTable(m), "missing table for %T", m)
	}
	assert.True(t, gormDB.Migrator().HasIndex(&model.MetricObservation{}, "idx_observation_key"))
	assert.True(t, gormDB.Migrator().HasIndex(&model.Grant{}, "idx_grants_scope"))

	require.NoError(t, db.NewPinger(gormDB).Ping(context.Background()))
}
