package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-sync-client/config"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
)

func TestInit_SQLiteFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "store.db")
	gormDB, err := Init(&config.DatabaseConfig{DSN: dsn})
	require.NoError(t, err)

	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	for _, m := range Models {
		assert.True(t, gormDB.Migrator().HasTable(m))
	}
	assert.True(t, gormDB.Migrator().HasIndex(&model.Notification{}, "idx_notifications_subscription_new"))
}

func TestInit_UnwritableLocationIsStorageError(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "missing", "dir", "store.db")
	_, err := Init(&config.DatabaseConfig{DSN: dsn})
	require.Error(t, err)
	assert.Equal(t, errs.Storage, errs.KindOf(err))
}

func TestIsPostgres(t *testing.T) {
	assert.True(t, isPostgres("postgres://user:pw@localhost/db"))
	assert.True(t, isPostgres("host=localhost user=x dbname=y"))
	assert.False(t, isPostgres("notify-sync.db"))
	assert.False(t, isPostgres("file::memory:?cache=shared"))
}
