package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestRun_AppliesInOrderOnce(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	fsys := fstest.MapFS{
		"002_add_col.sql": {Data: []byte(`ALTER TABLE things ADD COLUMN label TEXT`)},
		"001_init.sql":    {Data: []byte(`CREATE TABLE things (id INTEGER PRIMARY KEY)`)},
		"README.md":       {Data: []byte(`not a migration`)},
	}

	pending, err := Pending(ctx, db, fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init", "002_add_col"}, pending)

	require.NoError(t, Run(ctx, db, fsys))
	require.NoError(t, Run(ctx, db, fsys), "second run must be a no-op")

	pending, err = Pending(ctx, db, fsys)
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.NoError(t, db.Exec(`INSERT INTO things (id, label) VALUES (1, 'x')`).Error)
}

func TestRun_FailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	fsys := fstest.MapFS{
		"001_bad.sql": {Data: []byte(`CREATE TABLE oops (`)},
	}
	err := Run(ctx, db, fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply 001_bad.sql")

	pending, err := Pending(ctx, db, fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_bad"}, pending)
}
