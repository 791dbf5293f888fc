package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/inferloop/dashengine/pkg/errors"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrations.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterMigration(t *testing.T) {
	m := NewMigrationManager(openDB(t), Question, nil, logrus.New())

	require.NoError(t, m.RegisterMigration(NewMigration(1, "one", "").Exec("SELECT 1")))

	err := m.RegisterMigration(NewMigration(1, "again", "").Exec("SELECT 1"))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	assert.Error(t, m.RegisterMigration(NewMigration(0, "zero", "").Exec("SELECT 1")))
	assert.Error(t, m.RegisterMigration(NewMigration(2, "", "").Exec("SELECT 1")))
	assert.Error(t, m.RegisterMigration(NewMigration(3, "empty", "")))
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	m := NewMigrationManager(db, Question, nil, logrus.New())
	require.NoError(t, m.RegisterMigration(NewMigration(2, "add_index", "").
		Exec("CREATE INDEX items_name_idx ON items (name)")))
	require.NoError(t, m.RegisterMigration(NewMigration(1, "create_items", "").
		Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")))

	status, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentVersion)
	assert.Equal(t, 2, status.AppliedCount)
	assert.Equal(t, 0, status.PendingCount)

	// a second run applies nothing
	status, err = m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.AppliedCount)

	_, err = db.ExecContext(ctx, "INSERT INTO items (name) VALUES ('x')")
	require.NoError(t, err)
}

func TestMigrateFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMigrationManager(openDB(t), Question, nil, logrus.New())
	require.NoError(t, m.RegisterMigration(NewMigration(1, "broken", "").
		Exec("CREATE TABLE ok_table (id INTEGER)").
		Exec("THIS IS NOT SQL")))

	_, err := m.Migrate(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err))

	status, err := m.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.AppliedCount)
	assert.Equal(t, 1, status.PendingCount)
}

func TestDryRun(t *testing.T) {
	m := NewMigrationManager(openDB(t), Question, &MigrationConfig{DryRun: true}, logrus.New())
	require.NoError(t, m.RegisterMigration(NewMigration(1, "create", "").Exec("CREATE TABLE t (id INTEGER)")))

	status, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)
	assert.Equal(t, "$3", Dollar(3))
}
