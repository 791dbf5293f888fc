package sqldb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

func newSQLiteStorage(t *testing.T, dsn string) *SQLStorage {
	t.Helper()
	storage, err := NewSQLStorage(&SQLConfig{Driver: DriverSQLite, DSN: dsn}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(context.Background()))
	t.Cleanup(func() { storage.Close() })
	return storage
}

func encode(t *testing.T, d *models.Dashboard) []byte {
	t.Helper()
	data, err := models.EncodeDashboard(d)
	require.NoError(t, err)
	return data
}

func TestNewSQLStorageInvalidConfig(t *testing.T) {
	_, err := NewSQLStorage(nil, logrus.New())
	assert.Error(t, err)

	_, err = NewSQLStorage(&SQLConfig{Driver: DriverSQLite}, logrus.New())
	assert.ErrorContains(t, err, "dsn is required")

	_, err = NewSQLStorage(&SQLConfig{Driver: "oracle", DSN: "x"}, logrus.New())
	assert.ErrorContains(t, err, "unsupported SQL driver")

	_, err = NewSQLStorage(&SQLConfig{Driver: DriverPostgres, DSN: "x", TableName: "d; DROP TABLE x"}, logrus.New())
	assert.ErrorContains(t, err, "invalid table name")
}

func TestSQLStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newSQLiteStorage(t, filepath.Join(t.TempDir(), "dash.db"))
	require.NoError(t, storage.Ping(ctx))

	_, err := storage.Load(ctx, "abc")
	assert.True(t, errors.IsNotFound(err))

	first := encode(t, &models.Dashboard{UID: "abc", Title: "First", Version: 1})
	second := encode(t, &models.Dashboard{UID: "abc", Title: "Second", Version: 2})
	require.NoError(t, storage.Save(ctx, "abc", first))
	require.NoError(t, storage.Save(ctx, "abc", second))

	got, err := storage.Load(ctx, "abc")
	require.NoError(t, err)
	assert.JSONEq(t, string(second), string(got))

	require.NoError(t, storage.Delete(ctx, "abc"))
	require.NoError(t, storage.Delete(ctx, "abc"))
	_, err = storage.Load(ctx, "abc")
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLStorageSearch(t *testing.T) {
	ctx := context.Background()
	storage := newSQLiteStorage(t, filepath.Join(t.TempDir(), "dash.db"))

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	dashboards := []*models.Dashboard{
		{UID: "a", Title: "Ingest", Tags: []string{"pipeline"}, Meta: models.DashboardMeta{Updated: base}},
		{UID: "b", Title: "Egress", Tags: []string{"pipeline", "prod"}, Meta: models.DashboardMeta{Updated: base.Add(time.Hour)}},
		{UID: "c", Title: "Billing", Meta: models.DashboardMeta{Updated: base.Add(2 * time.Hour)}},
	}
	for _, d := range dashboards {
		require.NoError(t, storage.Save(ctx, d.UID, encode(t, d)))
	}

	results, err := storage.Search(ctx, &models.SearchQuery{Tags: []string{"pipeline"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].UID)
	assert.Equal(t, "a", results[1].UID)

	results, err = storage.Search(ctx, &models.SearchQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].UID)
}

func TestSQLStorageMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "dash.db")

	storage := newSQLiteStorage(t, dsn)
	require.NoError(t, storage.Save(ctx, "keep", encode(t, &models.Dashboard{UID: "keep", Title: "Keep"})))
	require.NoError(t, storage.Close())

	reopened := newSQLiteStorage(t, dsn)
	_, err := reopened.Load(ctx, "keep")
	require.NoError(t, err)
}

func TestSQLStorageNotConnected(t *testing.T) {
	storage, err := NewSQLStorage(&SQLConfig{Driver: DriverSQLite, DSN: "unused.db"}, logrus.New())
	require.NoError(t, err)

	_, err = storage.Load(context.Background(), "abc")
	assert.True(t, errors.IsStorage(err))
}

func TestSQLStoragePostgresIntegration(t *testing.T) {
	dsn := os.Getenv("DASHENGINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Integration test - set DASHENGINE_TEST_POSTGRES_DSN to run against PostgreSQL")
	}

	ctx := context.Background()
	storage, err := NewSQLStorage(&SQLConfig{Driver: DriverPostgres, DSN: dsn, TableName: "dashboards_test"}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(ctx))
	defer storage.Close()

	require.NoError(t, storage.Save(ctx, "pg", encode(t, &models.Dashboard{UID: "pg", Title: "Postgres"})))
	got, err := storage.Load(ctx, "pg")
	require.NoError(t, err)
	assert.Contains(t, string(got), "Postgres")
	require.NoError(t, storage.Delete(ctx, "pg"))
}
