package file

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

func newTestStorage(t *testing.T) (*FileStorage, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "dashboards")
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: dir, CreateDirs: true}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(context.Background()))
	return storage, dir
}

func TestNewFileStorageInvalidConfig(t *testing.T) {
	_, err := NewFileStorage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FileStorageConfig cannot be nil")

	_, err = NewFileStorage(&FileStorageConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BasePath is required")
}

func TestFileStorageConnectMissingDir(t *testing.T) {
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: filepath.Join(t.TempDir(), "nope")}, logrus.New())
	require.NoError(t, err)

	err = storage.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err))
	assert.Error(t, storage.Ping(context.Background()))
}

func TestFileStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage, dir := newTestStorage(t)
	require.NoError(t, storage.Ping(ctx))

	_, err := storage.Load(ctx, "abc")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, storage.Save(ctx, "abc", []byte(`{"uid":"abc","title":"First"}`)))
	require.NoError(t, storage.Save(ctx, "abc", []byte(`{"uid":"abc","title":"Second"}`)))

	data, err := storage.Load(ctx, "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"uid":"abc","title":"Second"}`, string(data))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "abc.json", files[0].Name())

	require.NoError(t, storage.Delete(ctx, "abc"))
	require.NoError(t, storage.Delete(ctx, "abc"))
	_, err = storage.Load(ctx, "abc")
	assert.True(t, errors.IsNotFound(err))
}

func TestFileStorageRejectsUnsafeUIDs(t *testing.T) {
	storage, _ := newTestStorage(t)
	for _, uid := range []string{"", "..", "../etc", `a\b`, ".hidden"} {
		err := storage.Save(context.Background(), uid, []byte(`{}`))
		assert.True(t, errors.IsValidation(err), uid)
	}
}

func TestFileStorageSearch(t *testing.T) {
	ctx := context.Background()
	storage, dir := newTestStorage(t)

	older := &models.Dashboard{UID: "old", Title: "Kafka lag", Tags: []string{"kafka"},
		Meta: models.DashboardMeta{Updated: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}
	newer := &models.Dashboard{UID: "new", Title: "Kafka brokers", Tags: []string{"kafka", "prod"},
		Meta: models.DashboardMeta{Updated: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}}
	for _, d := range []*models.Dashboard{older, newer} {
		data, err := models.EncodeDashboard(d)
		require.NoError(t, err)
		require.NoError(t, storage.Save(ctx, d.UID, data))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	results, err := storage.Search(ctx, &models.SearchQuery{Query: "kafka"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].UID)
	assert.Equal(t, "old", results[1].UID)

	results, err = storage.Search(ctx, &models.SearchQuery{Tags: []string{"prod"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].UID)
}
