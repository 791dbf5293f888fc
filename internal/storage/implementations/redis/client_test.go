package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

func TestNewRedisStorage(t *testing.T) {
	config := &RedisConfig{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}

	logger := logrus.New()
	storage, err := NewRedisStorage(config, logger)

	require.NoError(t, err)
	require.NotNil(t, storage)
	assert.Equal(t, config, storage.config)
	assert.Equal(t, logger, storage.logger)
}

func TestNewRedisStorageInvalidConfig(t *testing.T) {
	_, err := NewRedisStorage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewRedisStorage(&RedisConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address or cluster addresses are required")
}

func TestRedisStorageGenerateKeys(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379", KeyPrefix: "test"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "test:dashboard:abc", storage.generateDashboardKey("abc"))
	assert.Equal(t, "test:dashboards", storage.generateIndexKey())

	storage, err = NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "dashboard:abc", storage.generateDashboardKey("abc"))
	assert.Equal(t, "dashboards", storage.generateIndexKey())
}

func TestRedisStorageNotConnected(t *testing.T) {
	ctx := context.Background()
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	_, err = storage.Load(ctx, "abc")
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err))
	assert.Contains(t, err.Error(), "not connected")

	assert.Error(t, storage.Save(ctx, "abc", []byte(`{}`)))
	assert.Error(t, storage.Ping(ctx))
	require.NoError(t, storage.Close())
	require.NoError(t, storage.Close())
}

func TestUpdatedAt(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := models.EncodeDashboard(&models.Dashboard{UID: "a", Meta: models.DashboardMeta{Updated: ts}})
	require.NoError(t, err)

	assert.True(t, ts.Equal(updatedAt(data)))
	assert.True(t, updatedAt([]byte(`{}`)).IsZero())
}

func TestRedisStorageMetricsIncrements(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, int64(0), storage.Stats().ReadOperations)

	storage.incrementReadOps()
	storage.incrementWriteOps()
	storage.incrementDeleteOps()
	storage.incrementErrorCount()
	storage.incrementHitCount()
	storage.incrementMissCount()

	stats := storage.Stats()
	assert.Equal(t, int64(1), stats.ReadOperations)
	assert.Equal(t, int64(1), stats.WriteOperations)
	assert.Equal(t, int64(1), stats.DeleteOperations)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisStorageIntegration(t *testing.T) {
	addr := os.Getenv("DASHENGINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - set DASHENGINE_TEST_REDIS_ADDR to run against Redis")
	}

	ctx := context.Background()
	storage, err := NewRedisStorage(&RedisConfig{Addr: addr, KeyPrefix: "test-" + uuid.NewString()}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(ctx))
	defer storage.Close()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"Alpha", "Beta"} {
		d := &models.Dashboard{UID: title, Title: title, Meta: models.DashboardMeta{Updated: base.Add(time.Duration(i) * time.Hour)}}
		data, err := models.EncodeDashboard(d)
		require.NoError(t, err)
		require.NoError(t, storage.Save(ctx, d.UID, data))
	}

	results, err := storage.Search(ctx, &models.SearchQuery{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Beta", results[0].UID)

	require.NoError(t, storage.Delete(ctx, "Beta"))
	_, err = storage.Load(ctx, "Beta")
	assert.True(t, errors.IsNotFound(err))
	require.NoError(t, storage.Delete(ctx, "Alpha"))
}
