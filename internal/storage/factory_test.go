package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/internal/observability/metrics"
	memstore "github.com/inferloop/dashengine/internal/storage/implementations/memory"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
)

func TestFactorySupportedTypes(t *testing.T) {
	f := NewFactory(logrus.New(), nil)

	assert.Equal(t, []string{"file", "memory", "mongo", "postgres", "redis", "s3", "sqlite"}, f.GetSupportedTypes())
	assert.True(t, f.IsSupported(constants.StorageS3))
	assert.False(t, f.IsSupported("cassandra"))
}

func TestFactoryUnknownBackend(t *testing.T) {
	f := NewFactory(logrus.New(), nil)

	_, err := f.CreateStore(&Config{Backend: "cassandra"})
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err))
	assert.Contains(t, err.Error(), "unsupported storage backend")

	_, err = f.CreateStore(nil)
	assert.Error(t, err)
}

func TestFactoryBackendValidation(t *testing.T) {
	f := NewFactory(logrus.New(), nil)

	cfg := DefaultConfig()
	cfg.Backend = constants.StorageS3
	_, err := f.CreateStore(cfg)
	assert.ErrorContains(t, err, "bucket is required")

	cfg.Backend = constants.StorageMongo
	_, err = f.CreateStore(cfg)
	assert.ErrorContains(t, err, "uri is required")
}

func TestFactoryCreatesWorkingStores(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(logrus.New(), nil)

	cfg := DefaultConfig()
	cfg.File.BasePath = filepath.Join(t.TempDir(), "files")
	cfg.SQL.DSN = filepath.Join(t.TempDir(), "dash.db")

	for _, backend := range []string{constants.StorageMemory, constants.StorageFile, constants.StorageSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg.Backend = backend
			store, err := f.CreateStore(cfg)
			require.NoError(t, err)
			require.NoError(t, store.Connect(ctx))
			defer store.Close()

			require.NoError(t, store.Save(ctx, "x", []byte(`{"uid":"x","title":"X"}`)))
			data, err := store.Load(ctx, "x")
			require.NoError(t, err)
			assert.Contains(t, string(data), `"X"`)
		})
	}

	// the factory copies backend settings, so the shared config is untouched
	assert.Empty(t, cfg.SQL.Driver)
}

func TestInstrumentedStoreRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	m, err := metrics.NewPrometheusMetrics(&metrics.PrometheusConfig{Namespace: "test"}, logrus.New())
	require.NoError(t, err)

	var store interfaces.DashboardStore = Instrument(memstore.NewMemoryStorage(nil), constants.StorageMemory, m)

	require.NoError(t, store.Save(ctx, "a", []byte(`{}`)))
	_, err = store.Load(ctx, "a")
	require.NoError(t, err)
	_, err = store.Load(ctx, "missing")
	require.Error(t, err)

	expected := `
# HELP test_storage_operations_total Total number of storage operations
# TYPE test_storage_operations_total counter
test_storage_operations_total{backend="memory",operation="load",status="not_found"} 1
test_storage_operations_total{backend="memory",operation="load",status="success"} 1
test_storage_operations_total{backend="memory",operation="save",status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_storage_operations_total"))

	_, ok := store.(*InstrumentedStore).Unwrap().(*memstore.MemoryStorage)
	assert.True(t, ok)
}

func TestOperationStatus(t *testing.T) {
	assert.Equal(t, "success", operationStatus(nil))
	assert.Equal(t, "not_found", operationStatus(errors.NewDashboardNotFoundError("x")))
	assert.Equal(t, "timeout", operationStatus(context.DeadlineExceeded))
	assert.Equal(t, "error", operationStatus(errors.NewStoreWriteError("x", assert.AnError)))
}
