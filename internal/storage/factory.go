package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/observability/metrics"
	filestore "github.com/inferloop/dashengine/internal/storage/implementations/file"
	memstore "github.com/inferloop/dashengine/internal/storage/implementations/memory"
	mongostore "github.com/inferloop/dashengine/internal/storage/implementations/mongo"
	redisstore "github.com/inferloop/dashengine/internal/storage/implementations/redis"
	s3store "github.com/inferloop/dashengine/internal/storage/implementations/s3"
	"github.com/inferloop/dashengine/internal/storage/implementations/sqldb"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
)

// Config selects a backend and carries the settings of each one.
type Config struct {
	Backend string                      `json:"backend" yaml:"backend" mapstructure:"backend"`
	File    filestore.FileStorageConfig `json:"file" yaml:"file" mapstructure:"file"`
	Redis   redisstore.RedisConfig      `json:"redis" yaml:"redis" mapstructure:"redis"`
	SQL     sqldb.SQLConfig             `json:"sql" yaml:"sql" mapstructure:"sql"`
	S3      s3store.S3Config            `json:"s3" yaml:"s3" mapstructure:"s3"`
	Mongo   mongostore.MongoConfig      `json:"mongo" yaml:"mongo" mapstructure:"mongo"`
}

// DefaultConfig returns a file-backed configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: constants.StorageFile,
		File: filestore.FileStorageConfig{
			BasePath:   constants.DefaultFileStoragePath,
			CreateDirs: true,
		},
		Redis: redisstore.RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  constants.DefaultConnectionTimeout,
			ReadTimeout:  constants.DefaultStorageTimeout,
			WriteTimeout: constants.DefaultStorageTimeout,
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    constants.DefaultKeyPrefix,
		},
		SQL: sqldb.SQLConfig{
			TableName: "dashboards",
		},
		S3: s3store.S3Config{
			Region:     "us-east-1",
			Prefix:     constants.DefaultKeyPrefix,
			Timeout:    constants.DefaultStorageTimeout,
			MaxRetries: 3,
		},
		Mongo: mongostore.MongoConfig{
			Database:       constants.AppName,
			Collection:     "dashboards",
			ConnectTimeout: constants.DefaultConnectionTimeout,
		},
	}
}

// CreateFunc builds a store from the shared configuration.
type CreateFunc func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error)

// Factory creates dashboard stores by backend name
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
	metrics  *metrics.PrometheusMetrics
}

// NewFactory creates a new storage factory with every built-in backend
// registered. Stores it creates record operation metrics when m is non-nil.
func NewFactory(logger *logrus.Logger, m *metrics.PrometheusMetrics) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
		metrics:  m,
	}

	factory.registerDefaults()

	return factory
}

// CreateStore creates the store named by config.Backend. The store is not
// connected yet.
func (f *Factory) CreateStore(config *Config) (interfaces.DashboardStore, error) {
	if config == nil {
		return nil, errors.NewStoreConfigError("storage config cannot be nil")
	}

	f.mu.RLock()
	creator, exists := f.creators[config.Backend]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStoreConfigError(fmt.Sprintf("unsupported storage backend %q (supported: %v)",
			config.Backend, f.GetSupportedTypes()))
	}

	store, err := creator(config, f.logger)
	if err != nil {
		return nil, err
	}

	f.logger.WithField("backend", config.Backend).Info("Created dashboard store")
	return Instrument(store, config.Backend, f.metrics), nil
}

// GetSupportedTypes returns the registered backend names
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for backend := range f.creators {
		types = append(types, backend)
	}
	sort.Strings(types)

	return types
}

// RegisterStore registers a new backend
func (f *Factory) RegisterStore(backend string, creator CreateFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creators[backend] = creator
	f.logger.WithField("backend", backend).Debug("Registered storage backend")
}

// IsSupported checks if a backend is registered
func (f *Factory) IsSupported(backend string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[backend]
	return exists
}

func (f *Factory) registerDefaults() {
	f.RegisterStore(constants.StorageMemory, func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error) {
		return memstore.NewMemoryStorage(logger), nil
	})

	f.RegisterStore(constants.StorageFile, func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error) {
		fileConfig := config.File
		return filestore.NewFileStorage(&fileConfig, logger)
	})

	f.RegisterStore(constants.StorageRedis, func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error) {
		redisConfig := config.Redis
		return redisstore.NewRedisStorage(&redisConfig, logger)
	})

	f.RegisterStore(constants.StoragePostgres, func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error) {
		sqlConfig := config.SQL
		sqlConfig.Driver = sqldb.DriverPostgres
		return sqldb.NewSQLStorage(&sqlConfig, logger)
	})

	f.RegisterStore(constants.StorageSQLite, func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error) {
		sqlConfig := config.SQL
		sqlConfig.Driver = sqldb.DriverSQLite
		return sqldb.NewSQLStorage(&sqlConfig, logger)
	})

	f.RegisterStore(constants.StorageS3, func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error) {
		s3Config := config.S3
		return s3store.NewS3Storage(&s3Config, logger)
	})

	f.RegisterStore(constants.StorageMongo, func(config *Config, logger *logrus.Logger) (interfaces.DashboardStore, error) {
		mongoConfig := config.Mongo
		return mongostore.NewMongoStorage(&mongoConfig, logger)
	})
}
