// Package config loads the server configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/internal/logging"
	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/internal/query/implementations/influxdb"
	"github.com/inferloop/dashengine/internal/server"
	"github.com/inferloop/dashengine/internal/storage"
	"github.com/inferloop/dashengine/pkg/constants"
)

// EnvPrefix prefixes every environment override, e.g. DASHENGINE_SERVER_PORT.
const EnvPrefix = "DASHENGINE"

// Config is the complete server configuration.
type Config struct {
	Server      server.Config            `mapstructure:"server"`
	Logging     logging.Config           `mapstructure:"logging"`
	Storage     storage.Config           `mapstructure:"storage"`
	Engine      engine.Config            `mapstructure:"engine"`
	Sessions    SessionsConfig           `mapstructure:"sessions"`
	Metrics     metrics.PrometheusConfig `mapstructure:"metrics"`
	Datasources DatasourcesConfig        `mapstructure:"datasources"`
}

// SessionsConfig holds the defaults of sessions opened over HTTP.
type SessionsConfig struct {
	MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`
	SkipInitialRefresh bool          `mapstructure:"skip_initial_refresh"`
}

// DatasourcesConfig selects the query executors. InfluxDB is registered
// only when its URL is set.
type DatasourcesConfig struct {
	// Default is the type used by targets that name no datasource.
	Default string `mapstructure:"default"`
	// Aliases maps datasource uids to registered types.
	Aliases  map[string]string       `mapstructure:"aliases"`
	InfluxDB influxdb.InfluxDBConfig `mapstructure:"influxdb"`
}

// InfluxDBEnabled reports whether an InfluxDB executor is configured.
func (d DatasourcesConfig) InfluxDBEnabled() bool {
	return d.InfluxDB.URL != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	eng := engine.DefaultConfig()
	// Sessions own their refresh tickers when serving.
	eng.AutoRefresh = false

	return &Config{
		Server:  *server.DefaultConfig(),
		Logging: *logging.DefaultConfig(),
		Storage: *storage.DefaultConfig(),
		Engine:  *eng,
		Sessions: SessionsConfig{
			MinRefreshInterval: constants.DefaultMinRefresh,
		},
		Metrics: *metrics.DefaultPrometheusConfig(),
		Datasources: DatasourcesConfig{
			Default: constants.ExecutorTestData,
			Aliases: map[string]string{},
			InfluxDB: influxdb.InfluxDBConfig{
				Timeout: constants.DefaultQueryTimeout,
				UseGZip: true,
			},
		},
	}
}

// Load reads cfgFile, or config.yaml from ./config and $HOME/.dashengine
// when cfgFile is empty. A missing file is not an error. Environment
// variables override both.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+constants.AppName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults registers every key so environment variables can override
// values that are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	// Server
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.enable_cors", d.Server.EnableCORS)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_request_size", d.Server.MaxRequestSize)
	v.SetDefault("server.tls_cert_file", d.Server.TLSCertFile)
	v.SetDefault("server.tls_key_file", d.Server.TLSKeyFile)

	// Logging
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	// Storage
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.file.base_path", d.Storage.File.BasePath)
	v.SetDefault("storage.file.create_dirs", d.Storage.File.CreateDirs)
	v.SetDefault("storage.file.sync_writes", d.Storage.File.SyncWrites)
	v.SetDefault("storage.redis.addr", d.Storage.Redis.Addr)
	v.SetDefault("storage.redis.password", d.Storage.Redis.Password)
	v.SetDefault("storage.redis.db", d.Storage.Redis.DB)
	v.SetDefault("storage.redis.dial_timeout", d.Storage.Redis.DialTimeout)
	v.SetDefault("storage.redis.read_timeout", d.Storage.Redis.ReadTimeout)
	v.SetDefault("storage.redis.write_timeout", d.Storage.Redis.WriteTimeout)
	v.SetDefault("storage.redis.pool_size", d.Storage.Redis.PoolSize)
	v.SetDefault("storage.redis.max_retries", d.Storage.Redis.MaxRetries)
	v.SetDefault("storage.redis.key_prefix", d.Storage.Redis.KeyPrefix)
	v.SetDefault("storage.sql.driver", d.Storage.SQL.Driver)
	v.SetDefault("storage.sql.dsn", d.Storage.SQL.DSN)
	v.SetDefault("storage.sql.table_name", d.Storage.SQL.TableName)
	v.SetDefault("storage.s3.region", d.Storage.S3.Region)
	v.SetDefault("storage.s3.bucket", d.Storage.S3.Bucket)
	v.SetDefault("storage.s3.endpoint", d.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.access_key_id", d.Storage.S3.AccessKeyID)
	v.SetDefault("storage.s3.secret_access_key", d.Storage.S3.SecretAccessKey)
	v.SetDefault("storage.s3.prefix", d.Storage.S3.Prefix)
	v.SetDefault("storage.s3.timeout", d.Storage.S3.Timeout)
	v.SetDefault("storage.s3.max_retries", d.Storage.S3.MaxRetries)
	v.SetDefault("storage.mongo.uri", d.Storage.Mongo.URI)
	v.SetDefault("storage.mongo.database", d.Storage.Mongo.Database)
	v.SetDefault("storage.mongo.collection", d.Storage.Mongo.Collection)
	v.SetDefault("storage.mongo.connect_timeout", d.Storage.Mongo.ConnectTimeout)

	// Engine
	v.SetDefault("engine.auto_refresh", d.Engine.AutoRefresh)
	v.SetDefault("engine.min_refresh_interval", d.Engine.MinRefreshInterval)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.queue_size", d.Engine.QueueSize)
	v.SetDefault("engine.query_timeout", d.Engine.QueryTimeout)
	v.SetDefault("engine.max_data_points", d.Engine.MaxDataPoints)
	v.SetDefault("engine.user", d.Engine.User)

	// Sessions
	v.SetDefault("sessions.min_refresh_interval", d.Sessions.MinRefreshInterval)
	v.SetDefault("sessions.skip_initial_refresh", d.Sessions.SkipInitialRefresh)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.subsystem", d.Metrics.Subsystem)
	v.SetDefault("metrics.runtime_collectors", d.Metrics.RuntimeCollectors)

	// Datasources
	v.SetDefault("datasources.default", d.Datasources.Default)
	v.SetDefault("datasources.aliases", d.Datasources.Aliases)
	v.SetDefault("datasources.influxdb.url", d.Datasources.InfluxDB.URL)
	v.SetDefault("datasources.influxdb.token", d.Datasources.InfluxDB.Token)
	v.SetDefault("datasources.influxdb.organization", d.Datasources.InfluxDB.Organization)
	v.SetDefault("datasources.influxdb.bucket", d.Datasources.InfluxDB.Bucket)
	v.SetDefault("datasources.influxdb.timeout", d.Datasources.InfluxDB.Timeout)
	v.SetDefault("datasources.influxdb.use_gzip", d.Datasources.InfluxDB.UseGZip)
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.Storage.Backend == "" {
		return fmt.Errorf("storage: backend is required")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine: workers must be at least 1")
	}
	if c.Engine.QueryTimeout <= 0 {
		return fmt.Errorf("engine: query timeout must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics: port %d is already used by the API server", c.Metrics.Port)
	}
	if c.Datasources.Default == "" {
		return fmt.Errorf("datasources: default type is required")
	}
	return nil
}
