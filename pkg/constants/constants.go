package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "dashengine"
	AppDescription = "Dashboard composition and variable resolution engine"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultPort            = 8080
	DefaultMetricsPort     = 9090
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	MaxRequestSize         = 10 << 20

	// Storage defaults
	DefaultStorageTimeout    = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
	DefaultKeyPrefix         = "dashengine"
	DefaultFileStoragePath   = "./data/dashboards"

	// Refresh defaults
	DefaultRefreshWorkers   = 8
	DefaultRefreshQueueSize = 256
	DefaultQueryTimeout     = 30 * time.Second
	DefaultMaxDataPoints    = 1000
	DefaultMinRefresh       = 5 * time.Second
)

// Grid layout
const (
	GridColumns        = 24
	DefaultPanelWidth  = 12
	DefaultPanelHeight = 9
	// MaxGridScanRows bounds the allocator's row scan before it falls back
	// to placing the panel below everything else.
	MaxGridScanRows = 1000
)

// Dashboard defaults
const (
	DefaultTimeFrom        = "now-6h"
	DefaultTimeTo          = "now"
	DefaultRefreshInterval = "30s"
	RefreshOff             = "off"
	InitialVersion         = 1
	CopyTitleSuffix        = " - Copy"
	SchemaVersion          = 39
)

// Template variables
const (
	MultiValueSeparator = " + "
	AllValueMarker      = "$__all"
	AllOptionText       = "All"
	URLVariablePrefix   = "var-"
)

// HTTP headers
const (
	HeaderContentType   = "Content-Type"
	HeaderRequestID     = "X-Request-ID"
	HeaderSessionID     = "X-Session-ID"
	HeaderAuthorization = "Authorization"
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "application/x-yaml"
	ContentTypeText = "text/plain"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageS3       = "s3"
	StorageMongo    = "mongo"
)

// Query executors
const (
	ExecutorTestData = "testdata"
	ExecutorInfluxDB = "influxdb"
)

// Export formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)
