package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/pkg/constants"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, config.Server.Port)
	assert.Equal(t, constants.StorageFile, config.Storage.Backend)
	assert.False(t, config.Engine.AutoRefresh)
	assert.Equal(t, constants.DefaultRefreshWorkers, config.Engine.Workers)
	assert.Equal(t, constants.ExecutorTestData, config.Datasources.Default)
	assert.False(t, config.Datasources.InfluxDBEnabled())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  read_timeout: 5s
storage:
  backend: memory
engine:
  workers: 2
  query_timeout: 10s
datasources:
  aliases:
    prod-influx: influxdb
  influxdb:
    url: http://influx:8086
    organization: ops
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, constants.StorageMemory, config.Storage.Backend)
	assert.Equal(t, 2, config.Engine.Workers)
	assert.Equal(t, 10*time.Second, config.Engine.QueryTimeout)
	assert.Equal(t, "influxdb", config.Datasources.Aliases["prod-influx"])
	assert.True(t, config.Datasources.InfluxDBEnabled())
	assert.Equal(t, "ops", config.Datasources.InfluxDB.Organization)
	// Untouched keys keep their defaults.
	assert.Equal(t, constants.DefaultQueryTimeout, config.Datasources.InfluxDB.Timeout)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DASHENGINE_SERVER_PORT", "7070")
	t.Setenv("DASHENGINE_STORAGE_BACKEND", "redis")
	t.Setenv("DASHENGINE_LOGGING_LEVEL", "debug")

	config, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, constants.StorageRedis, config.Storage.Backend)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadRejectsBadFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"no backend", func(c *Config) { c.Storage.Backend = "" }},
		{"no workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"no timeout", func(c *Config) { c.Engine.QueryTimeout = 0 }},
		{"port clash", func(c *Config) { c.Metrics.Port = c.Server.Port }},
		{"no default datasource", func(c *Config) { c.Datasources.Default = "" }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}
