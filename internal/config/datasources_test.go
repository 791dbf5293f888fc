package config

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestBuildDatasourcesDefault(t *testing.T) {
	cfg := Default().Datasources
	cfg.Aliases = map[string]string{"demo-ds": constants.ExecutorTestData}

	ds, err := cfg.Build(context.Background(), quietLogger())
	require.NoError(t, err)
	defer ds.Close()

	assert.Nil(t, ds.InfluxDB)
	assert.Equal(t, []string{constants.ExecutorTestData}, ds.Router.Types())

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	frames, err := ds.Router.ExecuteQueries(context.Background(),
		[]models.Target{{"refId": "A", "datasource": "demo-ds", "scenarioId": "csv_metric_values", "stringInput": "1,2"}},
		models.ResolvedTimeRange{From: now.Add(-time.Hour), To: now}, nil, models.QueryOptions{PanelID: 1})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 2, frames[0].Len())
}

func TestBuildDatasourcesWithUnreachableInfluxDB(t *testing.T) {
	cfg := Default().Datasources
	cfg.InfluxDB.URL = "http://127.0.0.1:1"
	cfg.InfluxDB.Timeout = time.Second

	ds, err := cfg.Build(context.Background(), quietLogger())
	require.NoError(t, err)
	defer ds.Close()

	require.NotNil(t, ds.InfluxDB)
	assert.Equal(t, []string{constants.ExecutorInfluxDB, constants.ExecutorTestData}, ds.Router.Types())
	assert.Error(t, ds.InfluxDB.Ping(context.Background()))
}
