package config

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/query"
	"github.com/inferloop/dashengine/internal/query/implementations/influxdb"
	"github.com/inferloop/dashengine/internal/query/implementations/synthetic"
	"github.com/inferloop/dashengine/pkg/constants"
)

// Datasources are the query executors built from a DatasourcesConfig.
type Datasources struct {
	Router *query.Router
	// InfluxDB is nil unless configured.
	InfluxDB *influxdb.Executor
}

// Close closes the executors holding connections.
func (d *Datasources) Close() error {
	if d.InfluxDB != nil {
		return d.InfluxDB.Close()
	}
	return nil
}

// Build registers the testdata executor, InfluxDB when configured, and the
// aliases. An unreachable InfluxDB is logged and stays registered; its
// panels fail until it answers.
func (c DatasourcesConfig) Build(ctx context.Context, logger *logrus.Logger) (*Datasources, error) {
	if logger == nil {
		logger = logrus.New()
	}

	router := query.NewRouter(c.Default, logger)
	router.Register(constants.ExecutorTestData, synthetic.NewExecutor(logger))
	ds := &Datasources{Router: router}

	if c.InfluxDBEnabled() {
		influxCfg := c.InfluxDB
		influx, err := influxdb.NewExecutor(&influxCfg, logger)
		if err != nil {
			return nil, err
		}
		if err := influx.Connect(ctx); err != nil {
			logger.WithError(err).Warn("InfluxDB is not reachable")
		}
		router.Register(constants.ExecutorInfluxDB, influx)
		ds.InfluxDB = influx
	}

	for uid, dsType := range c.Aliases {
		router.Alias(uid, dsType)
	}
	return ds, nil
}
