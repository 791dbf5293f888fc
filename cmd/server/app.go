package main

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/api"
	"github.com/inferloop/dashengine/internal/config"
	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/internal/logging"
	"github.com/inferloop/dashengine/internal/observability/health"
	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/internal/observability/metrics/dashboards"
	"github.com/inferloop/dashengine/internal/query/implementations/selfmetrics"
	"github.com/inferloop/dashengine/internal/server"
	"github.com/inferloop/dashengine/internal/session"
	"github.com/inferloop/dashengine/internal/storage"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
)

// run serves until ctx is cancelled, then shuts everything down in reverse
// order of construction.
func run(ctx context.Context, cfg *config.Config, seed []string) error {
	logger := logging.NewLogger(&cfg.Logging)
	logger.WithFields(logrus.Fields{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"storage":    cfg.Storage.Backend,
	}).Info("Starting dashboard engine")

	var pm *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled {
		m, err := metrics.NewPrometheusMetrics(&cfg.Metrics, logger)
		if err != nil {
			return err
		}
		pm = m
	}

	store, err := storage.NewFactory(logger, pm).CreateStore(&cfg.Storage)
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, constants.DefaultConnectionTimeout)
	err = store.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect %s store: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	monitor := health.NewHealthMonitor(Version, clock.New(), logger)
	monitor.RegisterCheck(health.NewBasicHealthCheck("storage", store.Ping, true, 5*time.Second))

	datasources, err := cfg.Datasources.Build(ctx, logger)
	if err != nil {
		return err
	}
	defer datasources.Close()
	router := datasources.Router
	if pm != nil {
		router.Register(selfmetrics.Type, selfmetrics.NewExecutor(pm.Registry(), logger))
	}
	if datasources.InfluxDB != nil {
		monitor.RegisterCheck(health.NewBasicHealthCheck("influxdb", datasources.InfluxDB.Ping, false, 5*time.Second))
	}
	logger.WithField("types", router.Types()).Info("Query executors registered")

	eng, err := engine.NewEngine(&cfg.Engine, engine.Dependencies{
		Store:    store,
		Executor: router,
		Options:  router,
		Metrics:  pm,
	}, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := seedDashboards(ctx, eng, store, seed, logger); err != nil {
		return err
	}

	sessions := session.NewManager(eng, session.Options{
		MinRefreshInterval: cfg.Sessions.MinRefreshInterval,
		SkipInitialRefresh: cfg.Sessions.SkipInitialRefresh,
	}, pm, logger)
	defer sessions.CloseAll()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := api.NewHub(pm, logger)
	go hub.Run(hubCtx)
	detach := hub.Attach(eng.Bus())
	defer detach()

	apiRouter := api.NewRouter(api.Dependencies{
		Engine:    eng,
		Sessions:  sessions,
		Health:    monitor,
		Hub:       hub,
		Version:   Version,
		GitCommit: GitCommit,
		Logger:    logger,
	})
	srv := server.NewServer(&cfg.Server, apiRouter.SetupRoutes(), pm, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	if err := srv.Stop(context.Background()); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// seedDashboards stores the named built-in dashboards that are not stored yet.
func seedDashboards(ctx context.Context, eng *engine.Engine, store interfaces.DashboardStore, names []string, logger *logrus.Logger) error {
	for _, name := range names {
		d, err := dashboards.FromTemplate(name)
		if err != nil {
			return err
		}
		_, err = store.Load(ctx, d.UID)
		switch {
		case err == nil:
			continue
		case !errors.IsNotFound(err):
			return fmt.Errorf("failed to check dashboard %s: %w", d.UID, err)
		}
		if _, err := eng.Save(ctx, d); err != nil {
			return fmt.Errorf("failed to seed dashboard %s: %w", d.UID, err)
		}
		logger.WithFields(logrus.Fields{
			"template":      name,
			"dashboard_uid": d.UID,
		}).Info("Seeded dashboard")
	}
	return nil
}
