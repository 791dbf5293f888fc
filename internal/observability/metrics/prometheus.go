package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/pkg/constants"
)

// PrometheusMetrics provides Prometheus-based metrics collection. All Record
// and Set methods are safe to call on a nil receiver, which disables them.
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Refresh metrics
	refreshBatchesTotal  *prometheus.CounterVec
	refreshBatchDuration prometheus.Histogram
	panelQueriesTotal    *prometheus.CounterVec
	panelQueryDuration   prometheus.Histogram
	variableRefreshTotal *prometheus.CounterVec
	dashboardOpsTotal    *prometheus.CounterVec
	storageOperations    *prometheus.CounterVec
	storageDuration      *prometheus.HistogramVec
	dashboardsCached     prometheus.Gauge
	sessionsOpen         prometheus.Gauge
	websocketClients     prometheus.Gauge
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Port      int    `json:"port" mapstructure:"port"`
	Path      string `json:"path" mapstructure:"path"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Subsystem string `json:"subsystem" mapstructure:"subsystem"`

	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool `json:"runtime_collectors" mapstructure:"runtime_collectors"`
}

// DefaultPrometheusConfig returns the configuration used when none is given.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:           true,
		Port:              constants.DefaultMetricsPort,
		Path:              "/metrics",
		Namespace:         "dashengine",
		RuntimeCollectors: true,
	}
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with its own
// registry.
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}

	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// Registry exposes the registry for tests and embedding.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start starts the Prometheus metrics server
func (pm *PrometheusMetrics) Start(ctx context.Context) error {
	if !pm.config.Enabled {
		pm.logger.Info("Prometheus metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, pm.Handler())

	pm.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", pm.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: constants.DefaultReadTimeout,
	}

	pm.logger.WithFields(logrus.Fields{
		"port": pm.config.Port,
		"path": pm.config.Path,
	}).Info("Starting Prometheus metrics server")

	go func() {
		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server error")
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	if pm.server == nil {
		return nil
	}

	pm.logger.Info("Stopping Prometheus metrics server")
	return pm.server.Shutdown(ctx)
}

// HTTP Metrics
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Refresh Metrics
func (pm *PrometheusMetrics) RecordRefreshBatch(status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.refreshBatchesTotal.WithLabelValues(status).Inc()
	pm.refreshBatchDuration.Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) RecordPanelQuery(status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.panelQueriesTotal.WithLabelValues(status).Inc()
	pm.panelQueryDuration.Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) RecordVariableRefresh(trigger, status string) {
	if pm == nil {
		return
	}
	pm.variableRefreshTotal.WithLabelValues(trigger, status).Inc()
}

// Dashboard Metrics
func (pm *PrometheusMetrics) RecordDashboardOperation(operation, status string) {
	if pm == nil {
		return
	}
	pm.dashboardOpsTotal.WithLabelValues(operation, status).Inc()
}

func (pm *PrometheusMetrics) SetDashboardsCached(count int) {
	if pm == nil {
		return
	}
	pm.dashboardsCached.Set(float64(count))
}

// Storage Metrics
func (pm *PrometheusMetrics) RecordStorageOperation(backend, operation, status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.storageOperations.WithLabelValues(backend, operation, status).Inc()
	pm.storageDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// Session Metrics
func (pm *PrometheusMetrics) SetSessionsOpen(count int) {
	if pm == nil {
		return
	}
	pm.sessionsOpen.Set(float64(count))
}

func (pm *PrometheusMetrics) SetWebSocketClients(count int) {
	if pm == nil {
		return
	}
	pm.websocketClients.Set(float64(count))
}

// StatusLabel maps an error to the "success"/"error" label value.
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// initializeMetrics initializes all Prometheus metrics
func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	// HTTP metrics
	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Refresh metrics
	pm.refreshBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "refresh_batches_total",
			Help:      "Total number of dashboard refresh batches",
		},
		[]string{"status"},
	)

	pm.refreshBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "refresh_batch_duration_seconds",
			Help:      "Time until every panel of a refresh batch settled",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	pm.panelQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "panel_queries_total",
			Help:      "Total number of panel query executions",
		},
		[]string{"status"},
	)

	pm.panelQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "panel_query_duration_seconds",
			Help:      "Panel query execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	pm.variableRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "variable_refresh_total",
			Help:      "Total number of template variable option refreshes",
		},
		[]string{"trigger", "status"},
	)

	// Dashboard metrics
	pm.dashboardOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dashboard_operations_total",
			Help:      "Total number of dashboard operations",
		},
		[]string{"operation", "status"},
	)

	pm.dashboardsCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dashboards_cached",
			Help:      "Number of dashboards held in the engine cache",
		},
	)

	// Storage metrics
	pm.storageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	pm.storageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "operation"},
	)

	// Session metrics
	pm.sessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_open",
			Help:      "Number of open dashboard sessions",
		},
	)

	pm.websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websocket_clients",
			Help:      "Number of connected event stream clients",
		},
	)
}

// registerMetrics registers all metrics with the registry
func (pm *PrometheusMetrics) registerMetrics() error {
	metrics := []prometheus.Collector{
		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.refreshBatchesTotal,
		pm.refreshBatchDuration,
		pm.panelQueriesTotal,
		pm.panelQueryDuration,
		pm.variableRefreshTotal,
		pm.dashboardOpsTotal,
		pm.dashboardsCached,
		pm.storageOperations,
		pm.storageDuration,
		pm.sessionsOpen,
		pm.websocketClients,
	}

	if pm.config.RuntimeCollectors {
		metrics = append(metrics,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	for _, metric := range metrics {
		if err := pm.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
