// Package engine owns cached dashboards and orchestrates their mutation,
// variable resolution and data refresh.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/grid"
	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/internal/templating"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
	"github.com/inferloop/dashengine/pkg/models"
)

const tracerName = "github.com/inferloop/dashengine/internal/engine"

// Config tunes the engine.
type Config struct {
	// AutoRefresh enables the refresh ticker of the active dashboard.
	AutoRefresh bool `json:"auto_refresh" mapstructure:"auto_refresh"`
	// MinRefreshInterval is the shortest interval the ticker will use.
	MinRefreshInterval time.Duration `json:"min_refresh_interval" mapstructure:"min_refresh_interval"`
	Workers            int           `json:"workers" mapstructure:"workers"`
	QueueSize          int           `json:"queue_size" mapstructure:"queue_size"`
	QueryTimeout       time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
	MaxDataPoints      int           `json:"max_data_points" mapstructure:"max_data_points"`
	// User is recorded in meta.createdBy and meta.updatedBy.
	User string `json:"user" mapstructure:"user"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoRefresh:        true,
		MinRefreshInterval: constants.DefaultMinRefresh,
		Workers:            constants.DefaultRefreshWorkers,
		QueueSize:          constants.DefaultRefreshQueueSize,
		QueryTimeout:       constants.DefaultQueryTimeout,
		MaxDataPoints:      constants.DefaultMaxDataPoints,
	}
}

// Dependencies are the collaborators of an engine. Store and Executor are
// required; everything else has a default.
type Dependencies struct {
	Store    interfaces.DashboardStore
	Executor interfaces.QueryExecutor
	Options  interfaces.OptionsProvider
	Bus      *events.Bus
	Clock    clock.Clock
	Metrics  *metrics.PrometheusMetrics
	Tracer   trace.Tracer
}

// Engine is the dashboard engine. It caches dashboards by uid, tracks the
// active one and owns their latest panel data.
//
// Dashboards returned by Load, Create and Active are owned by the engine:
// callers may read them and pass them back to Save, but must make every
// other change through engine methods.
type Engine struct {
	config    *Config
	store     interfaces.DashboardStore
	executor  interfaces.QueryExecutor
	resolver  *templating.Resolver
	allocator *grid.Allocator
	bus       *events.Bus
	clock     clock.Clock
	metrics   *metrics.PrometheusMetrics
	tracer    trace.Tracer
	logger    *logrus.Logger
	pool      *pond.WorkerPool

	// poolMu orders Submit calls against pool shutdown.
	poolMu     sync.RWMutex
	poolClosed bool

	// saveMu guards saving; each saveLock is held across one Save.
	saveMu sync.Mutex
	saving map[string]*saveLock

	mu         sync.RWMutex
	dashboards map[string]*models.Dashboard
	data       map[string]map[int]*models.PanelData
	inflight   map[string]*batch
	batchSeq   map[string]uint64
	panelGen   map[string]map[int]uint64
	active     string
	timer      *refreshTimer
	nextID     int64
	closed     bool
}

type saveLock struct {
	mu   sync.Mutex
	refs int
}

type batch struct {
	id     uint64
	cancel context.CancelFunc
}

// NewEngine creates an engine.
func NewEngine(config *Config, deps Dependencies, logger *logrus.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Store == nil {
		return nil, errors.NewConfigurationError("engine requires a dashboard store")
	}
	if deps.Executor == nil {
		return nil, errors.NewConfigurationError("engine requires a query executor")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(logger)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	workers := config.Workers
	if workers <= 0 {
		workers = constants.DefaultRefreshWorkers
	}
	queue := config.QueueSize
	if queue <= 0 {
		queue = constants.DefaultRefreshQueueSize
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = constants.DefaultQueryTimeout
	}
	if config.MaxDataPoints <= 0 {
		config.MaxDataPoints = constants.DefaultMaxDataPoints
	}

	e := &Engine{
		config:     config,
		store:      deps.Store,
		executor:   deps.Executor,
		resolver:   templating.NewResolver(deps.Options, logger),
		allocator:  grid.NewAllocator(),
		bus:        deps.Bus,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		logger:     logger,
		pool:       pond.New(workers, queue),
		dashboards: make(map[string]*models.Dashboard),
		data:       make(map[string]map[int]*models.PanelData),
		inflight:   make(map[string]*batch),
		batchSeq:   make(map[string]uint64),
		panelGen:   make(map[string]map[int]uint64),
		saving:     make(map[string]*saveLock),
		nextID:     deps.Clock.Now().Unix(),
	}

	logger.WithFields(logrus.Fields{
		"workers":      workers,
		"auto_refresh": config.AutoRefresh,
	}).Info("Dashboard engine initialized")

	return e, nil
}

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock {
	return e.clock
}

// Active returns the active dashboard, or nil.
func (e *Engine) Active() *models.Dashboard {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == "" {
		return nil
	}
	return e.dashboards[e.active]
}

// Get returns a cached dashboard without touching the store.
func (e *Engine) Get(uid string) (*models.Dashboard, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.dashboards[uid]
	return d, ok
}

// Snapshot returns a copy of a cached dashboard that is safe to use
// concurrently with engine operations.
func (e *Engine) Snapshot(uid string) (*models.Dashboard, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.dashboards[uid]
	if !ok {
		return nil, errors.NewDashboardNotFoundError(uid)
	}
	return d.Clone(), nil
}

// Cached lists the uids of cached dashboards.
func (e *Engine) Cached() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	uids := make([]string, 0, len(e.dashboards))
	for uid := range e.dashboards {
		uids = append(uids, uid)
	}
	return uids
}

// PanelData returns a copy of the latest data of a panel.
func (e *Engine) PanelData(uid string, panelID int) (*models.PanelData, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pd, ok := e.data[uid][panelID]
	if !ok {
		return nil, false
	}
	cp := *pd
	return &cp, true
}

// Close stops the refresh ticker, cancels in-flight refreshes and waits for
// running queries to return.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopTimerLocked()
	for _, b := range e.inflight {
		b.cancel()
	}
	e.mu.Unlock()

	e.poolMu.Lock()
	e.poolClosed = true
	e.poolMu.Unlock()

	e.pool.StopAndWait()
	e.logger.Info("Dashboard engine stopped")
	return nil
}

// dashboardLocked resolves "" to the active dashboard. Callers hold e.mu.
func (e *Engine) dashboardLocked(uid string) (*models.Dashboard, string, error) {
	if e.closed {
		return nil, uid, errors.ErrEngineClosed
	}
	if uid == "" {
		if e.active == "" {
			return nil, "", errors.WrapError(errors.ErrNoActiveDashboard, errors.ErrorTypeNotFound,
				errors.CodeNotFound, "no active dashboard")
		}
		uid = e.active
	}
	d, ok := e.dashboards[uid]
	if !ok {
		return nil, uid, errors.NewDashboardNotFoundError(uid)
	}
	return d, uid, nil
}

func (e *Engine) cacheLocked(d *models.Dashboard) {
	e.dashboards[d.UID] = d
	if e.data[d.UID] == nil {
		e.data[d.UID] = make(map[int]*models.PanelData)
	}
	if e.panelGen[d.UID] == nil {
		e.panelGen[d.UID] = make(map[int]uint64)
	}
	e.metrics.SetDashboardsCached(len(e.dashboards))
}

func (e *Engine) evictLocked(uid string) {
	if b := e.inflight[uid]; b != nil {
		b.cancel()
	}
	delete(e.dashboards, uid)
	delete(e.data, uid)
	delete(e.inflight, uid)
	delete(e.panelGen, uid)
	e.metrics.SetDashboardsCached(len(e.dashboards))
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
