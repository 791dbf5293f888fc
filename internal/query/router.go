// Package query dispatches panel queries and variable option lookups to the
// executor registered for each data source type.
package query

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
	"github.com/inferloop/dashengine/pkg/models"
)

// Router implements interfaces.QueryExecutor and interfaces.OptionsProvider by
// forwarding to per-type executors. Targets without a datasource type are
// matched by uid alias, then sent to the default type.
type Router struct {
	mu          sync.RWMutex
	executors   map[string]interfaces.QueryExecutor
	providers   map[string]interfaces.OptionsProvider
	aliases     map[string]string
	defaultType string
	logger      *logrus.Logger
}

// NewRouter creates an empty router.
func NewRouter(defaultType string, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		executors:   make(map[string]interfaces.QueryExecutor),
		providers:   make(map[string]interfaces.OptionsProvider),
		aliases:     make(map[string]string),
		defaultType: defaultType,
		logger:      logger,
	}
}

// Register adds an executor for dsType. Executors that also implement
// interfaces.OptionsProvider serve variable queries for the type as well.
func (r *Router) Register(dsType string, executor interfaces.QueryExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[dsType] = executor
	if provider, ok := executor.(interfaces.OptionsProvider); ok {
		r.providers[dsType] = provider
	}
	r.logger.WithField("datasource_type", dsType).Debug("Registered query executor")
}

// Alias maps a datasource uid to a registered type.
func (r *Router) Alias(uid, dsType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[uid] = dsType
}

// Types returns the registered datasource types.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ExecuteQueries groups targets by datasource type and runs each group on its
// executor. Frames come back in target order. The first failing group aborts
// the panel query.
func (r *Router) ExecuteQueries(ctx context.Context, targets []models.Target, timeRange models.ResolvedTimeRange,
	variables []*models.Variable, opts models.QueryOptions) ([]*models.DataFrame, error) {
	if len(targets) == 0 {
		return []*models.DataFrame{}, nil
	}

	type group struct {
		dsType  string
		targets []models.Target
	}
	var groups []*group
	byType := make(map[string]*group)
	for _, t := range targets {
		dsType := r.resolveType(t.Datasource())
		g, ok := byType[dsType]
		if !ok {
			g = &group{dsType: dsType}
			byType[dsType] = g
			groups = append(groups, g)
		}
		g.targets = append(g.targets, t)
	}

	frames := make([]*models.DataFrame, 0, len(targets))
	for _, g := range groups {
		executor, err := r.executor(g.dsType)
		if err != nil {
			return nil, err
		}
		out, err := executor.ExecuteQueries(ctx, g.targets, timeRange, variables, opts)
		if err != nil {
			return nil, err
		}
		frames = append(frames, out...)
	}

	return orderByRefID(frames, targets), nil
}

// VariableOptions forwards to the provider registered for the variable's
// datasource type.
func (r *Router) VariableOptions(ctx context.Context, v *models.Variable, timeRange models.ResolvedTimeRange) ([]models.VariableOption, error) {
	dsType := r.resolveType(v.Datasource)

	r.mu.RLock()
	provider, ok := r.providers[dsType]
	r.mu.RUnlock()
	if !ok {
		return nil, noExecutor(dsType)
	}
	return provider.VariableOptions(ctx, v, timeRange)
}

func (r *Router) resolveType(ref *models.DatasourceRef) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref != nil {
		if ref.Type != "" {
			return ref.Type
		}
		if t, ok := r.aliases[ref.UID]; ok {
			return t
		}
		if _, ok := r.executors[ref.UID]; ok {
			return ref.UID
		}
	}
	return r.defaultType
}

func (r *Router) executor(dsType string) (interfaces.QueryExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[dsType]
	if !ok {
		return nil, noExecutor(dsType)
	}
	return executor, nil
}

func noExecutor(dsType string) error {
	return errors.WrapError(errors.ErrNoExecutor, errors.ErrorTypeQuery, errors.CodeNoExecutor,
		fmt.Sprintf("no query executor registered for datasource type %q", dsType)).
		WithContext("datasource_type", dsType)
}

// orderByRefID sorts frames into the order their targets were given. Frames
// with an unknown refId keep their relative order at the end.
func orderByRefID(frames []*models.DataFrame, targets []models.Target) []*models.DataFrame {
	rank := make(map[string]int, len(targets))
	for i, t := range targets {
		if _, ok := rank[t.RefID()]; !ok {
			rank[t.RefID()] = i
		}
	}
	sort.SliceStable(frames, func(i, j int) bool {
		ri, ok := rank[frames[i].RefID]
		if !ok {
			ri = len(targets)
		}
		rj, ok := rank[frames[j].RefID]
		if !ok {
			rj = len(targets)
		}
		return ri < rj
	})
	return frames
}
