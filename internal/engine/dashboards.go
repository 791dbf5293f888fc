package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/grid"
	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/internal/templating"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// CreateOptions customizes a new dashboard.
type CreateOptions struct {
	UID         string
	Description string
	Tags        []string
	Timezone    string
	Time        *models.TimeRange
	Refresh     *string
	Panels      []*models.Panel
	Variables   []*models.Variable
}

// Load returns the dashboard with the given uid and marks it active. A cached
// dashboard is returned as is; otherwise it is read from the store, its
// load-time variables are refreshed and it is cached.
func (e *Engine) Load(ctx context.Context, uid string) (*models.Dashboard, error) {
	if uid == "" {
		return nil, errors.NewValidationError("uid", errors.ErrMissingUID.Error())
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.ErrEngineClosed
	}
	if d, ok := e.dashboards[uid]; ok {
		e.activateLocked(uid)
		snapshot := d.Clone()
		e.mu.Unlock()
		e.logger.WithField("dashboard_uid", uid).Debug("Dashboard served from cache")
		e.emitDashboard(events.DashboardLoaded, snapshot, nil)
		return d, nil
	}
	e.mu.Unlock()

	d, err := e.fetch(ctx, uid)
	e.metrics.RecordDashboardOperation("load", metrics.StatusLabel(err))
	if err != nil {
		return nil, err
	}

	tr, _ := interval.ResolveOrDefault(d.Time, e.now())
	onLoad := templating.ForTrigger(d.Templating.List, models.RefreshOnDashboardLoad)
	if len(onLoad) > 0 {
		err := e.resolver.RefreshAll(ctx, d.Templating.List, onLoad, tr)
		e.metrics.RecordVariableRefresh("load", metrics.StatusLabel(err))
	}

	e.mu.Lock()
	if cached, ok := e.dashboards[uid]; ok {
		// Another Load won the race; keep its instance.
		d = cached
	} else {
		e.cacheLocked(d)
	}
	e.activateLocked(uid)
	snapshot := d.Clone()
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": uid,
		"panels":        len(snapshot.Panels),
		"variables":     len(snapshot.Templating.List),
	}).Info("Dashboard loaded")

	e.emitDashboard(events.DashboardLoaded, snapshot, nil)
	return d, nil
}

// fetch reads and decodes a dashboard without caching it.
func (e *Engine) fetch(ctx context.Context, uid string) (*models.Dashboard, error) {
	data, err := e.store.Load(ctx, uid)
	if err != nil {
		return nil, errors.WrapStorageError(err, "load", "failed to load dashboard")
	}
	d, err := models.DecodeDashboard(data)
	if err != nil {
		return nil, errors.NewCorruptedDataError(uid, err)
	}
	if d.UID == "" {
		d.UID = uid
	}
	return d, nil
}

// Save validates and persists d. On success version is incremented and
// meta.updated stamped on d itself. A failed save leaves d untouched.
// Saves of the same uid run one at a time.
func (e *Engine) Save(ctx context.Context, d *models.Dashboard) (*models.Dashboard, error) {
	if d == nil {
		return nil, errors.NewValidationError("dashboard", "dashboard is required")
	}

	unlock := e.lockSave(d.UID)
	defer unlock()

	e.mu.RLock()
	next := d.Clone()
	e.mu.RUnlock()

	if ve := next.Validate(); ve.HasErrors() {
		err := ve.First()
		e.saveFailed(next, err)
		return nil, err
	}

	now := e.now()
	if now.Before(next.Meta.Updated) {
		now = next.Meta.Updated
	}
	next.Version++
	next.Meta.Updated = now
	if next.Meta.Created.IsZero() {
		next.Meta.Created = now
	}
	if e.config.User != "" {
		next.Meta.UpdatedBy = e.config.User
	}

	data, err := models.EncodeDashboard(next)
	if err != nil {
		appErr := errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "failed to encode dashboard")
		e.saveFailed(next, appErr)
		return nil, appErr
	}

	if err := e.store.Save(ctx, next.UID, data); err != nil {
		err = errors.WrapStorageError(err, "save", "failed to save dashboard")
		e.saveFailed(next, err)
		return nil, err
	}

	e.mu.Lock()
	d.Version = next.Version
	d.Meta = next.Meta
	e.cacheLocked(d)
	e.mu.Unlock()

	e.metrics.RecordDashboardOperation("save", "success")
	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": next.UID,
		"version":       next.Version,
	}).Info("Dashboard saved")

	e.emitDashboard(events.DashboardSaved, next, nil)
	return d, nil
}

func (e *Engine) saveFailed(d *models.Dashboard, err error) {
	e.metrics.RecordDashboardOperation("save", "error")
	e.logger.WithField("dashboard_uid", d.UID).WithError(err).Warn("Dashboard save failed")
	e.emitDashboard(events.DashboardSaveError, d, err)
}

// Create builds a new dashboard with default settings, caches it and makes it
// active. It is not persisted until saved. Variables without options get
// them computed; panels without a usable position are placed by the
// allocator.
func (e *Engine) Create(ctx context.Context, title string, opts CreateOptions) (*models.Dashboard, error) {
	if title == "" {
		return nil, errors.NewValidationError("title", errors.ErrMissingTitle.Error())
	}

	uid := opts.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	now := e.now()
	d := &models.Dashboard{
		UID:           uid,
		Title:         title,
		Description:   opts.Description,
		Tags:          append([]string{}, opts.Tags...),
		Timezone:      opts.Timezone,
		Panels:        []*models.Panel{},
		Templating:    models.Templating{List: []*models.Variable{}},
		Time:          interval.DefaultTimeRange(),
		Refresh:       constants.DefaultRefreshInterval,
		SchemaVersion: constants.SchemaVersion,
		Version:       constants.InitialVersion,
		Meta: models.DashboardMeta{
			Created:   now,
			Updated:   now,
			CreatedBy: e.config.User,
			UpdatedBy: e.config.User,
			CanSave:   true,
			CanEdit:   true,
			CanAdmin:  true,
		},
	}
	if opts.Time != nil {
		d.Time = *opts.Time
	}
	if opts.Refresh != nil {
		d.Refresh = *opts.Refresh
	}

	for _, v := range opts.Variables {
		if err := templating.ValidateNew(v, d.Templating.List); err != nil {
			return nil, err
		}
		nv := v.Clone()
		if nv.Options == nil {
			nv.Options = []models.VariableOption{}
		}
		d.Templating.List = append(d.Templating.List, nv)
	}

	if len(d.Templating.List) > 0 {
		tr, _ := interval.ResolveOrDefault(d.Time, now)
		pending := lo.Filter(d.Templating.List, func(v *models.Variable, _ int) bool { return len(v.Options) == 0 })
		err := e.resolver.RefreshAll(ctx, d.Templating.List, pending, tr)
		e.metrics.RecordVariableRefresh("create", metrics.StatusLabel(err))
	}

	for _, p := range opts.Panels {
		if p == nil {
			continue
		}
		if p.Type == "" {
			return nil, errors.NewValidationError("type", errors.ErrMissingPanelType.Error())
		}
		np := p.Clone()
		if np.ID <= 0 {
			np.ID = d.NextPanelID()
		}
		if _, idx := d.Panel(np.ID); idx >= 0 {
			return nil, errors.NewValidationError("id", "panel id is not unique").WithContext("panel_id", np.ID)
		}
		existing := d.GridPositions()
		if np.GridPos.W <= 0 || np.GridPos.H <= 0 || np.GridPos.Validate(constants.GridColumns) != nil ||
			!grid.Fits(np.GridPos, existing) {
			np.GridPos = e.allocator.Allocate(existing, np.GridPos.W, np.GridPos.H)
		}
		d.Panels = append(d.Panels, np)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.ErrEngineClosed
	}
	if _, exists := e.dashboards[uid]; exists {
		e.mu.Unlock()
		return nil, errors.NewValidationError("uid", "a dashboard with this uid is already open").
			WithContext("uid", uid)
	}
	e.nextID++
	d.ID = e.nextID
	e.cacheLocked(d)
	e.activateLocked(uid)
	snapshot := d.Clone()
	e.mu.Unlock()

	e.metrics.RecordDashboardOperation("create", "success")
	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": uid,
		"title":         title,
	}).Info("Dashboard created")

	e.emitDashboard(events.DashboardCreated, snapshot, nil)
	return d, nil
}

// Delete removes a dashboard from the store and the cache. If it was active,
// no dashboard is active afterwards and its refresh ticker stops.
func (e *Engine) Delete(ctx context.Context, uid string) error {
	if uid == "" {
		return errors.NewValidationError("uid", errors.ErrMissingUID.Error())
	}

	if err := e.store.Delete(ctx, uid); err != nil {
		err = errors.WrapStorageError(err, "delete", "failed to delete dashboard")
		e.metrics.RecordDashboardOperation("delete", "error")
		e.logger.WithField("dashboard_uid", uid).WithError(err).Warn("Dashboard delete failed")
		e.bus.Dashboards.Publish(events.DashboardEvent{
			Kind: events.DashboardDeleteError, UID: uid, Error: err.Error(), Time: e.now(),
		})
		return err
	}

	e.mu.Lock()
	e.evictLocked(uid)
	if e.active == uid {
		e.active = ""
		e.stopTimerLocked()
	}
	e.mu.Unlock()

	e.metrics.RecordDashboardOperation("delete", "success")
	e.logger.WithField("dashboard_uid", uid).Info("Dashboard deleted")
	e.bus.Dashboards.Publish(events.DashboardEvent{Kind: events.DashboardDeleted, UID: uid, Time: e.now()})
	return nil
}

// Duplicate copies a dashboard under a new uid and saves the copy, which
// starts at version 1. newTitle defaults to "<title> - Copy".
func (e *Engine) Duplicate(ctx context.Context, uid, newTitle string) (*models.Dashboard, error) {
	e.mu.RLock()
	src, cached := e.dashboards[uid]
	var clone *models.Dashboard
	if cached {
		clone = src.Clone()
	}
	e.mu.RUnlock()

	if !cached {
		fetched, err := e.fetch(ctx, uid)
		if err != nil {
			return nil, err
		}
		clone = fetched
	}

	if newTitle == "" {
		newTitle = clone.Title + constants.CopyTitleSuffix
	}

	now := e.now()
	e.mu.Lock()
	e.nextID++
	clone.ID = e.nextID
	e.mu.Unlock()

	clone.UID = uuid.NewString()
	clone.Title = newTitle
	clone.Version = constants.InitialVersion - 1
	clone.Meta = models.DashboardMeta{
		Created:   now,
		CreatedBy: e.config.User,
		CanSave:   true,
		CanEdit:   true,
		CanAdmin:  true,
	}

	saved, err := e.Save(ctx, clone)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordDashboardOperation("duplicate", "success")
	e.logger.WithFields(logrus.Fields{
		"source_uid":    uid,
		"dashboard_uid": saved.UID,
	}).Info("Dashboard duplicated")
	return saved, nil
}

// Search delegates to the store.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	if query == nil {
		query = &models.SearchQuery{}
	}
	results, err := e.store.Search(ctx, query)
	if err != nil {
		return nil, errors.WrapStorageError(err, "search", "failed to search dashboards")
	}
	return results, nil
}

func (e *Engine) activateLocked(uid string) {
	if e.active == uid && e.timer != nil {
		return
	}
	e.active = uid
	e.armTimerLocked()
}

// lockSave serializes saves of one uid and returns the matching unlock.
func (e *Engine) lockSave(uid string) func() {
	e.saveMu.Lock()
	l, ok := e.saving[uid]
	if !ok {
		l = &saveLock{}
		e.saving[uid] = l
	}
	l.refs++
	e.saveMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.saveMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.saving, uid)
		}
		e.saveMu.Unlock()
	}
}

// emitDashboard publishes d, which must not be reachable from the cache.
func (e *Engine) emitDashboard(kind events.Kind, d *models.Dashboard, err error) {
	ev := events.DashboardEvent{Kind: kind, Dashboard: d, Time: e.now()}
	if d != nil {
		ev.UID = d.UID
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.bus.Dashboards.Publish(ev)
}
