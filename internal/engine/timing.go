package engine

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/internal/templating"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// refreshTimer drives auto-refresh of one dashboard.
type refreshTimer struct {
	uid    string
	ticker *clock.Ticker
	done   chan struct{}
}

// SetTimeRange changes the time range of a dashboard, refreshes variables
// bound to the time range and then refreshes every panel.
func (e *Engine) SetTimeRange(ctx context.Context, uid string, tr models.TimeRange) (*RefreshResult, error) {
	uid, err := e.applyTimeRange(ctx, uid, tr)
	if err != nil {
		return nil, err
	}
	return e.RefreshDashboard(ctx, uid)
}

// ApplyTimeRange is SetTimeRange without the panel refresh. It is used when
// a view is restored and a single refresh follows.
func (e *Engine) ApplyTimeRange(ctx context.Context, uid string, tr models.TimeRange) error {
	_, err := e.applyTimeRange(ctx, uid, tr)
	return err
}

func (e *Engine) applyTimeRange(ctx context.Context, uid string, tr models.TimeRange) (string, error) {
	resolved, err := interval.Resolve(tr, e.now())
	if err != nil {
		appErr := errors.NewValidationError("time", err.Error())
		appErr.Code = errors.CodeInvalidTimeRange
		return uid, appErr
	}

	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return uid, err
	}
	d.Time = tr
	refresh := d.Refresh
	names := variableNames(templating.ForTrigger(d.Templating.List, models.RefreshOnTimeRangeChanged))
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": uid,
		"from":          tr.From,
		"to":            tr.To,
	}).Debug("Time range changed")

	e.bus.Time.Publish(events.TimeEvent{
		Kind: events.TimeRangeChanged, UID: uid, TimeRange: tr, Refresh: refresh, Time: e.now(),
	})

	if len(names) > 0 {
		// Failures are logged by the resolver; panels still refresh.
		_ = e.refreshVariables(ctx, uid, names, "time_range", resolved)
	}
	return uid, nil
}

// SetRefreshInterval changes the auto-refresh interval of a dashboard. ""
// and "off" disable it. The ticker of the active dashboard is re-armed.
func (e *Engine) SetRefreshInterval(uid, refresh string) error {
	if refresh != "" && refresh != constants.RefreshOff && !interval.Valid(refresh) {
		appErr := errors.NewValidationError("refresh", "refresh interval must look like 30s, 5m, 1h or 1d")
		appErr.Code = errors.CodeInvalidFormat
		return appErr.WithContext("refresh", refresh)
	}

	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	d.Refresh = refresh
	tr := d.Time
	if e.active == uid {
		e.stopTimerLocked()
		e.armTimerLocked()
	}
	e.mu.Unlock()

	e.bus.Time.Publish(events.TimeEvent{
		Kind: events.RefreshIntervalChanged, UID: uid, TimeRange: tr, Refresh: refresh, Time: e.now(),
	})
	return nil
}

// armTimerLocked starts the ticker for the active dashboard when auto-refresh
// is enabled and the dashboard has a valid interval. Callers hold e.mu.
func (e *Engine) armTimerLocked() {
	e.stopTimerLocked()
	if !e.config.AutoRefresh || e.closed || e.active == "" {
		return
	}
	d, ok := e.dashboards[e.active]
	if !ok || !d.RefreshEnabled() {
		return
	}
	every := interval.Parse(d.Refresh)
	if every <= 0 {
		return
	}
	if every < e.config.MinRefreshInterval {
		every = e.config.MinRefreshInterval
	}

	t := &refreshTimer{
		uid:    e.active,
		ticker: e.clock.Ticker(every),
		done:   make(chan struct{}),
	}
	e.timer = t
	go e.runTimer(t)

	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": t.uid,
		"interval":      every.String(),
	}).Debug("Auto-refresh armed")
}

// stopTimerLocked stops the current ticker, if any. Callers hold e.mu.
func (e *Engine) stopTimerLocked() {
	if e.timer == nil {
		return
	}
	e.timer.ticker.Stop()
	close(e.timer.done)
	e.timer = nil
}

func (e *Engine) runTimer(t *refreshTimer) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			e.mu.RLock()
			current := e.timer == t && e.active == t.uid
			e.mu.RUnlock()
			if !current {
				return
			}
			if _, err := e.RefreshDashboard(context.Background(), t.uid); err != nil {
				e.logger.WithField("dashboard_uid", t.uid).WithError(err).Warn("Auto-refresh failed")
			}
		}
	}
}

func variableNames(vars []*models.Variable) []string {
	names := make([]string, 0, len(vars))
	for _, v := range vars {
		names = append(names, v.Name)
	}
	return names
}
