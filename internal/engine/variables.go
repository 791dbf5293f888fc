package engine

import (
	"context"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/internal/templating"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// Variables returns copies of the template variables of a dashboard.
func (e *Engine) Variables(uid string) ([]*models.Variable, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, _, err := e.dashboardLocked(uid)
	if err != nil {
		return nil, err
	}
	return cloneVariables(d.Templating.List), nil
}

// AddTemplateVariable appends a variable and computes its options.
func (e *Engine) AddTemplateVariable(ctx context.Context, uid string, v *models.Variable) (*models.Variable, error) {
	e.mu.RLock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	if err := templating.ValidateNew(v, d.Templating.List); err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	all := cloneVariables(d.Templating.List)
	timeRange := d.Time
	e.mu.RUnlock()

	nv := e.prepareVariable(ctx, uid, v, all, timeRange)

	e.mu.Lock()
	d, uid, err = e.dashboardLocked(uid)
	if err == nil {
		err = templating.ValidateNew(nv, d.Templating.List)
	}
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	d.Templating.List = append(d.Templating.List, nv)
	out := nv.Clone()
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": uid,
		"variable":      out.Name,
		"type":          out.Type,
	}).Debug("Template variable added")

	e.emitVariable(events.VariableAdded, uid, out)
	return out, nil
}

// UpdateTemplateVariable replaces the variable called name with v. v may
// carry a new name.
func (e *Engine) UpdateTemplateVariable(ctx context.Context, uid, name string, v *models.Variable) (*models.Variable, error) {
	if v == nil {
		return nil, errors.NewValidationError("variable", "variable is required")
	}

	e.mu.RLock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	if existing, _ := d.Variable(name); existing == nil {
		e.mu.RUnlock()
		return nil, variableNotFound(uid, name)
	}
	rest := lo.Filter(d.Templating.List, func(o *models.Variable, _ int) bool { return o != nil && o.Name != name })
	if err := templating.ValidateNew(v, rest); err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	all := cloneVariables(d.Templating.List)
	timeRange := d.Time
	e.mu.RUnlock()

	nv := e.prepareVariable(ctx, uid, v, all, timeRange)

	e.mu.Lock()
	d, uid, err = e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	_, idx := d.Variable(name)
	if idx < 0 {
		e.mu.Unlock()
		return nil, variableNotFound(uid, name)
	}
	d.Templating.List[idx] = nv
	out := nv.Clone()
	e.mu.Unlock()

	e.emitVariable(events.VariableUpdated, uid, out)
	return out, nil
}

// SetTemplateVariableValue selects values for a variable. Variables whose
// query references it get new options, then only the panels that reference
// any of the changed variables are refreshed.
func (e *Engine) SetTemplateVariableValue(ctx context.Context, uid, name string, values []string) (*RefreshResult, error) {
	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	v, _ := d.Variable(name)
	if v == nil {
		e.mu.Unlock()
		return nil, variableNotFound(uid, name)
	}
	v.SetValues(values)
	out := v.Clone()
	chained := variableNames(templating.DependentVariables(d.Templating.List, name))
	timeRange := d.Time
	e.mu.Unlock()

	e.emitVariable(events.VariableValueChanged, uid, out)

	if len(chained) > 0 {
		tr, _ := interval.ResolveOrDefault(timeRange, e.now())
		_ = e.refreshVariables(ctx, uid, chained, "value_change", tr)
	}

	e.mu.RLock()
	d, uid, err = e.dashboardLocked(uid)
	if err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	var affected []int
	for _, n := range append([]string{name}, chained...) {
		affected = append(affected, templating.DependentPanels(d.Panels, n)...)
	}
	e.mu.RUnlock()

	affected = lo.Uniq(affected)
	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": uid,
		"variable":      name,
		"chained":       len(chained),
		"panels":        len(affected),
	}).Debug("Template variable value changed")

	return e.refreshPanels(ctx, uid, affected)
}

// ApplyVariableValues selects values for several variables at once, as when
// a view is restored from a URL. Unknown names are skipped. Chained variables
// get new options but no panel is refreshed.
func (e *Engine) ApplyVariableValues(ctx context.Context, uid string, values map[string][]string) error {
	if len(values) == 0 {
		return nil
	}

	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	var changed []*models.Variable
	chained := map[string]bool{}
	for name, vals := range values {
		v, _ := d.Variable(name)
		if v == nil {
			e.logger.WithFields(logrus.Fields{
				"dashboard_uid": uid,
				"variable":      name,
			}).Debug("Ignoring value for unknown variable")
			continue
		}
		v.SetValues(vals)
		changed = append(changed, v.Clone())
		for _, dep := range templating.DependentVariables(d.Templating.List, name) {
			chained[dep.Name] = true
		}
	}
	for _, v := range changed {
		delete(chained, v.Name)
	}
	timeRange := d.Time
	e.mu.Unlock()

	for _, v := range changed {
		e.emitVariable(events.VariableValueChanged, uid, v)
	}
	if len(chained) == 0 {
		return nil
	}
	tr, _ := interval.ResolveOrDefault(timeRange, e.now())
	return e.refreshVariables(ctx, uid, lo.Keys(chained), "value_change", tr)
}

// prepareVariable copies v and computes its options outside the engine lock.
func (e *Engine) prepareVariable(ctx context.Context, uid string, v *models.Variable, all []*models.Variable, timeRange models.TimeRange) *models.Variable {
	nv := v.Clone()
	if nv.Options == nil {
		nv.Options = []models.VariableOption{}
	}
	tr, _ := interval.ResolveOrDefault(timeRange, e.now())
	err := e.resolver.Refresh(ctx, nv, append(all, nv), tr)
	e.metrics.RecordVariableRefresh("edit", metrics.StatusLabel(err))
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"dashboard_uid": uid,
			"variable":      nv.Name,
		}).WithError(err).Warn("Failed to compute variable options")
	}
	return nv
}

// refreshVariables recomputes options of the named variables on copies and
// writes the new options back. Current selections are re-validated against
// the live variables so that a concurrent selection is not lost.
func (e *Engine) refreshVariables(ctx context.Context, uid string, names []string, trigger string, tr models.ResolvedTimeRange) error {
	e.mu.RLock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.RUnlock()
		return err
	}
	all := cloneVariables(d.Templating.List)
	e.mu.RUnlock()

	targets := lo.Filter(all, func(v *models.Variable, _ int) bool { return lo.Contains(names, v.Name) })
	err = e.resolver.RefreshAll(ctx, all, targets, tr)
	e.metrics.RecordVariableRefresh(trigger, metrics.StatusLabel(err))

	e.mu.Lock()
	if d, ok := e.dashboards[uid]; ok {
		for _, v := range targets {
			if live, _ := d.Variable(v.Name); live != nil {
				live.Options = v.Options
				templating.KeepSelectionValid(live)
			}
		}
	}
	e.mu.Unlock()
	return err
}

func cloneVariables(vars []*models.Variable) []*models.Variable {
	out := make([]*models.Variable, 0, len(vars))
	for _, v := range vars {
		if v != nil {
			out = append(out, v.Clone())
		}
	}
	return out
}

func variableNotFound(uid, name string) error {
	e := errors.NewNotFoundError("variable", name)
	e.Cause = errors.ErrVariableNotFound
	return e.WithContext("dashboard_uid", uid)
}

func (e *Engine) emitVariable(kind events.Kind, uid string, v *models.Variable) {
	e.bus.Variables.Publish(events.VariableEvent{Kind: kind, UID: uid, Name: v.Name, Variable: v, Time: e.now()})
}
