package engine

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/grid"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// PanelSpec describes a panel to add. Width and Height default to 12x9.
type PanelSpec struct {
	Type          models.PanelType           `json:"type"`
	Title         string                     `json:"title"`
	Description   string                     `json:"description,omitempty"`
	Width         int                        `json:"width,omitempty"`
	Height        int                        `json:"height,omitempty"`
	Datasource    *models.DatasourceRef      `json:"datasource,omitempty"`
	Targets       []models.Target            `json:"targets,omitempty"`
	Interval      string                     `json:"interval,omitempty"`
	MaxDataPoints int                        `json:"maxDataPoints,omitempty"`
	Options       map[string]interface{}     `json:"options,omitempty"`
	FieldConfig   map[string]interface{}     `json:"fieldConfig,omitempty"`
	Extra         map[string]json.RawMessage `json:"extra,omitempty"`
}

// PanelUpdate changes selected fields of a panel. Nil fields are left alone.
type PanelUpdate struct {
	Type          *models.PanelType          `json:"type,omitempty"`
	Title         *string                    `json:"title,omitempty"`
	Description   *string                    `json:"description,omitempty"`
	GridPos       *models.GridPos            `json:"gridPos,omitempty"`
	Datasource    *models.DatasourceRef      `json:"datasource,omitempty"`
	Targets       []models.Target            `json:"targets,omitempty"`
	Interval      *string                    `json:"interval,omitempty"`
	MaxDataPoints *int                       `json:"maxDataPoints,omitempty"`
	Options       map[string]interface{}     `json:"options,omitempty"`
	FieldConfig   map[string]interface{}     `json:"fieldConfig,omitempty"`
	Extra         map[string]json.RawMessage `json:"extra,omitempty"`
}

// AddPanel appends a panel to a cached dashboard. The panel gets the
// smallest unused positive id and the first free grid slot.
func (e *Engine) AddPanel(ctx context.Context, uid string, spec PanelSpec) (*models.Panel, error) {
	if spec.Type == "" {
		return nil, errors.NewValidationError("type", errors.ErrMissingPanelType.Error())
	}

	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	w, h := spec.Width, spec.Height
	if w <= 0 {
		w = constants.DefaultPanelWidth
	}
	if h <= 0 {
		h = constants.DefaultPanelHeight
	}

	p := &models.Panel{
		ID:            d.NextPanelID(),
		Type:          spec.Type,
		Title:         spec.Title,
		Description:   spec.Description,
		GridPos:       e.allocator.Allocate(d.GridPositions(), w, h),
		Targets:       []models.Target{},
		Interval:      spec.Interval,
		MaxDataPoints: spec.MaxDataPoints,
		Options:       spec.Options,
		FieldConfig:   spec.FieldConfig,
		Extra:         spec.Extra,
	}
	if spec.Datasource != nil {
		ds := *spec.Datasource
		p.Datasource = &ds
	}
	for _, t := range spec.Targets {
		p.Targets = append(p.Targets, t)
	}
	p = p.Clone()

	d.Panels = append(d.Panels, p)
	out := p.Clone()
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"dashboard_uid": uid,
		"panel_id":      out.ID,
		"grid_pos":      out.GridPos.String(),
	}).Debug("Panel added")

	e.emitPanel(events.PanelAdded, uid, out)
	return out, nil
}

// UpdatePanel applies upd to a panel. A new grid position is checked the same
// way as MovePanel.
func (e *Engine) UpdatePanel(ctx context.Context, uid string, panelID int, upd PanelUpdate) (*models.Panel, error) {
	if upd.Type != nil && *upd.Type == "" {
		return nil, errors.NewValidationError("type", errors.ErrMissingPanelType.Error())
	}

	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	p, _ := d.Panel(panelID)
	if p == nil {
		e.mu.Unlock()
		return nil, panelNotFound(uid, panelID)
	}
	if upd.GridPos != nil {
		if err := checkPlacement(d, panelID, *upd.GridPos); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}

	applyUpdate(p, upd)
	out := p.Clone()
	e.mu.Unlock()

	e.emitPanel(events.PanelUpdated, uid, out)
	return out, nil
}

func applyUpdate(p *models.Panel, upd PanelUpdate) {
	if upd.Type != nil {
		p.Type = *upd.Type
	}
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.GridPos != nil {
		p.GridPos = *upd.GridPos
	}
	if upd.Datasource != nil {
		ds := *upd.Datasource
		p.Datasource = &ds
	}
	if upd.Targets != nil {
		p.Targets = make([]models.Target, len(upd.Targets))
		for i, t := range upd.Targets {
			p.Targets[i] = t.Clone()
		}
	}
	if upd.Interval != nil {
		p.Interval = *upd.Interval
	}
	if upd.MaxDataPoints != nil {
		p.MaxDataPoints = *upd.MaxDataPoints
	}
	if upd.Options != nil {
		p.Options = models.DeepCopy(upd.Options).(map[string]interface{})
	}
	if upd.FieldConfig != nil {
		p.FieldConfig = models.DeepCopy(upd.FieldConfig).(map[string]interface{})
	}
	if upd.Extra != nil {
		p.Extra = make(map[string]json.RawMessage, len(upd.Extra))
		for k, v := range upd.Extra {
			p.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
}

// RemovePanel deletes a panel and its data. A query still running for it is
// discarded when it returns.
func (e *Engine) RemovePanel(ctx context.Context, uid string, panelID int) error {
	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	p, idx := d.Panel(panelID)
	if p == nil {
		e.mu.Unlock()
		return panelNotFound(uid, panelID)
	}
	d.Panels = append(d.Panels[:idx:idx], d.Panels[idx+1:]...)
	delete(e.data[uid], panelID)
	delete(e.panelGen[uid], panelID)
	e.mu.Unlock()

	e.emitPanel(events.PanelRemoved, uid, p)
	return nil
}

// MovePanel places a panel at pos. The rectangle must lie inside the grid and
// must not overlap another panel.
func (e *Engine) MovePanel(ctx context.Context, uid string, panelID int, pos models.GridPos) (*models.Panel, error) {
	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	p, _ := d.Panel(panelID)
	if p == nil {
		e.mu.Unlock()
		return nil, panelNotFound(uid, panelID)
	}
	if err := checkPlacement(d, panelID, pos); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	p.GridPos = pos
	out := p.Clone()
	e.mu.Unlock()

	e.emitPanel(events.PanelMoved, uid, out)
	return out, nil
}

func checkPlacement(d *models.Dashboard, panelID int, pos models.GridPos) error {
	if err := pos.Validate(constants.GridColumns); err != nil {
		return errors.NewValidationError("gridPos", err.Error())
	}
	others := make([]models.GridPos, 0, len(d.Panels))
	for _, o := range d.Panels {
		if o.ID != panelID {
			others = append(others, o.GridPos)
		}
	}
	if !grid.Fits(pos, others) {
		e := errors.NewValidationError("gridPos", errors.ErrPanelOverlap.Error())
		e.Code = errors.CodeOverlap
		return e
	}
	return nil
}

func panelNotFound(uid string, panelID int) error {
	e := errors.NewNotFoundError("panel", strconv.Itoa(panelID))
	e.Cause = errors.ErrPanelNotFound
	return e.WithContext("dashboard_uid", uid)
}

func (e *Engine) emitPanel(kind events.Kind, uid string, p *models.Panel) {
	e.bus.Panels.Publish(events.PanelEvent{Kind: kind, UID: uid, PanelID: p.ID, Panel: p, Time: e.now()})
}
