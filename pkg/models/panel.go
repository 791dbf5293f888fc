package models

import (
	"encoding/json"
	"fmt"
)

// PanelType names a visualization.
type PanelType string

const (
	PanelTimeSeries PanelType = "timeseries"
	PanelStat       PanelType = "stat"
	PanelGauge      PanelType = "gauge"
	PanelTable      PanelType = "table"
	PanelBarChart   PanelType = "barchart"
	PanelPieChart   PanelType = "piechart"
	PanelHeatmap    PanelType = "heatmap"
	PanelLogs       PanelType = "logs"
	PanelText       PanelType = "text"
	PanelRow        PanelType = "row"
)

var knownPanelTypes = map[PanelType]struct{}{
	PanelTimeSeries: {},
	PanelStat:       {},
	PanelGauge:      {},
	PanelTable:      {},
	PanelBarChart:   {},
	PanelPieChart:   {},
	PanelHeatmap:    {},
	PanelLogs:       {},
	PanelText:       {},
	PanelRow:        {},
}

// KnownPanelTypes lists the built-in panel types.
func KnownPanelTypes() []PanelType {
	return []PanelType{
		PanelTimeSeries, PanelStat, PanelGauge, PanelTable, PanelBarChart,
		PanelPieChart, PanelHeatmap, PanelLogs, PanelText, PanelRow,
	}
}

// Known reports whether t is one of the built-in panel types.
func (t PanelType) Known() bool {
	_, ok := knownPanelTypes[t]
	return ok
}

// PanelKind separates built-in panels from plugin panels the engine does not
// understand. Opaque panels are kept and round-tripped untouched.
type PanelKind int

const (
	PanelKindBuiltin PanelKind = iota
	PanelKindOpaque
)

func (k PanelKind) String() string {
	if k == PanelKindOpaque {
		return "opaque"
	}
	return "builtin"
}

// GridPos is a panel rectangle in grid units.
type GridPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Right is the first column right of the rectangle.
func (g GridPos) Right() int { return g.X + g.W }

// Bottom is the first row below the rectangle.
func (g GridPos) Bottom() int { return g.Y + g.H }

// Overlaps reports whether two rectangles share any cell. Rectangles that
// only touch at an edge do not overlap.
func (g GridPos) Overlaps(o GridPos) bool {
	return g.X < o.Right() && o.X < g.Right() && g.Y < o.Bottom() && o.Y < g.Bottom()
}

// Validate checks the rectangle against a grid of the given width.
func (g GridPos) Validate(columns int) error {
	switch {
	case g.X < 0 || g.Y < 0:
		return fmt.Errorf("position (%d,%d) is negative", g.X, g.Y)
	case g.W <= 0 || g.H <= 0:
		return fmt.Errorf("size %dx%d must be positive", g.W, g.H)
	case g.Right() > columns:
		return fmt.Errorf("right edge %d exceeds %d columns", g.Right(), columns)
	}
	return nil
}

func (g GridPos) String() string {
	return fmt.Sprintf("{x:%d y:%d w:%d h:%d}", g.X, g.Y, g.W, g.H)
}

// DatasourceRef points at a data source by type and uid.
type DatasourceRef struct {
	Type string `json:"type,omitempty"`
	UID  string `json:"uid,omitempty"`
}

// UnmarshalJSON also accepts the legacy bare-string form, which names the uid.
func (r *DatasourceRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.UID = name
		return nil
	}
	type plain DatasourceRef
	return json.Unmarshal(data, (*plain)(r))
}

// Panel is one visualization on a dashboard.
type Panel struct {
	ID            int                    `json:"id"`
	Type          PanelType              `json:"type"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description,omitempty"`
	GridPos       GridPos                `json:"gridPos"`
	Datasource    *DatasourceRef         `json:"datasource,omitempty"`
	Targets       []Target               `json:"targets,omitempty"`
	Interval      string                 `json:"interval,omitempty"`
	MaxDataPoints int                    `json:"maxDataPoints,omitempty"`
	Options       map[string]interface{} `json:"options,omitempty"`
	FieldConfig   map[string]interface{} `json:"fieldConfig,omitempty"`

	// Extra keeps JSON fields this model does not know about so plugin
	// panels survive a load/save cycle byte for byte.
	Extra map[string]json.RawMessage `json:"-"`
}

var panelFields = []string{
	"id", "type", "title", "description", "gridPos", "datasource", "targets",
	"interval", "maxDataPoints", "options", "fieldConfig",
}

// Kind classifies the panel by its type.
func (p *Panel) Kind() PanelKind {
	if p.Type.Known() {
		return PanelKindBuiltin
	}
	return PanelKindOpaque
}

// UnmarshalJSON decodes the known fields and stashes the rest in Extra.
func (p *Panel) UnmarshalJSON(data []byte) error {
	type plain Panel
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range panelFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		decoded.Extra = raw
	}

	*p = Panel(decoded)
	return nil
}

// MarshalJSON writes the known fields merged with Extra. Known fields win.
func (p Panel) MarshalJSON() ([]byte, error) {
	type plain Panel
	data, err := json.Marshal(plain(p))
	if err != nil || len(p.Extra) == 0 {
		return data, err
	}

	merged := make(map[string]json.RawMessage, len(p.Extra)+len(panelFields))
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Clone returns a structural copy of the panel. Opaque payloads are deep copied.
func (p *Panel) Clone() *Panel {
	if p == nil {
		return nil
	}
	out := *p
	if p.Datasource != nil {
		ds := *p.Datasource
		out.Datasource = &ds
	}
	if p.Targets != nil {
		out.Targets = make([]Target, len(p.Targets))
		for i, t := range p.Targets {
			out.Targets[i] = t.Clone()
		}
	}
	out.Options = deepCopyMap(p.Options)
	out.FieldConfig = deepCopyMap(p.FieldConfig)
	if p.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}
