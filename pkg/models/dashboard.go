package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
)

// Dashboard is a titled, versioned collection of panels, template variables,
// a time range and a refresh interval.
type Dashboard struct {
	ID            int64         `json:"id"`
	UID           string        `json:"uid"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Tags          []string      `json:"tags"`
	Timezone      string        `json:"timezone,omitempty"`
	Panels        []*Panel      `json:"panels"`
	Templating    Templating    `json:"templating"`
	Time          TimeRange     `json:"time"`
	Refresh       string        `json:"refresh"`
	SchemaVersion int           `json:"schemaVersion,omitempty"`
	Version       int           `json:"version"`
	Meta          DashboardMeta `json:"meta"`
}

// Templating holds the dashboard's template variables.
type Templating struct {
	List []*Variable `json:"list"`
}

// DashboardMeta carries bookkeeping that is not part of the layout.
type DashboardMeta struct {
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
	CreatedBy string    `json:"createdBy,omitempty"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	CanSave   bool      `json:"canSave"`
	CanEdit   bool      `json:"canEdit"`
	CanAdmin  bool      `json:"canAdmin"`
}

// UnmarshalJSON accepts the legacy `"refresh": false` form.
func (d *Dashboard) UnmarshalJSON(data []byte) error {
	type plain Dashboard
	aux := struct {
		*plain
		Refresh interface{} `json:"refresh"`
	}{plain: (*plain)(d)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch v := aux.Refresh.(type) {
	case string:
		d.Refresh = v
	case bool, nil:
		d.Refresh = ""
	default:
		return fmt.Errorf("refresh: unsupported value %v", v)
	}
	return nil
}

// RefreshEnabled reports whether the refresh field holds something other than
// the disabled marker. It does not check that the interval parses.
func (d *Dashboard) RefreshEnabled() bool {
	return d.Refresh != "" && d.Refresh != constants.RefreshOff
}

// Panel returns the panel with the given id and its index, or nil and -1.
func (d *Dashboard) Panel(id int) (*Panel, int) {
	for i, p := range d.Panels {
		if p != nil && p.ID == id {
			return p, i
		}
	}
	return nil, -1
}

// Variable returns the template variable with the given name.
func (d *Dashboard) Variable(name string) (*Variable, int) {
	for i, v := range d.Templating.List {
		if v != nil && v.Name == name {
			return v, i
		}
	}
	return nil, -1
}

// NextPanelID returns the smallest positive id not used by any panel.
func (d *Dashboard) NextPanelID() int {
	used := make(map[int]struct{}, len(d.Panels))
	for _, p := range d.Panels {
		if p != nil {
			used[p.ID] = struct{}{}
		}
	}
	for id := 1; ; id++ {
		if _, ok := used[id]; !ok {
			return id
		}
	}
}

// GridPositions returns the rectangles of every panel in order.
func (d *Dashboard) GridPositions() []GridPos {
	out := make([]GridPos, 0, len(d.Panels))
	for _, p := range d.Panels {
		if p != nil {
			out = append(out, p.GridPos)
		}
	}
	return out
}

// Validate checks the fields a dashboard must have before it is persisted.
// All problems are collected; callers that need a single error use First.
func (d *Dashboard) Validate() *errors.ValidationErrors {
	ve := errors.NewValidationErrors()

	if d.Title == "" {
		ve.Add("title", errors.CodeMissingField, errors.ErrMissingTitle.Error(), d.Title)
	}
	if d.UID == "" {
		ve.Add("uid", errors.CodeMissingField, errors.ErrMissingUID.Error(), d.UID)
	}

	seen := make(map[int]struct{}, len(d.Panels))
	for i, p := range d.Panels {
		field := fmt.Sprintf("panels[%d]", i)
		if p == nil {
			ve.Add(field, errors.CodeMissingField, "panel is empty", nil)
			continue
		}
		if p.ID <= 0 {
			ve.Add(field+".id", errors.CodeMissingField, "panel id must be a positive integer", p.ID)
		} else if _, dup := seen[p.ID]; dup {
			ve.Add(field+".id", errors.CodeDuplicate, "panel id is not unique", p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Type == "" {
			ve.Add(field+".type", errors.CodeMissingField, errors.ErrMissingPanelType.Error(), p.Type)
		}
	}

	names := make(map[string]struct{}, len(d.Templating.List))
	for i, v := range d.Templating.List {
		if v == nil {
			continue
		}
		field := fmt.Sprintf("templating.list[%d].name", i)
		if v.Name == "" {
			ve.Add(field, errors.CodeMissingField, "variable name is required", v.Name)
		} else if _, dup := names[v.Name]; dup {
			ve.Add(field, errors.CodeDuplicate, errors.ErrDuplicateName.Error(), v.Name)
		}
		names[v.Name] = struct{}{}
	}

	return ve
}

// Clone returns a structural copy that shares no mutable state with d.
func (d *Dashboard) Clone() *Dashboard {
	if d == nil {
		return nil
	}
	out := *d
	out.Tags = cloneStrings(d.Tags)

	if d.Panels != nil {
		out.Panels = make([]*Panel, len(d.Panels))
		for i, p := range d.Panels {
			out.Panels[i] = p.Clone()
		}
	}

	out.Templating = Templating{}
	if d.Templating.List != nil {
		out.Templating.List = make([]*Variable, len(d.Templating.List))
		for i, v := range d.Templating.List {
			out.Templating.List[i] = v.Clone()
		}
	}
	return &out
}

// SearchQuery filters stored dashboards.
type SearchQuery struct {
	// Query is matched case-insensitively against title, description and tags.
	Query string   `json:"query,omitempty"`
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit,omitempty"`
}
