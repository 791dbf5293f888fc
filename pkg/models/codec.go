package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/inferloop/dashengine/pkg/constants"
)

// EncodeDashboard serializes a dashboard to its stored JSON form.
func EncodeDashboard(d *Dashboard) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("encode dashboard: nil dashboard")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode dashboard %q: %w", d.UID, err)
	}
	return data, nil
}

// DecodeDashboard parses a stored dashboard and fills in defaults for fields
// older documents may lack.
func DecodeDashboard(data []byte) (*Dashboard, error) {
	var d Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}
	ApplyDefaults(&d)
	return &d, nil
}

// MarshalDashboard renders d as indented JSON or as YAML. YAML keys use the
// JSON field names.
func MarshalDashboard(d *Dashboard, format string) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("marshal dashboard: nil dashboard")
	}
	switch format {
	case "", constants.FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	case constants.FormatYAML:
		data, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal dashboard %q: %w", d.UID, err)
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// UnmarshalDashboard parses a JSON or YAML document produced by
// MarshalDashboard and applies defaults.
func UnmarshalDashboard(data []byte, format string) (*Dashboard, error) {
	switch format {
	case "", constants.FormatJSON:
		return DecodeDashboard(data)
	case constants.FormatYAML:
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode dashboard: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("decode dashboard: %w", err)
		}
		return DecodeDashboard(converted)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// ApplyDefaults normalizes nil collections and an empty time range.
func ApplyDefaults(d *Dashboard) {
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.Panels == nil {
		d.Panels = []*Panel{}
	}
	if d.Templating.List == nil {
		d.Templating.List = []*Variable{}
	}
	if d.Time.From == "" {
		d.Time.From = constants.DefaultTimeFrom
	}
	if d.Time.To == "" {
		d.Time.To = constants.DefaultTimeTo
	}
	for _, v := range d.Templating.List {
		if v != nil && v.Options == nil {
			v.Options = []VariableOption{}
		}
	}
}
