package models

import (
	"time"
)

// FieldType describes the values of a frame field.
type FieldType string

const (
	FieldTypeTime   FieldType = "time"
	FieldTypeNumber FieldType = "number"
	FieldTypeString FieldType = "string"
	FieldTypeBool   FieldType = "boolean"
	FieldTypeOther  FieldType = "other"
)

// Field is one column of a DataFrame.
type Field struct {
	Name   string            `json:"name"`
	Type   FieldType         `json:"type"`
	Labels map[string]string `json:"labels,omitempty"`
	Values []interface{}     `json:"values"`
}

// DataFrame is a columnar result of a single query.
type DataFrame struct {
	RefID  string  `json:"refId"`
	Name   string  `json:"name,omitempty"`
	Fields []Field `json:"fields"`
}

// Len returns the number of rows, taken from the first field.
func (f *DataFrame) Len() int {
	if f == nil || len(f.Fields) == 0 {
		return 0
	}
	return len(f.Fields[0].Values)
}

// QueryOptions is passed to the query executor with every panel query.
type QueryOptions struct {
	DashboardUID  string        `json:"dashboardUid"`
	PanelID       int           `json:"panelId"`
	MaxDataPoints int           `json:"maxDataPoints"`
	Interval      time.Duration `json:"interval"`
}

// PanelData is the latest query outcome of a panel. Frames keep the last
// successful result when a later query fails.
type PanelData struct {
	PanelID   int           `json:"panelId"`
	Frames    []*DataFrame  `json:"frames"`
	Error     string        `json:"error,omitempty"`
	Batch     uint64        `json:"batch"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Duration  time.Duration `json:"duration"`
}

// Stale reports whether the frames predate a failed query.
func (d *PanelData) Stale() bool {
	return d != nil && d.Error != "" && len(d.Frames) > 0
}
