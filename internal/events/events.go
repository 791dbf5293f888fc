// Package events carries engine notifications on typed channels, one per
// event category.
package events

import (
	"time"

	"github.com/inferloop/dashengine/pkg/models"
)

// Kind names a single notification.
type Kind string

const (
	DashboardLoaded      Kind = "dashboard-loaded"
	DashboardSaved       Kind = "dashboard-saved"
	DashboardSaveError   Kind = "dashboard-save-error"
	DashboardCreated     Kind = "dashboard-created"
	DashboardDeleted     Kind = "dashboard-deleted"
	DashboardDeleteError Kind = "dashboard-delete-error"

	PanelAdded   Kind = "panel-added"
	PanelUpdated Kind = "panel-updated"
	PanelRemoved Kind = "panel-removed"
	PanelMoved   Kind = "panel-moved"

	VariableAdded        Kind = "variable-added"
	VariableUpdated      Kind = "variable-updated"
	VariableValueChanged Kind = "variable-value-changed"

	TimeRangeChanged       Kind = "time-range-changed"
	RefreshIntervalChanged Kind = "refresh-interval-changed"

	DashboardRefreshStarted   Kind = "dashboard-refresh-started"
	DashboardRefreshCompleted Kind = "dashboard-refresh-completed"
	DashboardRefreshError     Kind = "dashboard-refresh-error"
	PanelRefreshStarted       Kind = "panel-refresh-started"
	PanelRefreshCompleted     Kind = "panel-refresh-completed"
	PanelRefreshError         Kind = "panel-refresh-error"
)

// Event is implemented by every payload type.
type Event interface {
	EventKind() Kind
	DashboardUID() string
}

// DashboardEvent reports a dashboard lifecycle change.
type DashboardEvent struct {
	Kind      Kind              `json:"kind"`
	UID       string            `json:"uid"`
	Dashboard *models.Dashboard `json:"dashboard,omitempty"`
	Error     string            `json:"error,omitempty"`
	Time      time.Time         `json:"time"`
}

// PanelEvent reports a panel mutation.
type PanelEvent struct {
	Kind    Kind          `json:"kind"`
	UID     string        `json:"uid"`
	PanelID int           `json:"panelId"`
	Panel   *models.Panel `json:"panel,omitempty"`
	Time    time.Time     `json:"time"`
}

// VariableEvent reports a template variable change.
type VariableEvent struct {
	Kind     Kind             `json:"kind"`
	UID      string           `json:"uid"`
	Name     string           `json:"name"`
	Variable *models.Variable `json:"variable,omitempty"`
	Time     time.Time        `json:"time"`
}

// TimeEvent reports a time range or refresh interval change.
type TimeEvent struct {
	Kind      Kind             `json:"kind"`
	UID       string           `json:"uid"`
	TimeRange models.TimeRange `json:"timeRange"`
	Refresh   string           `json:"refresh"`
	Time      time.Time        `json:"time"`
}

// RefreshEvent reports progress of a dashboard or panel refresh. PanelID is 0
// for dashboard-level events.
type RefreshEvent struct {
	Kind     Kind              `json:"kind"`
	UID      string            `json:"uid"`
	PanelID  int               `json:"panelId,omitempty"`
	Batch    uint64            `json:"batch"`
	Data     *models.PanelData `json:"data,omitempty"`
	Panels   int               `json:"panels,omitempty"`
	Failed   int               `json:"failed,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration,omitempty"`
	Time     time.Time         `json:"time"`
}

func (e DashboardEvent) EventKind() Kind      { return e.Kind }
func (e DashboardEvent) DashboardUID() string { return e.UID }
func (e PanelEvent) EventKind() Kind          { return e.Kind }
func (e PanelEvent) DashboardUID() string     { return e.UID }
func (e VariableEvent) EventKind() Kind       { return e.Kind }
func (e VariableEvent) DashboardUID() string  { return e.UID }
func (e TimeEvent) EventKind() Kind           { return e.Kind }
func (e TimeEvent) DashboardUID() string      { return e.UID }
func (e RefreshEvent) EventKind() Kind        { return e.Kind }
func (e RefreshEvent) DashboardUID() string   { return e.UID }
