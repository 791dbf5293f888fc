// Package dashboards builds the dashboards the engine ships with: one
// watching the engine's own metrics and a demo backed by generated data.
package dashboards

import (
	"fmt"
	"sort"

	"github.com/inferloop/dashengine/internal/query/implementations/selfmetrics"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

// Template names accepted by FromTemplate.
const (
	TemplateEngine = "engine"
	TemplateDemo   = "demo"
)

var templates = map[string]func() *models.Dashboard{
	TemplateEngine: EngineDashboard,
	TemplateDemo:   DemoDashboard,
}

// Templates lists the built-in template names.
func Templates() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromTemplate builds the named dashboard.
func FromTemplate(name string) (*models.Dashboard, error) {
	build, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown dashboard template: %s", name)
	}
	return build(), nil
}

// EngineDashboard watches the engine through the "dashengine" datasource.
// Metric names assume the default "dashengine" namespace.
func EngineDashboard() *models.Dashboard {
	ds := &models.DatasourceRef{Type: selfmetrics.Type, UID: selfmetrics.Type}

	return &models.Dashboard{
		UID:           "dashengine-self",
		Title:         "Dashboard engine",
		Tags:          []string{constants.AppName, "monitoring"},
		Timezone:      "browser",
		SchemaVersion: constants.SchemaVersion,
		Time:          models.TimeRange{From: "now-1h", To: "now"},
		Refresh:       "30s",
		Templating: models.Templating{
			List: []*models.Variable{
				{
					Name:       "status",
					Label:      "Query status",
					Type:       models.VariableQuery,
					Query:      "label_values(dashengine_panel_queries_total, status)",
					Datasource: ds,
					Refresh:    models.RefreshOnDashboardLoad,
					Multi:      true,
					IncludeAll: true,
				},
			},
		},
		Panels: enginePanels(ds),
	}
}

func enginePanels(ds *models.DatasourceRef) []*models.Panel {
	metric := func(refID, name, by string) models.Target {
		t := models.Target{"refId": refID, "metric": name}
		if by != "" {
			t["by"] = by
		}
		return t
	}

	return []*models.Panel{
		// Overview row
		{
			ID:      1,
			Title:   "Overview",
			Type:    models.PanelRow,
			GridPos: models.GridPos{X: 0, Y: 0, W: 24, H: 1},
		},
		{
			ID:         2,
			Title:      "Dashboards cached",
			Type:       models.PanelStat,
			Datasource: ds,
			GridPos:    models.GridPos{X: 0, Y: 1, W: 6, H: 6},
			Targets:    []models.Target{metric("A", "dashengine_dashboards_cached", "")},
		},
		{
			ID:         3,
			Title:      "Open sessions",
			Type:       models.PanelStat,
			Datasource: ds,
			GridPos:    models.GridPos{X: 6, Y: 1, W: 6, H: 6},
			Targets:    []models.Target{metric("A", "dashengine_sessions_open", "")},
		},
		{
			ID:         4,
			Title:      "Websocket clients",
			Type:       models.PanelStat,
			Datasource: ds,
			GridPos:    models.GridPos{X: 12, Y: 1, W: 6, H: 6},
			Targets:    []models.Target{metric("A", "dashengine_websocket_clients", "")},
		},
		{
			ID:         5,
			Title:      "HTTP requests by status",
			Type:       models.PanelPieChart,
			Datasource: ds,
			GridPos:    models.GridPos{X: 18, Y: 1, W: 6, H: 6},
			Targets:    []models.Target{metric("A", "dashengine_http_requests_total", "status")},
		},

		// Refresh row
		{
			ID:      6,
			Title:   "Refresh",
			Type:    models.PanelRow,
			GridPos: models.GridPos{X: 0, Y: 7, W: 24, H: 1},
		},
		{
			ID:          7,
			Title:       "Panel queries ($status)",
			Description: "Panel queries by outcome.",
			Type:        models.PanelBarChart,
			Datasource:  ds,
			GridPos:     models.GridPos{X: 0, Y: 8, W: 12, H: 8},
			Targets:     []models.Target{metric("A", "dashengine_panel_queries_total", "status")},
		},
		{
			ID:         8,
			Title:      "Mean query latency",
			Type:       models.PanelGauge,
			Datasource: ds,
			GridPos:    models.GridPos{X: 12, Y: 8, W: 6, H: 8},
			Targets:    []models.Target{metric("A", "dashengine_panel_query_duration_seconds", "")},
			FieldConfig: map[string]interface{}{
				"defaults": map[string]interface{}{"unit": "s"},
			},
		},
		{
			ID:         9,
			Title:      "Refresh batches",
			Type:       models.PanelTable,
			Datasource: ds,
			GridPos:    models.GridPos{X: 18, Y: 8, W: 6, H: 8},
			Targets:    []models.Target{metric("A", "dashengine_refresh_batches_total", "status")},
		},

		// Storage row
		{
			ID:      10,
			Title:   "Storage",
			Type:    models.PanelRow,
			GridPos: models.GridPos{X: 0, Y: 16, W: 24, H: 1},
		},
		{
			ID:         11,
			Title:      "Storage operations",
			Type:       models.PanelBarChart,
			Datasource: ds,
			GridPos:    models.GridPos{X: 0, Y: 17, W: 12, H: 8},
			Targets: []models.Target{
				metric("A", "dashengine_storage_operations_total", "operation"),
				metric("B", "dashengine_dashboard_operations_total", "operation"),
			},
		},
		{
			ID:         12,
			Title:      "Mean storage latency",
			Type:       models.PanelTable,
			Datasource: ds,
			GridPos:    models.GridPos{X: 12, Y: 17, W: 12, H: 8},
			Targets:    []models.Target{metric("A", "dashengine_storage_operation_duration_seconds", "operation")},
		},
	}
}

// DemoDashboard renders generated data through the "testdata" datasource.
func DemoDashboard() *models.Dashboard {
	ds := &models.DatasourceRef{Type: constants.ExecutorTestData}

	return &models.Dashboard{
		UID:           "dashengine-demo",
		Title:         "Demo",
		Tags:          []string{"demo"},
		Timezone:      "browser",
		SchemaVersion: constants.SchemaVersion,
		Time:          models.TimeRange{From: "now-6h", To: "now"},
		Refresh:       "1m",
		Templating: models.Templating{
			List: []*models.Variable{
				{
					Name:    "region",
					Type:    models.VariableCustom,
					Query:   "eu-west,us-east,ap-south",
					Refresh: models.RefreshNever,
					Multi:   true,
				},
				{
					Name:       "host",
					Type:       models.VariableQuery,
					Query:      "$region-a,$region-b",
					Datasource: ds,
					Refresh:    models.RefreshOnDashboardLoad,
				},
			},
		},
		Panels: []*models.Panel{
			{
				ID:         1,
				Title:      "Requests on $host",
				Type:       models.PanelTimeSeries,
				Datasource: ds,
				GridPos:    models.GridPos{X: 0, Y: 0, W: 16, H: 9},
				Targets: []models.Target{
					{"refId": "A", "scenarioId": "random_walk", "seriesCount": 2, "alias": "$host"},
				},
			},
			{
				ID:         2,
				Title:      "Error budget",
				Type:       models.PanelGauge,
				Datasource: ds,
				GridPos:    models.GridPos{X: 16, Y: 0, W: 8, H: 9},
				Targets: []models.Target{
					{"refId": "A", "scenarioId": "csv_metric_values", "stringInput": "99.9,99.7,99.95"},
				},
			},
			{
				ID:      3,
				Title:   "Regions",
				Type:    models.PanelText,
				GridPos: models.GridPos{X: 0, Y: 9, W: 24, H: 3},
				Options: map[string]interface{}{"content": "Showing $region", "mode": "markdown"},
			},
		},
	}
}
