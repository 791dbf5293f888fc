package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inferloop/dashengine/pkg/models"
)

func TestReferencedVariables(t *testing.T) {
	value := map[string]interface{}{
		"q":     "SELECT * FROM $table WHERE host IN (${host:csv}) AND env = '$env'",
		"inner": []interface{}{"[[region]]", 5.0, "$env"},
	}
	assert.Equal(t, []string{"env", "host", "region", "table"}, ReferencedVariables(value))
	assert.Empty(t, ReferencedVariables("no tokens here"))
}

func TestReferencesWordBoundary(t *testing.T) {
	assert.True(t, References("$var", "var"))
	assert.True(t, References("${var}", "var"))
	assert.True(t, References("a.$var.b", "var"))
	assert.False(t, References("$variable2", "var"))
	assert.False(t, References("$var2", "var"))
	assert.False(t, References("var", "var"))
}

func TestDependentPanels(t *testing.T) {
	panels := []*models.Panel{
		{ID: 1, Targets: []models.Target{{"query": "cpu{host=\"$host\"}"}}},
		{ID: 2, Targets: []models.Target{{"query": "mem{env=\"$env\"}"}}},
		{ID: 3, Targets: []models.Target{{"query": "$hostname"}}},
		{ID: 4, Datasource: &models.DatasourceRef{UID: "${ds}"}},
		{ID: 5, Interval: "$host"},
		{ID: 6, Targets: []models.Target{{"nested": map[string]interface{}{"deep": []interface{}{"$host"}}}}},
		nil,
	}

	assert.Equal(t, []int{1, 5, 6}, DependentPanels(panels, "host"))
	assert.Equal(t, []int{2}, DependentPanels(panels, "env"))
	assert.Equal(t, []int{4}, DependentPanels(panels, "ds"))
	assert.Empty(t, DependentPanels(panels, "nothing"))
}

func TestDependentVariables(t *testing.T) {
	vars := []*models.Variable{
		{Name: "region", Type: models.VariableCustom, Query: "eu,us"},
		{Name: "cluster", Type: models.VariableQuery, Query: "clusters($region)"},
		{Name: "host", Type: models.VariableQuery, Query: "hosts($cluster)"},
		{Name: "other", Type: models.VariableQuery, Query: "things()"},
		{Name: "ds", Type: models.VariableDatasource, Datasource: &models.DatasourceRef{UID: "$region"}},
	}

	deps := DependentVariables(vars, "region")
	names := make([]string, 0, len(deps))
	for _, v := range deps {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"cluster", "host", "ds"}, names)
	assert.Empty(t, DependentVariables(vars, "other"))
}
