package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDashboard = `{
  "id": 7,
  "uid": "svc-overview",
  "title": "Service overview",
  "tags": ["prod", "api"],
  "refresh": false,
  "time": {"from": "now-1h", "to": "now"},
  "templating": {"list": [
    {"name": "env", "type": "custom", "query": "prod,staging",
     "current": {"text": "prod", "value": "prod"},
     "options": [{"text": "prod", "value": "prod", "selected": true}]},
    {"name": "host", "type": "query", "multi": true,
     "current": {"text": ["a", "b"], "value": ["a", "b"]}}
  ]},
  "panels": [
    {"id": 1, "type": "timeseries", "title": "Latency",
     "gridPos": {"x": 0, "y": 0, "w": 12, "h": 9},
     "datasource": "influx",
     "targets": [{"refId": "A", "query": "from(bucket: \"$env\")", "nested": {"hosts": ["$host"]}}]},
    {"id": 2, "type": "acme-flowchart", "title": "Flow",
     "gridPos": {"x": 12, "y": 0, "w": 12, "h": 9},
     "pluginVersion": "3.1.0", "flowchart": {"nodes": [1, 2, 3]}}
  ]
}`

func decodeSample(t *testing.T) *Dashboard {
	t.Helper()
	d, err := DecodeDashboard([]byte(sampleDashboard))
	require.NoError(t, err)
	return d
}

func TestDecodeDashboard(t *testing.T) {
	d := decodeSample(t)

	assert.Equal(t, "svc-overview", d.UID)
	assert.Equal(t, "", d.Refresh, "legacy false refresh decodes as disabled")
	assert.False(t, d.RefreshEnabled())
	require.Len(t, d.Panels, 2)
	require.Len(t, d.Templating.List, 2)

	assert.Equal(t, &DatasourceRef{UID: "influx"}, d.Panels[0].Datasource)
	assert.Equal(t, "A", d.Panels[0].Targets[0].RefID())

	host, _ := d.Variable("host")
	require.NotNil(t, host)
	assert.Equal(t, []string{"a", "b"}, host.Values())

	env, idx := d.Variable("env")
	assert.Equal(t, 0, idx)
	assert.Equal(t, []string{"prod"}, env.Values())
}

func TestDecodeDefaults(t *testing.T) {
	d, err := DecodeDashboard([]byte(`{"uid":"x","title":"X"}`))
	require.NoError(t, err)

	assert.Equal(t, TimeRange{From: "now-6h", To: "now"}, d.Time)
	assert.NotNil(t, d.Panels)
	assert.NotNil(t, d.Tags)
	assert.NotNil(t, d.Templating.List)
}

func TestMarshalDashboardFormats(t *testing.T) {
	d := decodeSample(t)
	want, err := EncodeDashboard(d)
	require.NoError(t, err)

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			data, err := MarshalDashboard(d, format)
			require.NoError(t, err)

			back, err := UnmarshalDashboard(data, format)
			require.NoError(t, err)

			got, err := EncodeDashboard(back)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(got))
		})
	}

	data, err := MarshalDashboard(d, "yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "uid: svc-overview")

	_, err = MarshalDashboard(d, "toml")
	assert.Error(t, err)
	_, err = UnmarshalDashboard([]byte("uid: x"), "toml")
	assert.Error(t, err)
}

func TestOpaquePanelRoundTrip(t *testing.T) {
	d := decodeSample(t)
	flow := d.Panels[1]

	assert.Equal(t, PanelKindOpaque, flow.Kind())
	assert.Equal(t, PanelKindBuiltin, d.Panels[0].Kind())
	require.Contains(t, flow.Extra, "flowchart")

	data, err := EncodeDashboard(d)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &generic))
	panels := generic["panels"].([]interface{})
	second := panels[1].(map[string]interface{})
	assert.Equal(t, "3.1.0", second["pluginVersion"])
	assert.Equal(t, map[string]interface{}{"nodes": []interface{}{1.0, 2.0, 3.0}}, second["flowchart"])

	again, err := DecodeDashboard(data)
	require.NoError(t, err)
	assert.Equal(t, PanelKindOpaque, again.Panels[1].Kind())

	reencoded, err := EncodeDashboard(again)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(reencoded))
}

func TestDashboardCloneIsIndependent(t *testing.T) {
	d := decodeSample(t)
	c := d.Clone()

	if diff := cmp.Diff(d, c); diff != "" {
		t.Fatalf("clone differs (-want +got):\n%s", diff)
	}

	c.Title = "changed"
	c.Tags[0] = "dev"
	c.Panels[0].GridPos.X = 5
	c.Panels[0].Targets[0]["query"] = "other"
	c.Panels[0].Targets[0]["nested"].(map[string]interface{})["hosts"].([]interface{})[0] = "zzz"
	c.Panels[0].Datasource.UID = "other"
	c.Panels[1].Extra["flowchart"][2] = 'X'
	c.Templating.List[1].Current.Value[0] = "q"
	c.Templating.List[0].Options[0].Selected = false

	assert.Equal(t, "Service overview", d.Title)
	assert.Equal(t, "prod", d.Tags[0])
	assert.Equal(t, 0, d.Panels[0].GridPos.X)
	assert.Equal(t, `from(bucket: "$env")`, d.Panels[0].Targets[0]["query"])
	assert.Equal(t, "$host", d.Panels[0].Targets[0]["nested"].(map[string]interface{})["hosts"].([]interface{})[0])
	assert.Equal(t, "influx", d.Panels[0].Datasource.UID)
	assert.Equal(t, []string{"a", "b"}, d.Templating.List[1].Values())
	assert.True(t, d.Templating.List[0].Options[0].Selected)
	assert.True(t, json.Valid(d.Panels[1].Extra["flowchart"]))
}

func TestGridPosOverlaps(t *testing.T) {
	a := GridPos{X: 0, Y: 0, W: 12, H: 9}

	tests := []struct {
		name string
		b    GridPos
		want bool
	}{
		{"same", a, true},
		{"adjacent right", GridPos{X: 12, Y: 0, W: 12, H: 9}, false},
		{"adjacent below", GridPos{X: 0, Y: 9, W: 12, H: 9}, false},
		{"corner overlap", GridPos{X: 11, Y: 8, W: 4, H: 4}, true},
		{"contained", GridPos{X: 2, Y: 2, W: 2, H: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(a))
		})
	}
}

func TestGridPosValidate(t *testing.T) {
	assert.NoError(t, GridPos{X: 12, Y: 3, W: 12, H: 1}.Validate(24))
	assert.Error(t, GridPos{X: -1, Y: 0, W: 1, H: 1}.Validate(24))
	assert.Error(t, GridPos{X: 0, Y: 0, W: 0, H: 1}.Validate(24))
	assert.Error(t, GridPos{X: 13, Y: 0, W: 12, H: 1}.Validate(24))
}

func TestDashboardValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		d := decodeSample(t)
		assert.False(t, d.Validate().HasErrors())
	})

	t.Run("Missing title", func(t *testing.T) {
		d := decodeSample(t)
		d.Title = ""
		ve := d.Validate()
		require.True(t, ve.HasErrors())
		assert.Equal(t, "title", ve.First().Field)
	})

	t.Run("Panel problems", func(t *testing.T) {
		d := decodeSample(t)
		d.Panels[1].ID = 1
		d.Panels[0].Type = ""
		ve := d.Validate()
		require.Len(t, ve.Errors, 2)
		assert.Equal(t, "panels[0].type", ve.Errors[0].Field)
		assert.Equal(t, "panels[1].id", ve.Errors[1].Field)
	})

	t.Run("Duplicate variable", func(t *testing.T) {
		d := decodeSample(t)
		d.Templating.List[1].Name = "env"
		ve := d.Validate()
		require.True(t, ve.HasErrors())
		assert.Equal(t, "templating.list[1].name", ve.First().Field)
	})
}

func TestNextPanelID(t *testing.T) {
	d := &Dashboard{}
	assert.Equal(t, 1, d.NextPanelID())

	d.Panels = []*Panel{{ID: 1}, {ID: 3}}
	assert.Equal(t, 2, d.NextPanelID())

	d.Panels = append(d.Panels, &Panel{ID: 2})
	assert.Equal(t, 4, d.NextPanelID())
}

func TestVariableSetValues(t *testing.T) {
	v := &Variable{
		Name:    "env",
		Options: []VariableOption{{Text: StringList{"Production"}, Value: StringList{"prod"}}, Option("dev")},
	}

	v.SetValues([]string{"prod", "dev"})
	assert.Equal(t, []string{"prod"}, v.Values(), "single-value variable keeps the first value")
	assert.Equal(t, StringList{"Production"}, v.Current.Text)
	assert.True(t, v.Options[0].Selected)
	assert.False(t, v.Options[1].Selected)

	v.Multi = true
	v.SetValues([]string{"prod", "dev"})
	assert.Equal(t, []string{"prod", "dev"}, v.Values())

	v.IncludeAll = true
	v.SetValues([]string{"$__all"})
	assert.True(t, v.IsAll())
	assert.Equal(t, StringList{"All"}, v.Current.Text)
}

func TestStringListJSON(t *testing.T) {
	var s StringList
	require.NoError(t, json.Unmarshal([]byte(`"one"`), &s))
	assert.Equal(t, StringList{"one"}, s)

	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &s))
	assert.Equal(t, StringList{"a", "b"}, s)

	assert.Error(t, json.Unmarshal([]byte(`5`), &s))

	out, err := json.Marshal(StringList{"one"})
	require.NoError(t, err)
	assert.JSONEq(t, `"one"`, string(out))

	out, err = json.Marshal(StringList{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestTargetDatasource(t *testing.T) {
	tgt := Target{"datasource": map[string]interface{}{"type": "influxdb", "uid": "abc"}}
	assert.Equal(t, &DatasourceRef{Type: "influxdb", UID: "abc"}, tgt.Datasource())
	assert.Nil(t, Target{}.Datasource())
	assert.True(t, Target{"hide": true}.Hidden())
}

func TestResolvedTimeRangeDuration(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := ResolvedTimeRange{From: now.Add(-time.Hour), To: now}
	assert.Equal(t, time.Hour, r.Duration())
}
