package templating

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

type fakeProvider struct {
	queries []string
	options []models.VariableOption
	err     error
}

func (f *fakeProvider) VariableOptions(_ context.Context, v *models.Variable, _ models.ResolvedTimeRange) ([]models.VariableOption, error) {
	f.queries = append(f.queries, v.QueryString())
	return f.options, f.err
}

func testRange() models.ResolvedTimeRange {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.ResolvedTimeRange{From: now.Add(-time.Hour), To: now}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRefreshCustom(t *testing.T) {
	r := NewResolver(nil, quietLogger())
	v := &models.Variable{Name: "env", Type: models.VariableCustom, Query: "prod, staging , Dev : dev, a\\,b", IncludeAll: true}

	require.NoError(t, r.Refresh(context.Background(), v, nil, testRange()))

	require.Len(t, v.Options, 5)
	assert.Equal(t, models.StringList{"$__all"}, v.Options[0].Value)
	assert.Equal(t, models.StringList{"prod"}, v.Options[1].Value)
	assert.Equal(t, models.StringList{"staging"}, v.Options[2].Value)
	assert.Equal(t, models.StringList{"Dev"}, v.Options[3].Text)
	assert.Equal(t, models.StringList{"dev"}, v.Options[3].Value)
	assert.Equal(t, models.StringList{"a,b"}, v.Options[4].Value)
	assert.Equal(t, []string{"$__all"}, v.Values(), "empty selection falls back to the first option")
}

func TestRefreshKeepsValidSelection(t *testing.T) {
	r := NewResolver(nil, quietLogger())
	v := &models.Variable{Name: "env", Type: models.VariableCustom, Query: "a,b,c", Multi: true}
	v.SetValues([]string{"b", "zzz"})

	require.NoError(t, r.Refresh(context.Background(), v, nil, testRange()))
	assert.Equal(t, []string{"b"}, v.Values())
	assert.True(t, v.Options[1].Selected)
}

func TestRefreshConstantAndTextbox(t *testing.T) {
	r := NewResolver(nil, quietLogger())

	c := &models.Variable{Name: "c", Type: models.VariableConstant, Query: "fixed"}
	require.NoError(t, r.Refresh(context.Background(), c, nil, testRange()))
	assert.Equal(t, []string{"fixed"}, c.Values())

	tb := &models.Variable{Name: "t", Type: models.VariableTextbox, Query: "default"}
	require.NoError(t, r.Refresh(context.Background(), tb, nil, testRange()))
	assert.Equal(t, []string{"default"}, tb.Values())

	tb.SetValues([]string{"typed"})
	require.NoError(t, r.Refresh(context.Background(), tb, nil, testRange()))
	assert.Equal(t, []string{"typed"}, tb.Values())
}

func TestRefreshQueryChained(t *testing.T) {
	provider := &fakeProvider{options: []models.VariableOption{
		models.Option("web-1"), models.Option("web-2"), models.Option("db-1"), models.Option("web-1"),
	}}
	r := NewResolver(provider, quietLogger())

	region := customVar("region", "eu")
	host := &models.Variable{Name: "host", Type: models.VariableQuery, Query: "hosts(${region})", Regex: "/^web/"}
	all := []*models.Variable{region, host}

	require.NoError(t, r.Refresh(context.Background(), host, all, testRange()))

	assert.Equal(t, []string{"hosts(eu)"}, provider.queries)
	assert.Equal(t, "hosts(${region})", host.Query, "stored query keeps its tokens")
	require.Len(t, host.Options, 2)
	assert.Equal(t, []string{"web-1"}, host.Values())
}

func TestRefreshQueryDropsEmptyOptions(t *testing.T) {
	provider := &fakeProvider{options: []models.VariableOption{
		{Text: models.StringList{"blank"}, Value: models.StringList{}},
		models.Option("db-1"),
	}}
	r := NewResolver(provider, quietLogger())
	v := &models.Variable{Name: "host", Type: models.VariableQuery, Query: "hosts()"}

	require.NoError(t, r.Refresh(context.Background(), v, nil, testRange()))
	require.Len(t, v.Options, 1)
	assert.Equal(t, []string{"db-1"}, v.Values())
}

func TestKeepSelectionValidSkipsEmptyOptions(t *testing.T) {
	v := &models.Variable{Name: "host", Type: models.VariableQuery, Options: []models.VariableOption{
		{Value: models.StringList{}},
		models.Option("web-1"),
	}}
	assert.NotPanics(t, func() { KeepSelectionValid(v) })
	assert.Equal(t, []string{"web-1"}, v.Values())

	c := &models.Variable{Name: "c", Type: models.VariableConstant, Options: []models.VariableOption{{}}}
	assert.NotPanics(t, func() { KeepSelectionValid(c) })
	assert.Empty(t, c.Values())
}

func TestRefreshQueryWithoutProvider(t *testing.T) {
	r := NewResolver(nil, quietLogger())
	v := &models.Variable{Name: "host", Type: models.VariableQuery, Options: []models.VariableOption{models.Option("x")}}

	require.NoError(t, r.Refresh(context.Background(), v, nil, testRange()))
	assert.Len(t, v.Options, 1)
}

func TestRefreshAllReportsFirstError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("backend down")}
	r := NewResolver(provider, quietLogger())

	a := &models.Variable{Name: "a", Type: models.VariableQuery, Query: "q", Options: []models.VariableOption{models.Option("keep")}}
	b := &models.Variable{Name: "b", Type: models.VariableCustom, Query: "x,y"}

	err := r.RefreshAll(context.Background(), []*models.Variable{a, b}, []*models.Variable{a, b}, testRange())
	require.Error(t, err)
	assert.True(t, apperrors.IsQuery(err))
	assert.Equal(t, models.StringList{"keep"}, a.Options[0].Value, "failed variable keeps old options")
	assert.Len(t, b.Options, 2, "later variables still refresh")
}

func TestRefreshBadRegex(t *testing.T) {
	provider := &fakeProvider{options: []models.VariableOption{models.Option("a")}}
	r := NewResolver(provider, quietLogger())
	v := &models.Variable{Name: "v", Type: models.VariableQuery, Regex: "("}

	err := r.Refresh(context.Background(), v, nil, testRange())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestForTrigger(t *testing.T) {
	vars := []*models.Variable{
		{Name: "never", Refresh: models.RefreshNever},
		{Name: "load", Refresh: models.RefreshOnDashboardLoad},
		{Name: "time", Refresh: models.RefreshOnTimeRangeChanged},
		nil,
	}

	names := func(vs []*models.Variable) []string {
		var out []string
		for _, v := range vs {
			out = append(out, v.Name)
		}
		return out
	}

	assert.Equal(t, []string{"load", "time"}, names(ForTrigger(vars, models.RefreshOnDashboardLoad)))
	assert.Equal(t, []string{"time"}, names(ForTrigger(vars, models.RefreshOnTimeRangeChanged)))
	assert.Empty(t, ForTrigger(vars, models.RefreshNever))
}

func TestValidateNew(t *testing.T) {
	existing := []*models.Variable{{Name: "env", Type: models.VariableCustom}}

	assert.NoError(t, ValidateNew(&models.Variable{Name: "host_2", Type: models.VariableQuery}, existing))

	for _, tc := range []struct {
		name  string
		v     *models.Variable
		field string
	}{
		{"nil", nil, "name"},
		{"empty", &models.Variable{Type: models.VariableQuery}, "name"},
		{"bad chars", &models.Variable{Name: "a-b", Type: models.VariableQuery}, "name"},
		{"reserved", &models.Variable{Name: "__from", Type: models.VariableQuery}, "name"},
		{"duplicate", &models.Variable{Name: "env", Type: models.VariableQuery}, "name"},
		{"no type", &models.Variable{Name: "x"}, "type"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateNew(tc.v, existing)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tc.field, apperrors.FieldOf(err))
		})
	}
}
