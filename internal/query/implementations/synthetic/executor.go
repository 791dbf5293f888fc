// Package synthetic serves the "testdata" datasource type: deterministic
// generated series that let dashboards render without a real data source.
package synthetic

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// Scenarios selected by a target's "scenarioId".
const (
	ScenarioRandomWalk = "random_walk"
	ScenarioCSVValues  = "csv_metric_values"
	ScenarioNoData     = "no_data_points"
	ScenarioError      = "server_error_500"
	ScenarioSlow       = "slow_query"
)

var defaultVariableValues = []string{"A", "B", "C"}

// Executor generates frames from target parameters. The same dashboard,
// panel, refId and time range always produce the same values.
type Executor struct {
	logger *logrus.Logger
}

// NewExecutor creates a synthetic data executor.
func NewExecutor(logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{logger: logger}
}

// ExecuteQueries implements interfaces.QueryExecutor.
func (e *Executor) ExecuteQueries(ctx context.Context, targets []models.Target, tr models.ResolvedTimeRange,
	_ []*models.Variable, opts models.QueryOptions) ([]*models.DataFrame, error) {
	frames := make([]*models.DataFrame, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := e.run(ctx, t, tr, opts)
		if err != nil {
			return nil, err
		}
		frames = append(frames, out...)
	}
	return frames, nil
}

func (e *Executor) run(ctx context.Context, t models.Target, tr models.ResolvedTimeRange, opts models.QueryOptions) ([]*models.DataFrame, error) {
	refID := t.RefID()
	scenario := t.String("scenarioId")
	if scenario == "" {
		scenario = ScenarioRandomWalk
	}

	switch scenario {
	case ScenarioRandomWalk:
		return e.randomWalk(t, tr, opts), nil
	case ScenarioCSVValues:
		frame, err := csvValues(t, tr)
		if err != nil {
			return nil, err
		}
		return []*models.DataFrame{frame}, nil
	case ScenarioNoData:
		return []*models.DataFrame{{RefID: refID, Fields: []models.Field{}}}, nil
	case ScenarioError:
		return nil, errors.NewQueryError(errors.CodeQueryFailed, "synthetic server error").WithContext("ref_id", refID)
	case ScenarioSlow:
		delay := interval.Parse(t.String("stringInput"))
		if delay <= 0 {
			delay = 5 * time.Second
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		return e.randomWalk(t, tr, opts), nil
	default:
		return nil, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("unknown scenario %q", scenario)).
			WithContext("ref_id", refID)
	}
}

// timestamps returns step-aligned points covering tr, keeping at most
// maxDataPoints of the most recent ones.
func timestamps(tr models.ResolvedTimeRange, opts models.QueryOptions) []time.Time {
	step := opts.Interval
	if step <= 0 {
		step = interval.Calculate(tr.Duration(), opts.MaxDataPoints, "")
	}
	if !tr.To.After(tr.From) {
		return nil
	}
	if opts.MaxDataPoints > 0 {
		if floor := tr.Duration() / time.Duration(opts.MaxDataPoints); step < floor {
			step = floor
		}
	}

	var out []time.Time
	for ts := tr.From.Truncate(step); !ts.After(tr.To); ts = ts.Add(step) {
		if !ts.Before(tr.From) {
			out = append(out, ts)
		}
	}
	if opts.MaxDataPoints > 0 && len(out) > opts.MaxDataPoints {
		out = out[len(out)-opts.MaxDataPoints:]
	}
	return out
}

func (e *Executor) randomWalk(t models.Target, tr models.ResolvedTimeRange, opts models.QueryOptions) []*models.DataFrame {
	refID := t.RefID()
	count := intParam(t, "seriesCount", 1)
	spread := floatParam(t, "spread", 1)
	start := floatParam(t, "startValue", math.NaN())

	times := timestamps(tr, opts)
	frames := make([]*models.DataFrame, 0, count)
	for s := 0; s < count; s++ {
		rng := rand.New(rand.NewSource(seed(opts.DashboardUID, opts.PanelID, refID, s, tr.From)))

		value := start
		if math.IsNaN(value) {
			value = rng.Float64() * 100
		}
		values := make([]interface{}, len(times))
		for i := range times {
			value += (rng.Float64() - 0.5) * 2 * spread
			values[i] = math.Round(value*1000) / 1000
		}

		name := seriesName(t, refID, s, count)
		frames = append(frames, &models.DataFrame{
			RefID: refID,
			Name:  name,
			Fields: []models.Field{
				timeField(times),
				{Name: "value", Type: models.FieldTypeNumber, Labels: map[string]string{"series": name}, Values: values},
			},
		})
	}
	return frames
}

// csvValues spreads the comma separated values of stringInput evenly over tr.
func csvValues(t models.Target, tr models.ResolvedTimeRange) (*models.DataFrame, error) {
	raw := lo.Compact(lo.Map(strings.Split(t.String("stringInput"), ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))

	values := make([]interface{}, len(raw))
	for i, s := range raw {
		if strings.EqualFold(s, "null") {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.NewQueryError(errors.CodeQueryFailed, fmt.Sprintf("invalid csv value %q", s)).
				WithContext("ref_id", t.RefID())
		}
		values[i] = f
	}

	times := make([]time.Time, len(raw))
	if n := len(raw); n == 1 {
		times[0] = tr.To
	} else if n > 1 {
		step := tr.Duration() / time.Duration(n-1)
		for i := range times {
			times[i] = tr.From.Add(time.Duration(i) * step)
		}
	}

	return &models.DataFrame{
		RefID: t.RefID(),
		Name:  seriesName(t, t.RefID(), 0, 1),
		Fields: []models.Field{
			timeField(times),
			{Name: "value", Type: models.FieldTypeNumber, Values: values},
		},
	}, nil
}

// VariableOptions implements interfaces.OptionsProvider. The query is a
// comma separated list of values; an empty query yields A, B and C.
func (e *Executor) VariableOptions(ctx context.Context, v *models.Variable, _ models.ResolvedTimeRange) ([]models.VariableOption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := defaultVariableValues
	if q := strings.TrimSpace(v.QueryString()); q != "" {
		values = lo.Uniq(lo.Compact(lo.Map(strings.Split(q, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		})))
	}

	return lo.Map(values, func(s string, _ int) models.VariableOption { return models.Option(s) }), nil
}

func timeField(times []time.Time) models.Field {
	values := make([]interface{}, len(times))
	for i, ts := range times {
		values[i] = ts
	}
	return models.Field{Name: "time", Type: models.FieldTypeTime, Values: values}
}

func seriesName(t models.Target, refID string, index, count int) string {
	name := t.String("alias")
	if name == "" {
		name = refID + "-series"
	}
	if count > 1 {
		name = fmt.Sprintf("%s-%d", name, index)
	}
	return name
}

func seed(dashboardUID string, panelID int, refID string, series int, from time.Time) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d/%s/%d/%d", dashboardUID, panelID, refID, series, from.Unix())
	return int64(h.Sum64())
}

func intParam(t models.Target, key string, def int) int {
	switch v := t[key].(type) {
	case float64:
		if v >= 1 {
			return int(v)
		}
	case int:
		if v >= 1 {
			return v
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

func floatParam(t models.Target, key string, def float64) float64 {
	switch v := t[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
