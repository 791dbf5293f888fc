// Package selfmetrics serves the "dashengine" datasource type: instant
// values read from the process's own Prometheus registry, so the engine can
// render a dashboard about itself without an external Prometheus.
package selfmetrics

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// Type is the datasource type this executor is registered under.
const Type = "dashengine"

var labelValuesQuery = regexp.MustCompile(`^label_values\(\s*([a-zA-Z_:][a-zA-Z0-9_:]*)\s*,\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\)$`)

// Executor answers targets of the form {"metric": "<family>", "by": "<label>"}.
// Every series of the family becomes one frame with a single point at the
// end of the time range. With "by", series are summed per value of that
// label. Histograms and summaries report their mean.
type Executor struct {
	gatherer prometheus.Gatherer
	logger   *logrus.Logger
}

// NewExecutor creates an executor reading from gatherer.
func NewExecutor(gatherer prometheus.Gatherer, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{gatherer: gatherer, logger: logger}
}

// ExecuteQueries implements interfaces.QueryExecutor.
func (e *Executor) ExecuteQueries(ctx context.Context, targets []models.Target, tr models.ResolvedTimeRange,
	_ []*models.Variable, _ models.QueryOptions) ([]*models.DataFrame, error) {
	families, err := e.gather(ctx)
	if err != nil {
		return nil, err
	}

	var frames []*models.DataFrame
	for _, t := range targets {
		name := t.String("metric")
		if name == "" {
			return nil, errors.NewQueryError(errors.CodeQueryFailed, "target has no metric").
				WithContext("ref_id", t.RefID())
		}
		mf, ok := families[name]
		if !ok {
			// An unregistered or never-observed family has no series.
			frames = append(frames, &models.DataFrame{RefID: t.RefID(), Fields: []models.Field{}})
			continue
		}
		frames = append(frames, seriesFrames(t, mf, tr)...)
	}
	return frames, nil
}

// VariableOptions implements interfaces.OptionsProvider. The query is either
// label_values(metric, label) or a metric name prefix listing families.
func (e *Executor) VariableOptions(ctx context.Context, v *models.Variable, _ models.ResolvedTimeRange) ([]models.VariableOption, error) {
	families, err := e.gather(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(v.QueryString())
	var values []string
	if m := labelValuesQuery.FindStringSubmatch(query); m != nil {
		if mf, ok := families[m[1]]; ok {
			for _, metric := range mf.GetMetric() {
				if val, ok := labelValue(metric, m[2]); ok {
					values = append(values, val)
				}
			}
		}
	} else {
		for name := range families {
			if strings.HasPrefix(name, query) {
				values = append(values, name)
			}
		}
	}

	values = lo.Uniq(values)
	sort.Strings(values)
	return lo.Map(values, func(s string, _ int) models.VariableOption { return models.Option(s) }), nil
}

func (e *Executor) gather(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.gatherer == nil {
		return nil, errors.NewQueryError(errors.CodeNotConnected, "no metrics registry")
	}
	mfs, err := e.gatherer.Gather()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeQuery, errors.CodeQueryFailed, "failed to gather metrics")
	}
	return lo.SliceToMap(mfs, func(mf *dto.MetricFamily) (string, *dto.MetricFamily) {
		return mf.GetName(), mf
	}), nil
}

type series struct {
	labels map[string]string
	value  float64
}

func seriesFrames(t models.Target, mf *dto.MetricFamily, tr models.ResolvedTimeRange) []*models.DataFrame {
	by := t.String("by")

	grouped := make(map[string]*series)
	var keys []string
	for _, m := range mf.GetMetric() {
		labels := make(map[string]string)
		if by != "" {
			if v, ok := labelValue(m, by); ok {
				labels[by] = v
			}
		} else {
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
		}
		key := seriesKey(labels)
		s, ok := grouped[key]
		if !ok {
			s = &series{labels: labels}
			grouped[key] = s
			keys = append(keys, key)
		}
		s.value += sampleValue(mf.GetType(), m)
	}
	sort.Strings(keys)

	frames := make([]*models.DataFrame, 0, len(keys))
	for _, key := range keys {
		s := grouped[key]
		name := mf.GetName()
		if key != "" {
			name = fmt.Sprintf("%s{%s}", name, key)
		}
		if alias := t.String("alias"); alias != "" {
			name = alias
		}
		frames = append(frames, &models.DataFrame{
			RefID: t.RefID(),
			Name:  name,
			Fields: []models.Field{
				{Name: "time", Type: models.FieldTypeTime, Values: []interface{}{tr.To}},
				{Name: "value", Type: models.FieldTypeNumber, Labels: s.labels, Values: []interface{}{s.value}},
			},
		})
	}
	return frames
}

func sampleValue(kind dto.MetricType, m *dto.Metric) float64 {
	switch kind {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		if h.GetSampleCount() == 0 {
			return 0
		}
		return h.GetSampleSum() / float64(h.GetSampleCount())
	case dto.MetricType_SUMMARY:
		s := m.GetSummary()
		if s.GetSampleCount() == 0 {
			return 0
		}
		return s.GetSampleSum() / float64(s.GetSampleCount())
	default:
		return m.GetUntyped().GetValue()
	}
}

func labelValue(m *dto.Metric, name string) (string, bool) {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue(), true
		}
	}
	return "", false
}

func seriesKey(labels map[string]string) string {
	names := lo.Keys(labels)
	sort.Strings(names)
	return strings.Join(lo.Map(names, func(n string, _ int) string {
		return fmt.Sprintf("%s=%q", n, labels[n])
	}), ",")
}
