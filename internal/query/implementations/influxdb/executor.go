package influxdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// Columns every Flux table carries that are not series labels.
var systemColumns = map[string]struct{}{
	"result":       {},
	"table":        {},
	"_start":       {},
	"_stop":        {},
	"_time":        {},
	"_value":       {},
	"_field":       {},
	"_measurement": {},
}

// InfluxDBConfig contains configuration for the InfluxDB executor
type InfluxDBConfig struct {
	URL          string        `json:"url" yaml:"url" mapstructure:"url"`
	Token        string        `json:"token" yaml:"token" mapstructure:"token"`
	Organization string        `json:"organization" yaml:"organization" mapstructure:"organization"`
	Bucket       string        `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	UseGZip      bool          `json:"use_gzip" yaml:"use_gzip" mapstructure:"use_gzip"`
}

// fluxQuerier is the part of api.QueryAPI the executor uses.
type fluxQuerier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

// Executor runs Flux targets against InfluxDB 2.x. A target's "query" field
// holds the Flux script; the macros v.timeRangeStart, v.timeRangeStop,
// v.windowPeriod, v.defaultBucket and v.organization are expanded first.
type Executor struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	queryAPI  fluxQuerier
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewExecutor creates a new InfluxDB executor
func NewExecutor(config *InfluxDBConfig, logger *logrus.Logger) (*Executor, error) {
	if config == nil {
		return nil, errors.NewConfigurationError("InfluxDB config cannot be nil")
	}
	if config.URL == "" {
		return nil, errors.NewConfigurationError("InfluxDB url is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Executor{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes connection to InfluxDB
func (e *Executor) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected {
		return nil
	}

	options := influxdb2.DefaultOptions().
		SetUseGZip(e.config.UseGZip).
		SetHTTPRequestTimeout(uint(e.config.Timeout / time.Second))

	client := influxdb2.NewClientWithOptions(e.config.URL, e.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.NewStoreConnectionError("influxdb", err)
	}
	if !ok {
		client.Close()
		return errors.NewStoreConnectionError("influxdb", fmt.Errorf("ping failed"))
	}

	e.client = client
	e.queryAPI = client.QueryAPI(e.config.Organization)
	e.connected = true

	e.logger.WithFields(logrus.Fields{
		"url":          e.config.URL,
		"organization": e.config.Organization,
		"bucket":       e.config.Bucket,
	}).Info("Connected to InfluxDB")

	return nil
}

// Ping checks that the server is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()

	if client == nil {
		return errors.NewQueryError(errors.CodeNotConnected, "not connected to InfluxDB")
	}
	ok, err := client.Ping(ctx)
	if err != nil {
		return errors.NewStoreConnectionError("influxdb", err)
	}
	if !ok {
		return errors.NewStoreConnectionError("influxdb", fmt.Errorf("ping failed"))
	}
	return nil
}

// Close closes the connection to InfluxDB
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return nil
	}
	if e.client != nil {
		e.client.Close()
	}
	e.connected = false
	e.logger.Info("Disconnected from InfluxDB")

	return nil
}

// ExecuteQueries implements interfaces.QueryExecutor. Each Flux table
// becomes one frame.
func (e *Executor) ExecuteQueries(ctx context.Context, targets []models.Target, tr models.ResolvedTimeRange,
	_ []*models.Variable, opts models.QueryOptions) ([]*models.DataFrame, error) {
	querier, err := e.querier()
	if err != nil {
		return nil, err
	}

	frames := make([]*models.DataFrame, 0, len(targets))
	for _, t := range targets {
		script := strings.TrimSpace(t.String("query"))
		if script == "" {
			continue
		}
		flux := e.expandMacros(script, tr, opts.Interval)

		e.logger.WithFields(logrus.Fields{
			"panel_id": opts.PanelID,
			"ref_id":   t.RefID(),
			"query":    flux,
		}).Debug("Executing Flux query")

		result, err := querier.Query(ctx, flux)
		if err != nil {
			return nil, queryError(err, t.RefID())
		}
		out, err := tablesToFrames(result, t.RefID())
		if err != nil {
			return nil, queryError(err, t.RefID())
		}
		frames = append(frames, out...)
	}
	return frames, nil
}

// VariableOptions implements interfaces.OptionsProvider. The distinct
// _value entries of the result, in order of appearance, become the options.
func (e *Executor) VariableOptions(ctx context.Context, v *models.Variable, tr models.ResolvedTimeRange) ([]models.VariableOption, error) {
	querier, err := e.querier()
	if err != nil {
		return nil, err
	}

	script := strings.TrimSpace(v.QueryString())
	if script == "" {
		return []models.VariableOption{}, nil
	}

	result, err := querier.Query(ctx, e.expandMacros(script, tr, 0))
	if err != nil {
		return nil, queryError(err, v.Name)
	}
	defer result.Close()

	var values []string
	for result.Next() {
		if val := result.Record().Value(); val != nil {
			values = append(values, fmt.Sprint(val))
		}
	}
	if err := result.Err(); err != nil {
		return nil, queryError(err, v.Name)
	}

	return lo.Map(lo.Uniq(values), func(s string, _ int) models.VariableOption { return models.Option(s) }), nil
}

func (e *Executor) querier() (fluxQuerier, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.queryAPI == nil {
		return nil, errors.NewQueryError(errors.CodeNoExecutor, "not connected to InfluxDB")
	}
	return e.queryAPI, nil
}

func (e *Executor) expandMacros(script string, tr models.ResolvedTimeRange, window time.Duration) string {
	if window <= 0 {
		window = interval.Calculate(tr.Duration(), 0, "")
	}
	return strings.NewReplacer(
		"v.timeRangeStart", tr.From.UTC().Format(time.RFC3339),
		"v.timeRangeStop", tr.To.UTC().Format(time.RFC3339),
		"v.windowPeriod", interval.Format(window),
		"v.defaultBucket", strconv.Quote(e.config.Bucket),
		"v.organization", strconv.Quote(e.config.Organization),
	).Replace(script)
}

type series struct {
	key    string
	name   string
	labels map[string]string
	times  []interface{}
	values []interface{}
	kind   models.FieldType
}

// tablesToFrames reads every record of result, grouping rows by their
// result and table columns.
func tablesToFrames(result *api.QueryTableResult, refID string) ([]*models.DataFrame, error) {
	defer result.Close()

	var order []*series
	byKey := make(map[string]*series)

	for result.Next() {
		record := result.Record()
		values := record.Values()
		key := fmt.Sprintf("%v/%v", values["result"], values["table"])

		s, ok := byKey[key]
		if !ok {
			s = &series{key: key, labels: make(map[string]string), kind: models.FieldTypeOther}
			for k, v := range values {
				if _, system := systemColumns[k]; system {
					continue
				}
				if str, ok := v.(string); ok {
					s.labels[k] = str
				}
			}
			s.name = seriesName(record.Measurement(), record.Field(), s.labels)
			byKey[key] = s
			order = append(order, s)
		}

		s.times = append(s.times, record.Time())
		value := record.Value()
		s.values = append(s.values, value)
		if value != nil && s.kind == models.FieldTypeOther {
			s.kind = fieldType(value)
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	frames := make([]*models.DataFrame, 0, len(order))
	for _, s := range order {
		frames = append(frames, &models.DataFrame{
			RefID: refID,
			Name:  s.name,
			Fields: []models.Field{
				{Name: "time", Type: models.FieldTypeTime, Values: s.times},
				{Name: "value", Type: s.kind, Labels: s.labels, Values: s.values},
			},
		})
	}
	return frames, nil
}

func seriesName(measurement, field string, labels map[string]string) string {
	name := strings.TrimSpace(measurement + " " + field)
	if len(labels) == 0 {
		return name
	}
	keys := lo.Keys(labels)
	sort.Strings(keys)
	pairs := lo.Map(keys, func(k string, _ int) string { return k + "=" + labels[k] })
	return fmt.Sprintf("%s {%s}", name, strings.Join(pairs, ", "))
}

func fieldType(v interface{}) models.FieldType {
	switch v.(type) {
	case float64, float32, int64, int, uint64:
		return models.FieldTypeNumber
	case string:
		return models.FieldTypeString
	case bool:
		return models.FieldTypeBool
	case time.Time:
		return models.FieldTypeTime
	}
	return models.FieldTypeOther
}

func queryError(err error, ref string) error {
	return errors.WrapError(err, errors.ErrorTypeQuery, errors.CodeQueryFailed, "InfluxDB query failed").
		WithContext("ref", ref)
}
