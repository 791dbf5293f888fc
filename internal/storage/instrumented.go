package storage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
	"github.com/inferloop/dashengine/pkg/models"
)

const tracerName = "github.com/inferloop/dashengine/internal/storage"

// InstrumentedStore records a metric and a span for every store operation.
type InstrumentedStore struct {
	interfaces.DashboardStore
	backend string
	metrics *metrics.PrometheusMetrics
	tracer  trace.Tracer
}

// Instrument wraps store. A nil metrics collector only disables the metrics.
func Instrument(store interfaces.DashboardStore, backend string, m *metrics.PrometheusMetrics) *InstrumentedStore {
	return &InstrumentedStore{
		DashboardStore: store,
		backend:        backend,
		metrics:        m,
		tracer:         otel.Tracer(tracerName),
	}
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() interfaces.DashboardStore {
	return s.DashboardStore
}

// Load implements interfaces.DashboardStore
func (s *InstrumentedStore) Load(ctx context.Context, uid string) ([]byte, error) {
	ctx, done := s.observe(ctx, "load", uid)
	data, err := s.DashboardStore.Load(ctx, uid)
	done(err)
	return data, err
}

// Save implements interfaces.DashboardStore
func (s *InstrumentedStore) Save(ctx context.Context, uid string, data []byte) error {
	ctx, done := s.observe(ctx, "save", uid)
	err := s.DashboardStore.Save(ctx, uid, data)
	done(err)
	return err
}

// Delete implements interfaces.DashboardStore
func (s *InstrumentedStore) Delete(ctx context.Context, uid string) error {
	ctx, done := s.observe(ctx, "delete", uid)
	err := s.DashboardStore.Delete(ctx, uid)
	done(err)
	return err
}

// Search implements interfaces.DashboardStore
func (s *InstrumentedStore) Search(ctx context.Context, query *models.SearchQuery) ([]*models.Dashboard, error) {
	ctx, done := s.observe(ctx, "search", "")
	results, err := s.DashboardStore.Search(ctx, query)
	done(err)
	return results, err
}

func (s *InstrumentedStore) observe(ctx context.Context, op, uid string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("store.backend", s.backend),
		attribute.String("dashboard.uid", uid),
	))

	return ctx, func(err error) {
		s.metrics.RecordStorageOperation(s.backend, op, operationStatus(err), time.Since(start))
		if err != nil && !errors.IsNotFound(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func operationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.IsNotFound(err):
		return "not_found"
	case errors.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
