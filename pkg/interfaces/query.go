package interfaces

import (
	"context"

	"github.com/inferloop/dashengine/pkg/models"
)

// QueryExecutor runs the targets of one panel against their data sources
type QueryExecutor interface {
	// ExecuteQueries runs already-interpolated targets over the time range.
	// The variables are passed for executors that need raw selections.
	ExecuteQueries(ctx context.Context, targets []models.Target, timeRange models.ResolvedTimeRange,
		variables []*models.Variable, opts models.QueryOptions) ([]*models.DataFrame, error)
}

// OptionsProvider computes the options of query-backed template variables
type OptionsProvider interface {
	// VariableOptions returns the options for v, whose query has already
	// been interpolated against the other variables.
	VariableOptions(ctx context.Context, v *models.Variable, timeRange models.ResolvedTimeRange) ([]models.VariableOption, error)
}
