package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/internal/query/implementations/synthetic"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

type recordingExecutor struct {
	name  string
	calls [][]string
	err   error
}

func (r *recordingExecutor) ExecuteQueries(_ context.Context, targets []models.Target, _ models.ResolvedTimeRange,
	_ []*models.Variable, _ models.QueryOptions) ([]*models.DataFrame, error) {
	if r.err != nil {
		return nil, r.err
	}
	refs := make([]string, 0, len(targets))
	frames := make([]*models.DataFrame, 0, len(targets))
	for _, t := range targets {
		refs = append(refs, t.RefID())
		frames = append(frames, &models.DataFrame{RefID: t.RefID(), Name: r.name})
	}
	r.calls = append(r.calls, refs)
	return frames, nil
}

func TestRouterGroupsByTypeAndKeepsTargetOrder(t *testing.T) {
	r := NewRouter("alpha", nil)
	alpha := &recordingExecutor{name: "alpha"}
	beta := &recordingExecutor{name: "beta"}
	r.Register("alpha", alpha)
	r.Register("beta", beta)
	r.Alias("prod-beta", "beta")

	targets := []models.Target{
		{"refId": "A", "datasource": map[string]interface{}{"type": "beta"}},
		{"refId": "B"},
		{"refId": "C", "datasource": "prod-beta"},
		{"refId": "D", "datasource": "alpha"},
	}

	frames, err := r.ExecuteQueries(context.Background(), targets, models.ResolvedTimeRange{}, nil, models.QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"A", "C"}}, beta.calls)
	assert.Equal(t, [][]string{{"B", "D"}}, alpha.calls)

	require.Len(t, frames, 4)
	for i, ref := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, ref, frames[i].RefID)
	}
	assert.Equal(t, "beta", frames[0].Name)
	assert.Equal(t, "alpha", frames[1].Name)
}

func TestRouterUnknownType(t *testing.T) {
	r := NewRouter("", nil)

	_, err := r.ExecuteQueries(context.Background(), []models.Target{{"refId": "A"}}, models.ResolvedTimeRange{}, nil, models.QueryOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoExecutor)
	assert.True(t, errors.IsQuery(err))

	frames, err := r.ExecuteQueries(context.Background(), nil, models.ResolvedTimeRange{}, nil, models.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestRouterPropagatesExecutorError(t *testing.T) {
	r := NewRouter("x", nil)
	r.Register("x", &recordingExecutor{err: assert.AnError})

	_, err := r.ExecuteQueries(context.Background(), []models.Target{{"refId": "A"}}, models.ResolvedTimeRange{}, nil, models.QueryOptions{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRouterVariableOptions(t *testing.T) {
	r := NewRouter(constants.ExecutorTestData, nil)
	r.Register(constants.ExecutorTestData, synthetic.NewExecutor(nil))
	r.Register("plain", &recordingExecutor{})

	opts, err := r.VariableOptions(context.Background(), &models.Variable{Name: "x", Query: "a,b"}, models.ResolvedTimeRange{})
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = r.VariableOptions(context.Background(), &models.Variable{Name: "x", Datasource: &models.DatasourceRef{Type: "plain"}},
		models.ResolvedTimeRange{})
	assert.ErrorIs(t, err, errors.ErrNoExecutor)

	assert.Equal(t, []string{"plain", constants.ExecutorTestData}, r.Types())
}
