package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/domain"
)

type fakeSource struct {
	envs []domain.Environment
	vars map[string][]domain.Variable
	err  error
}

func (f fakeSource) ListEnvironments(context.Context) ([]domain.Environment, error) {
	return f.envs, f.err
}

func (f fakeSource) ListVariables(_ context.Context, envID string) ([]domain.Variable, error) {
	return f.vars[envID], nil
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollect(t *testing.T) {
	src := fakeSource{
		envs: []domain.Environment{{ID: "e1", Name: "dev"}, {ID: "e2", Name: "prod"}},
		vars: map[string][]domain.Variable{
			"e1": {{Key: "A"}, {Key: "B", IsSecret: true}},
			"e2": {{Key: "C", IsSecret: true}},
		},
	}
	reg := prometheus.NewRegistry()
	c, err := New(src, "@every 1h", reg, nil)
	require.NoError(t, err)

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Environments: 2, Variables: 3, Secrets: 2}, snap)
	assert.Equal(t, snap, c.Last())
	assert.Equal(t, 2.0, gaugeValue(t, c.environments))
	assert.Equal(t, 2.0, gaugeValue(t, c.variables.WithLabelValues("true")))
	assert.Equal(t, 1.0, gaugeValue(t, c.variables.WithLabelValues("false")))
}

func TestCollectError(t *testing.T) {
	c, err := New(fakeSource{err: errors.New("store down")}, "*/5 * * * *", nil, nil)
	require.NoError(t, err)
	_, err = c.Collect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Snapshot{}, c.Last())
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(fakeSource{}, "every minute", nil, nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	c, err := New(fakeSource{}, "@every 1h", nil, nil)
	require.NoError(t, err)
	c.Start()
	c.Stop()
}
