package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "mf_test", "run-abc")
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
	assert.NotNil(t, m.Loss)
	assert.NotNil(t, m.Eps)
}

func TestObserveEpochUpdatesGaugesAndCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "mf_test2", "")

	m.ObserveEpoch(1, 3.5, 0.01, 250*time.Millisecond)

	assert.Equal(t, 3.5, gaugeValue(t, m.Loss))
	assert.Equal(t, 0.01, gaugeValue(t, m.Eps))

	var count dto.Metric
	require.NoError(t, m.EpochsTotal.Write(&count))
	assert.Equal(t, 1.0, count.GetCounter().GetValue())

	m.ObserveEpoch(2, 2.0, 0.009, 100*time.Millisecond)
	require.NoError(t, m.EpochsTotal.Write(&count))
	assert.Equal(t, 2.0, count.GetCounter().GetValue())
}
