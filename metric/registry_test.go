package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower-mqtt/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry.CoreMetrics())
	require.NotNil(t, registry.PrometheusRegistry())

	// Core metrics must be usable immediately
	registry.CoreMetrics().MessagesReceived.Inc()
	registry.CoreMetrics().BrokerConnected.Set(1)
	registry.CoreMetrics().PipelinesExecuted.WithLabelValues("temp_proc", "sync").Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["flowerpower_messages_received_total"])
	assert.True(t, names["flowerpower_broker_connected"])
	assert.True(t, names["flowerpower_pipelines_executed_total"])
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test",
	})

	require.NoError(t, registry.RegisterCounter("listener", "test_counter_total", counter))

	// Duplicate key is rejected
	err := registry.RegisterCounter("listener", "test_counter_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, registry.Unregister("listener", "test_counter_total"))
	assert.False(t, registry.Unregister("listener", "test_counter_total"))

	// Re-registration works after unregister
	assert.NoError(t, registry.RegisterCounter("listener", "test_counter_total", counter))
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterGauge("svc", "g", prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_g", Help: "t"})))
	require.NoError(t, registry.RegisterHistogram("svc", "h", prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_h", Help: "t"})))
	require.NoError(t, registry.RegisterCounterVec("svc", "cv",
		prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cv", Help: "t"}, []string{"label"})))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gv",
		prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gv", Help: "t"}, []string{"label"})))
	require.NoError(t, registry.RegisterHistogramVec("svc", "hv",
		prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_hv", Help: "t"}, []string{"label"})))
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())
}
