package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower-mqtt/metric"
	"github.com/legout/flowerpower-mqtt/subscription"
)

func TestAggregator_Counters(t *testing.T) {
	a := NewAggregator(subscription.NewRegistry(), nil)

	a.RecordMessage()
	a.RecordMessage()
	a.RecordPipeline("temp_proc", "sync", 5*time.Millisecond)
	a.RecordError("temp_proc", "pipeline_execution_failed")

	assert.Equal(t, int64(2), a.MessageCount())
	assert.Equal(t, int64(1), a.PipelineCount())
	assert.Equal(t, int64(1), a.ErrorCount())
}

func TestAggregator_Snapshot(t *testing.T) {
	registry := subscription.NewRegistry()
	_, err := registry.Add("sensors/+/temperature", "temp_proc", subscription.QoSAtLeastOnce, subscription.ModeAsync)
	require.NoError(t, err)

	a := NewAggregator(registry, nil)
	a.SetBroker("tcp://localhost:1883")
	a.SetConnected(true)
	a.SetJobQueueEnabled(true)
	a.RecordMessage()

	snap := a.Snapshot()
	assert.Equal(t, int64(1), snap.MessageCount)
	assert.Equal(t, 1, snap.SubscriptionsCount)
	assert.True(t, snap.Connected)
	assert.True(t, snap.JobQueueEnabled)
	assert.Equal(t, "tcp://localhost:1883", snap.Broker)
	assert.GreaterOrEqual(t, snap.RuntimeSeconds, 0.0)
	require.Len(t, snap.Subscriptions, 1)
	assert.Equal(t, "sensors/+/temperature", snap.Subscriptions[0].Topic)
}

func TestAggregator_SnapshotIsIndependent(t *testing.T) {
	a := NewAggregator(subscription.NewRegistry(), nil)
	a.RecordMessage()

	snap := a.Snapshot()
	snap.MessageCount = 999

	assert.Equal(t, int64(1), a.Snapshot().MessageCount)
}

func TestAggregator_MirrorsPrometheus(t *testing.T) {
	registry := subscription.NewRegistry()
	metricsRegistry := metric.NewMetricsRegistry()
	a := NewAggregator(registry, metricsRegistry)

	a.RecordMessage()
	a.RecordPipeline("temp_proc", "async", time.Millisecond)
	a.RecordError("temp_proc", "queue_unavailable")
	a.RecordJobEnqueued()
	a.SetConnected(true)

	families, err := metricsRegistry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] += m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["flowerpower_messages_received_total"])
	assert.Equal(t, 1.0, values["flowerpower_pipelines_executed_total"])
	assert.Equal(t, 1.0, values["flowerpower_dispatch_errors_total"])
	assert.Equal(t, 1.0, values["flowerpower_jobs_enqueued_total"])
	assert.Equal(t, 1.0, values["flowerpower_broker_connected"])
}

func TestAggregator_ConcurrentIncrements(t *testing.T) {
	a := NewAggregator(subscription.NewRegistry(), nil)

	const goroutines = 8
	const iterations = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				a.RecordMessage()
				a.RecordPipeline("p", "sync", 0)
				a.RecordError("p", "kind")
			}
		}()
	}

	// Concurrent snapshot readers must never observe corruption
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				snap := a.Snapshot()
				if snap.MessageCount < 0 {
					t.Error("negative message count")
					return
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, int64(goroutines*iterations), a.MessageCount())
	assert.Equal(t, int64(goroutines*iterations), a.PipelineCount())
	assert.Equal(t, int64(goroutines*iterations), a.ErrorCount())
}
