// Package stats provides the thread-safe statistics aggregator for the
// dispatch core. Counters are cumulative atomics; Snapshot hands out
// independent copies so a concurrent writer can never corrupt a consumer's
// view. Individual counter reads may interleave, so a snapshot is
// approximately consistent; rates are derived by callers from two
// snapshots and elapsed wall-clock time.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/legout/flowerpower-mqtt/metric"
	"github.com/legout/flowerpower-mqtt/subscription"
)

// Statistics is a point-in-time read-only copy of the aggregate state.
type Statistics struct {
	MessageCount       int64                   `json:"message_count"`
	PipelineCount      int64                   `json:"pipeline_count"`
	ErrorCount         int64                   `json:"error_count"`
	SubscriptionsCount int                     `json:"subscriptions_count"`
	JobQueueEnabled    bool                    `json:"job_queue_enabled"`
	RuntimeSeconds     float64                 `json:"runtime_seconds"`
	Connected          bool                    `json:"connected"`
	Broker             string                  `json:"broker"`
	Subscriptions      []subscription.Snapshot `json:"subscriptions"`
}

// Aggregator owns the global dispatch counters and derives per-subscription
// breakdowns from the registry. Increments mirror into prometheus when a
// metrics registry is attached; a nil registry leaves metrics off.
type Aggregator struct {
	messageCount  atomic.Int64
	pipelineCount atomic.Int64
	errorCount    atomic.Int64

	connected       atomic.Bool
	jobQueueEnabled atomic.Bool

	mu        sync.RWMutex
	broker    string
	startTime time.Time

	registry *subscription.Registry
	metrics  *metric.Metrics
}

// NewAggregator creates an aggregator reading subscription breakdowns from
// registry. metricsRegistry may be nil.
func NewAggregator(registry *subscription.Registry, metricsRegistry *metric.MetricsRegistry) *Aggregator {
	a := &Aggregator{
		registry:  registry,
		startTime: time.Now(),
	}
	if metricsRegistry != nil {
		a.metrics = metricsRegistry.CoreMetrics()
	}
	return a
}

// RecordMessage counts one inbound message that matched at least one
// subscription.
func (a *Aggregator) RecordMessage() {
	a.messageCount.Add(1)
	if a.metrics != nil {
		a.metrics.MessagesReceived.Inc()
	}
}

// RecordPipeline counts one successful dispatch: a completed sync
// execution or a background job accepted by the queue.
func (a *Aggregator) RecordPipeline(pipelineName, mode string, duration time.Duration) {
	a.pipelineCount.Add(1)
	if a.metrics != nil {
		a.metrics.PipelinesExecuted.WithLabelValues(pipelineName, mode).Inc()
		a.metrics.DispatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	}
}

// RecordError counts one failed dispatch.
func (a *Aggregator) RecordError(pipelineName, kind string) {
	a.errorCount.Add(1)
	if a.metrics != nil {
		a.metrics.DispatchErrors.WithLabelValues(pipelineName, kind).Inc()
	}
}

// RecordJobEnqueued counts one job accepted by the background queue.
func (a *Aggregator) RecordJobEnqueued() {
	if a.metrics != nil {
		a.metrics.JobsEnqueued.Inc()
	}
}

// SetConnected records the broker connection state.
func (a *Aggregator) SetConnected(connected bool) {
	a.connected.Store(connected)
	if a.metrics != nil {
		if connected {
			a.metrics.BrokerConnected.Set(1)
		} else {
			a.metrics.BrokerConnected.Set(0)
		}
	}
}

// SetBroker records the broker address for snapshots.
func (a *Aggregator) SetBroker(broker string) {
	a.mu.Lock()
	a.broker = broker
	a.mu.Unlock()
}

// SetJobQueueEnabled records whether background dispatch is available.
func (a *Aggregator) SetJobQueueEnabled(enabled bool) {
	a.jobQueueEnabled.Store(enabled)
}

// MessageCount returns the cumulative matched-message count.
func (a *Aggregator) MessageCount() int64 { return a.messageCount.Load() }

// PipelineCount returns the cumulative successful-dispatch count.
func (a *Aggregator) PipelineCount() int64 { return a.pipelineCount.Load() }

// ErrorCount returns the cumulative failed-dispatch count.
func (a *Aggregator) ErrorCount() int64 { return a.errorCount.Load() }

// Snapshot produces an independent copy of the current statistics.
func (a *Aggregator) Snapshot() Statistics {
	a.mu.RLock()
	broker := a.broker
	startTime := a.startTime
	a.mu.RUnlock()

	snap := Statistics{
		MessageCount:    a.messageCount.Load(),
		PipelineCount:   a.pipelineCount.Load(),
		ErrorCount:      a.errorCount.Load(),
		JobQueueEnabled: a.jobQueueEnabled.Load(),
		RuntimeSeconds:  time.Since(startTime).Seconds(),
		Connected:       a.connected.Load(),
		Broker:          broker,
	}

	if a.registry != nil {
		snap.SubscriptionsCount = a.registry.Len()
		snap.Subscriptions = a.registry.List()
		if a.metrics != nil {
			a.metrics.SubscriptionsActive.Set(float64(snap.SubscriptionsCount))
		}
	}

	return snap
}
