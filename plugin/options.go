package plugin

import (
	"fmt"
	"log/slog"

	"github.com/legout/flowerpower-mqtt/health"
	"github.com/legout/flowerpower-mqtt/jobqueue"
	"github.com/legout/flowerpower-mqtt/metric"
	"github.com/legout/flowerpower-mqtt/mqttclient"
)

// Option configures a Plugin
type Option func(*Plugin) error

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// WithTransport overrides the broker transport. Used by tests to run
// the full dispatch lifecycle without a broker.
func WithTransport(t mqttclient.Transport) Option {
	return func(p *Plugin) error {
		if t == nil {
			return fmt.Errorf("transport cannot be nil")
		}
		p.transport = t
		return nil
	}
}

// WithQueue overrides the job queue built from the configuration
func WithQueue(q jobqueue.Queue) Option {
	return func(p *Plugin) error {
		p.queue = q
		return nil
	}
}

// WithHealthMonitor wires lifecycle transitions into a health monitor
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(p *Plugin) error {
		p.health = monitor
		return nil
	}
}

// WithMetricsRegistry wires prometheus metrics for the dispatch core,
// the worker pool and the broker connection.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(p *Plugin) error {
		p.metrics = registry
		return nil
	}
}
