// Package worker provides a generic bounded worker pool. The dispatch
// router uses it to cap how many synchronous pipeline executions run
// concurrently, so a transport delivering faster than pipelines complete
// cannot grow goroutines without bound.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/legout/flowerpower-mqtt/metric"
)

// Pool is a generic worker pool processing work items of type T.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       *sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64
	inFlight  int64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
	metricNames     []string
}

// poolMetrics holds prometheus collectors for pool monitoring
type poolMetrics struct {
	queueDepth     prometheus.Gauge
	inFlight       prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics with the given registry
// under the prefix. A nil registry leaves metrics off.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a worker pool with the given concurrency bound and
// queue size. The processor runs each work item; its error marks the item
// failed but never stops the pool.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		return nil, ErrNilProcessor
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		if err := pool.initializeMetrics(); err != nil {
			return nil, err
		}
	}

	return pool, nil
}

func (p *Pool[T]) initializeMetrics() error {
	prefix := p.metricsPrefix

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Current worker pool queue depth",
	})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_in_flight",
		Help: "Work items currently being processed",
	})
	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_submitted_total",
		Help: "Total work items submitted",
	})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_processed_total",
		Help: "Total work items processed",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total work items that failed processing",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_dropped_total",
		Help: "Total work items dropped due to full queue",
	})
	processingTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_processing_duration_seconds",
		Help:    "Time spent processing work items",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"status"})

	registrations := []struct {
		name     string
		register func(name string) error
	}{
		{prefix + "_queue_depth", func(n string) error {
			return p.metricsRegistry.RegisterGauge(metricsService, n, queueDepth)
		}},
		{prefix + "_in_flight", func(n string) error {
			return p.metricsRegistry.RegisterGauge(metricsService, n, inFlight)
		}},
		{prefix + "_submitted_total", func(n string) error {
			return p.metricsRegistry.RegisterCounter(metricsService, n, submitted)
		}},
		{prefix + "_processed_total", func(n string) error {
			return p.metricsRegistry.RegisterCounter(metricsService, n, processed)
		}},
		{prefix + "_failed_total", func(n string) error {
			return p.metricsRegistry.RegisterCounter(metricsService, n, failed)
		}},
		{prefix + "_dropped_total", func(n string) error {
			return p.metricsRegistry.RegisterCounter(metricsService, n, dropped)
		}},
		{prefix + "_processing_duration_seconds", func(n string) error {
			return p.metricsRegistry.RegisterHistogramVec(metricsService, n, processingTime)
		}},
	}
	for _, reg := range registrations {
		if err := reg.register(reg.name); err != nil {
			p.unregisterMetrics()
			return err
		}
		p.metricNames = append(p.metricNames, reg.name)
	}

	p.metrics = &poolMetrics{
		queueDepth:     queueDepth,
		inFlight:       inFlight,
		submitted:      submitted,
		processed:      processed,
		failed:         failed,
		dropped:        dropped,
		processingTime: processingTime,
	}
	return nil
}

// metricsService scopes pool metric registrations in the registry.
const metricsService = "worker_pool"

// unregisterMetrics releases this pool's registrations so a replacement
// pool can register collectors under the same prefix.
func (p *Pool[T]) unregisterMetrics() {
	for _, name := range p.metricNames {
		p.metricsRegistry.Unregister(metricsService, name)
	}
	p.metricNames = nil
}

// Submit submits work to the pool without blocking. Returns ErrQueueFull
// when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start starts the workers
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for in-flight work to
// finish. On timeout it returns ErrStopTimeout; callers can read
// Stats().InFlight and Stats().QueueDepth to report what was abandoned.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		p.unregisterMetrics()
		return nil
	case <-timer.C:
		p.stopped = true
		p.unregisterMetrics()
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		InFlight:   atomic.LoadInt64(&p.inFlight),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	InFlight   int64 `json:"in_flight"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}

			atomic.AddInt64(&p.inFlight, 1)
			if p.metrics != nil {
				p.metrics.inFlight.Set(float64(atomic.LoadInt64(&p.inFlight)))
				p.metrics.queueDepth.Set(float64(len(p.workChan)))
			}

			start := time.Now()
			err := p.processor(ctx, work)
			duration := time.Since(start)

			atomic.AddInt64(&p.inFlight, -1)
			atomic.AddInt64(&p.processed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}

			if p.metrics != nil {
				p.metrics.inFlight.Set(float64(atomic.LoadInt64(&p.inFlight)))
				p.metrics.processed.Inc()
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
			}
		}
	}
}
