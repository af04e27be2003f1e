// Package plugin provides the top-level facade tying the broker
// transport, subscription registry, dispatch router, execution adapter
// and statistics aggregator into one lifecycle: connect, subscribe,
// listen, stop, disconnect.
package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/legout/flowerpower-mqtt/config"
	"github.com/legout/flowerpower-mqtt/dispatch"
	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/health"
	"github.com/legout/flowerpower-mqtt/jobqueue"
	"github.com/legout/flowerpower-mqtt/metric"
	"github.com/legout/flowerpower-mqtt/mqttclient"
	"github.com/legout/flowerpower-mqtt/pipeline"
	"github.com/legout/flowerpower-mqtt/pkg/tlsutil"
	"github.com/legout/flowerpower-mqtt/pkg/worker"
	"github.com/legout/flowerpower-mqtt/stats"
	"github.com/legout/flowerpower-mqtt/subscription"
)

// State represents the plugin lifecycle state
type State int

// Possible lifecycle states
const (
	StateCreated State = iota
	StateConnected
	StateListening
	StateDisconnected
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DefaultStopTimeout bounds how long StopListener waits for in-flight
// dispatches when the caller gives no explicit timeout.
const DefaultStopTimeout = 30 * time.Second

// Plugin is the MQTT dispatch facade. All methods are safe for
// concurrent use; lifecycle transitions are serialized by an internal
// mutex while the hot dispatch path stays lock-free.
type Plugin struct {
	cfg    *config.Config
	logger *slog.Logger

	transport  mqttclient.Transport
	registry   *subscription.Registry
	engine     pipeline.Engine
	queue      jobqueue.Queue
	adapter    *dispatch.Adapter
	router     *dispatch.Router
	aggregator *stats.Aggregator
	metrics    *metric.MetricsRegistry
	health     *health.Monitor

	limiter *rate.Limiter

	mu           sync.Mutex
	state        State
	pool         *worker.Pool[dispatch.Message]
	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

// New creates a plugin from a validated configuration and a pipeline
// engine. The broker transport and job queue are built from the
// configuration unless overridden by options.
func New(cfg *config.Config, engine pipeline.Engine, opts ...Option) (*Plugin, error) {
	if cfg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Plugin", "New", "nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "Plugin", "New", "nil pipeline engine")
	}

	p := &Plugin{
		cfg:      cfg,
		engine:   engine,
		registry: subscription.NewRegistry(),
		logger:   slog.Default(),
		state:    StateCreated,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, errors.WrapInvalid(err, "Plugin", "New", "apply option")
		}
	}

	if p.aggregator == nil {
		p.aggregator = stats.NewAggregator(p.registry, p.metrics)
	}
	p.aggregator.SetBroker(cfg.MQTT.URL())

	if p.queue == nil && cfg.JobQueue.Enabled() {
		switch cfg.JobQueue.Type {
		case "memory":
			p.queue = jobqueue.NewMemoryQueue(cfg.JobQueue.Capacity, p.logger)
		case "nats":
			jsCfg := jobqueue.DefaultJetStreamConfig()
			jsCfg.URL = cfg.JobQueue.URL
			if cfg.JobQueue.Stream != "" {
				jsCfg.StreamName = cfg.JobQueue.Stream
			}
			if cfg.JobQueue.MaxAge > 0 {
				jsCfg.MaxAge = cfg.JobQueue.MaxAge
			}
			p.queue = jobqueue.NewJetStreamQueue(jsCfg, p.logger)
		}
	}
	p.aggregator.SetJobQueueEnabled(p.queue != nil)

	if p.transport == nil {
		clientOpts := []mqttclient.Option{
			mqttclient.WithKeepAlive(cfg.MQTT.KeepAlive),
			mqttclient.WithConnectTimeout(cfg.MQTT.ConnectTimeout),
			mqttclient.WithLogger(p.logger),
		}
		if cfg.MQTT.ClientID != "" {
			clientOpts = append(clientOpts, mqttclient.WithClientID(cfg.MQTT.ClientID))
		}
		if cfg.MQTT.Username != "" {
			clientOpts = append(clientOpts, mqttclient.WithCredentials(cfg.MQTT.Username, cfg.MQTT.Password))
		}
		if p.metrics != nil {
			clientOpts = append(clientOpts, mqttclient.WithMetrics(p.metrics.CoreMetrics()))
		}
		if cfg.MQTT.TLS.Enabled {
			tlsCfg, err := tlsutil.LoadClientConfig(cfg.MQTT.TLS.ClientConfig)
			if err != nil {
				return nil, err
			}
			clientOpts = append(clientOpts, mqttclient.WithTLS(tlsCfg))
		}
		client, err := mqttclient.NewClient(cfg.MQTT.URL(), clientOpts...)
		if err != nil {
			return nil, err
		}
		p.transport = client
	}

	if cfg.Dispatch.RateLimit > 0 {
		burst := int(cfg.Dispatch.RateLimit)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Dispatch.RateLimit), burst)
	}

	p.adapter = dispatch.NewAdapter(engine, p.queue)
	p.router = dispatch.NewRouter(p.registry, p.adapter, p.aggregator, p.logger)

	return p, nil
}

// State returns the current lifecycle state
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connect establishes the broker session and, when a NATS-backed job
// queue is configured, its connection as well. Subscriptions declared in
// the configuration are registered after the session is up.
func (p *Plugin) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateCreated && p.state != StateDisconnected {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Plugin", "Connect", "already connected")
	}
	p.mu.Unlock()

	if c, ok := p.transport.(*mqttclient.Client); ok {
		c.OnConnectionChange(func(connected bool) {
			p.aggregator.SetConnected(connected)
			if p.health != nil {
				if connected {
					p.health.UpdateHealthy(health.ComponentBroker, "broker session up")
				} else {
					p.health.UpdateUnhealthy(health.ComponentBroker, "broker session lost")
				}
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.transport.Connect(gctx)
	})
	if js, ok := p.queue.(*jobqueue.JetStreamQueue); ok {
		g.Go(func() error {
			return js.Connect(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.aggregator.SetConnected(true)
	if p.health != nil {
		p.health.UpdateHealthy(health.ComponentBroker, "broker session up")
		if p.queue != nil {
			p.health.UpdateHealthy(health.ComponentJobQueue, "job queue ready")
		}
	}

	// Memory queue workers live for the whole session, not one listener
	// run; Close during Disconnect terminates them via the channel close.
	if mq, ok := p.queue.(*jobqueue.MemoryQueue); ok {
		if err := mq.Start(context.Background(), p.engine, p.cfg.JobQueue.Workers); err != nil {
			p.logger.Warn("memory queue workers not started", "error", err)
		}
	}

	p.mu.Lock()
	p.state = StateConnected
	p.mu.Unlock()

	if len(p.cfg.Subscriptions) > 0 {
		if err := p.SubscribeMany(ctx, p.cfg.Subscriptions); err != nil {
			return err
		}
	}

	p.logger.Info("plugin connected",
		"broker", p.cfg.MQTT.URL(),
		"subscriptions", p.registry.Len(),
		"job_queue", p.queue != nil)
	return nil
}

// Subscribe registers a topic filter routed to the named pipeline. When
// the broker session is up the filter is also registered with the
// broker; a broker-side failure rolls the registration back.
func (p *Plugin) Subscribe(ctx context.Context, topicFilter, pipelineName string, qos subscription.QoS, mode subscription.ExecutionMode) error {
	sub, err := p.registry.Add(topicFilter, pipelineName, qos, mode)
	if err != nil {
		return err
	}

	if p.transport.Connected() {
		if err := p.transport.Subscribe(ctx, topicFilter, qos); err != nil {
			p.registry.Remove(topicFilter)
			return err
		}
	}

	p.logger.Info("subscribed",
		"topic", sub.Topic(),
		"pipeline", sub.Pipeline(),
		"qos", int(sub.QoS()),
		"mode", sub.Mode().String())
	return nil
}

// SubscribeMany registers a batch of configured subscriptions, stopping
// at the first failure.
func (p *Plugin) SubscribeMany(ctx context.Context, entries []config.SubscriptionConfig) error {
	for _, entry := range entries {
		qos, mode, err := entry.Parse()
		if err != nil {
			return err
		}
		if err := p.Subscribe(ctx, entry.Topic, entry.Pipeline, qos, mode); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes a topic filter. Messages already queued for
// dispatch still complete; new deliveries for the filter stop matching
// immediately.
func (p *Plugin) Unsubscribe(ctx context.Context, topicFilter string) error {
	if !p.registry.Remove(topicFilter) {
		p.logger.Debug("unsubscribe for unknown topic", "topic", topicFilter)
		return nil
	}
	if p.transport.Connected() {
		return p.transport.Unsubscribe(ctx, topicFilter)
	}
	return nil
}

// StartListener starts routing inbound messages through the dispatch
// worker pool. With background true it returns immediately; otherwise it
// blocks until ctx is cancelled and then drains in-flight dispatches.
func (p *Plugin) StartListener(ctx context.Context, background bool) error {
	p.mu.Lock()
	switch p.state {
	case StateListening:
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Plugin", "StartListener", "listener already running")
	case StateConnected:
	default:
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotConnected, "Plugin", "StartListener", "connect before listening")
	}

	poolCtx, cancel := context.WithCancel(context.Background())
	pool, err := worker.NewPool(
		p.cfg.Dispatch.SyncWorkers,
		p.cfg.Dispatch.QueueSize,
		func(ctx context.Context, msg dispatch.Message) error {
			_, err := p.router.Dispatch(ctx, msg)
			return err
		},
		worker.WithMetricsRegistry[dispatch.Message](p.metrics, "dispatch"),
	)
	if err != nil {
		cancel()
		p.mu.Unlock()
		return err
	}
	if err := pool.Start(poolCtx); err != nil {
		cancel()
		p.mu.Unlock()
		return err
	}

	p.pool = pool
	p.listenCancel = cancel
	p.listenDone = make(chan struct{})
	done := p.listenDone
	p.state = StateListening
	p.mu.Unlock()

	p.transport.SetHandler(p.handleMessage)
	if p.health != nil {
		p.health.UpdateHealthy(health.ComponentListener, "listener running")
	}
	p.logger.Info("listener started",
		"workers", p.cfg.Dispatch.SyncWorkers,
		"queue_size", p.cfg.Dispatch.QueueSize,
		"background", background)

	if background {
		return nil
	}

	select {
	case <-ctx.Done():
		_, err := p.StopListener(DefaultStopTimeout)
		return err
	case <-done:
		return nil
	}
}

// handleMessage is installed as the transport handler. It never blocks
// the network read loop: over-rate and over-capacity messages are
// dropped with a log instead of applying backpressure to the broker.
func (p *Plugin) handleMessage(msg dispatch.Message) {
	if p.limiter != nil && !p.limiter.Allow() {
		p.logger.Warn("message dropped by rate limit", "topic", msg.Topic)
		return
	}

	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()
	if pool == nil {
		return
	}

	if err := pool.Submit(msg); err != nil {
		p.logger.Warn("message dropped, dispatch queue full", "topic", msg.Topic, "error", err)
	}
}

// StopListener stops accepting new messages and waits up to timeout for
// in-flight dispatches to finish. It returns how many dispatches were
// still pending when the wait ended; non-zero only alongside
// ErrStopTimeout.
func (p *Plugin) StopListener(timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	p.mu.Lock()
	if p.state != StateListening {
		p.mu.Unlock()
		return 0, errors.WrapInvalid(errors.ErrNotStarted, "Plugin", "StopListener", "listener not running")
	}
	pool := p.pool
	cancel := p.listenCancel
	done := p.listenDone
	p.pool = nil
	p.listenCancel = nil
	p.listenDone = nil
	p.state = StateConnected
	p.mu.Unlock()

	// New deliveries stop entering the pool before it drains
	p.transport.SetHandler(nil)

	err := pool.Stop(timeout)
	stats := pool.Stats()
	pending := stats.InFlight + int64(stats.QueueDepth)

	cancel()
	close(done)

	if p.health != nil {
		p.health.Remove(health.ComponentListener)
	}

	if err != nil {
		p.logger.Warn("listener stopped with pending dispatches",
			"pending", pending, "timeout", timeout)
		return pending, err
	}

	p.logger.Info("listener stopped", "processed", stats.Processed, "dropped", stats.Dropped)
	return 0, nil
}

// Disconnect tears the plugin down: the listener (when running), the
// broker session and the job queue.
func (p *Plugin) Disconnect(ctx context.Context) error {
	if p.State() == StateListening {
		if _, err := p.StopListener(DefaultStopTimeout); err != nil {
			p.logger.Warn("listener stop during disconnect", "error", err)
		}
	}

	p.mu.Lock()
	if p.state == StateDisconnected || p.state == StateCreated {
		p.mu.Unlock()
		return nil
	}
	p.state = StateDisconnected
	p.mu.Unlock()

	err := p.transport.Disconnect(ctx)

	switch q := p.queue.(type) {
	case *jobqueue.JetStreamQueue:
		q.Close()
	case *jobqueue.MemoryQueue:
		q.Close()
	}

	p.aggregator.SetConnected(false)
	if p.health != nil {
		p.health.Remove(health.ComponentBroker)
		p.health.Remove(health.ComponentJobQueue)
	}
	p.logger.Info("plugin disconnected")
	return err
}

// ListSubscriptions returns a snapshot of every active subscription in
// registration order.
func (p *Plugin) ListSubscriptions() []subscription.Snapshot {
	return p.registry.List()
}

// GetStatistics returns a point-in-time copy of the aggregate dispatch
// statistics, including per-subscription breakdowns.
func (p *Plugin) GetStatistics() stats.Statistics {
	return p.aggregator.Snapshot()
}
