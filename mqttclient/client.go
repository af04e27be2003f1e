// Package mqttclient manages the broker connection over MQTT 5. It wraps
// autopaho's connection manager with status tracking, automatic
// re-subscription after reconnects and a single inbound handler that
// feeds every received publish into the dispatch path.
package mqttclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/legout/flowerpower-mqtt/dispatch"
	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/metric"
	"github.com/legout/flowerpower-mqtt/subscription"
)

// ConnectionStatus represents the state of the broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Handler receives every publish delivered by the broker. It must not
// block: slow consumers are decoupled behind the dispatch queue, not the
// network read loop.
type Handler func(msg dispatch.Message)

// Transport is the broker-facing capability the plugin depends on.
// The concrete Client implements it over MQTT 5; tests substitute an
// in-process fake.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos subscription.QoS) error
	Unsubscribe(ctx context.Context, topic string) error
	Disconnect(ctx context.Context) error
	SetHandler(h Handler)
	Connected() bool
}

// Client is the MQTT 5 implementation of Transport.
type Client struct {
	brokerURL string
	clientID  string
	username  string
	password  string
	keepAlive time.Duration
	timeout   time.Duration
	tlsConfig *tls.Config

	status     atomic.Value // ConnectionStatus
	reconnects atomic.Int64

	// mu guards the connection manager handle, the inbound handler and
	// the desired subscriptions, replayed on every connection up so a
	// broker restart does not silently drop filters.
	mu      sync.RWMutex
	cm      *autopaho.ConnectionManager
	subs    map[string]subscription.QoS
	handler Handler

	onConnectionChange func(bool)

	logger  *slog.Logger
	metrics *metric.Metrics
}

var _ Transport = (*Client)(nil)

// NewClient creates a broker client for the given URL
// (tcp://host:port or ssl://host:port).
func NewClient(brokerURL string, opts ...Option) (*Client, error) {
	c := &Client{
		brokerURL: brokerURL,
		clientID:  "flowerpower-" + uuid.New().String()[:8],
		keepAlive: 30 * time.Second,
		timeout:   10 * time.Second,
		subs:      make(map[string]subscription.QoS),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	return c, nil
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// Connected reports whether the broker session is currently up
func (c *Client) Connected() bool {
	return c.Status() == StatusConnected
}

// Reconnects returns how many times the session was re-established
// after the initial connect.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// SetHandler installs the inbound message handler. Must be called before
// Connect; publishes arriving without a handler are dropped with a log.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnConnectionChange sets a callback invoked on every connection up and
// connection lost transition.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	c.onConnectionChange = fn
	c.mu.Unlock()
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

func (c *Client) connection() *autopaho.ConnectionManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cm
}

// Connect establishes the broker session and blocks until the first
// CONNACK or ctx expiry. Reconnection after that is handled internally
// by the connection manager.
func (c *Client) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(c.brokerURL)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("broker URL %q: %w", c.brokerURL, err),
			"Client", "Connect", "parse broker URL")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to broker", "url", c.brokerURL, "client_id", c.clientID)

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     uint16(c.keepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		ConnectTimeout:                c.timeout,
		OnConnectionUp:                c.handleConnectionUp,
		OnConnectError:                c.handleConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.handlePublish,
			},
			OnClientError: c.handleClientError,
		},
	}
	if c.username != "" {
		cfg.ConnectUsername = c.username
		cfg.ConnectPassword = []byte(c.password)
	}
	if c.tlsConfig != nil {
		cfg.TlsCfg = c.tlsConfig
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "create connection manager")
	}
	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()

	awaitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := cm.AwaitConnection(awaitCtx); err != nil {
		c.setStatus(StatusDisconnected)
		_ = cm.Disconnect(context.Background())
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, err),
			"Client", "Connect", "await broker connection")
	}

	return nil
}

// Subscribe registers a topic filter with the broker at the given QoS.
// The filter is remembered and replayed on reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, qos subscription.QoS) error {
	cm := c.connection()
	if cm == nil || !c.Connected() {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Subscribe", "check connection")
	}

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	})
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %s: %v", errors.ErrSubscribeFailed, topic, err),
			"Client", "Subscribe", "broker subscribe")
	}

	c.mu.Lock()
	c.subs[topic] = qos
	c.mu.Unlock()

	c.logger.Debug("subscribed", "topic", topic, "qos", byte(qos))
	return nil
}

// Unsubscribe removes a topic filter from the broker and from the
// replay set.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	cm := c.connection()
	if cm == nil || !c.Connected() {
		return nil
	}

	_, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Unsubscribe", "broker unsubscribe")
	}
	c.logger.Debug("unsubscribed", "topic", topic)
	return nil
}

// Disconnect closes the broker session cleanly
func (c *Client) Disconnect(ctx context.Context) error {
	cm := c.connection()
	if cm == nil {
		return nil
	}
	c.setStatus(StatusDisconnected)
	if err := cm.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "Client", "Disconnect", "close broker session")
	}
	c.logger.Info("disconnected from broker", "url", c.brokerURL)
	return nil
}

// handleConnectionUp replays all desired subscriptions after every
// successful CONNACK, including reconnects.
func (c *Client) handleConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	first := c.Status() == StatusConnecting
	c.setStatus(StatusConnected)

	if !first {
		c.reconnects.Add(1)
		if c.metrics != nil {
			c.metrics.BrokerReconnects.Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.BrokerConnected.Set(1)
	}

	c.mu.RLock()
	pending := make([]paho.SubscribeOptions, 0, len(c.subs))
	for topic, qos := range c.subs {
		pending = append(pending, paho.SubscribeOptions{Topic: topic, QoS: byte(qos)})
	}
	onChange := c.onConnectionChange
	c.mu.RUnlock()

	c.logger.Info("broker connection up", "url", c.brokerURL, "subscriptions", len(pending))

	if len(pending) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: pending}); err != nil {
			c.logger.Error("resubscribe after reconnect failed", "error", err)
		}
	}

	if onChange != nil {
		go onChange(true)
	}
}

func (c *Client) handleConnectError(err error) {
	if c.Status() == StatusConnected {
		c.setStatus(StatusReconnecting)
	}
	if c.metrics != nil {
		c.metrics.BrokerConnected.Set(0)
	}

	c.mu.RLock()
	onChange := c.onConnectionChange
	c.mu.RUnlock()
	if onChange != nil {
		go onChange(false)
	}

	c.logger.Warn("broker connection error", "url", c.brokerURL, "error", err)
}

func (c *Client) handleClientError(err error) {
	if c.Status() == StatusConnected {
		c.setStatus(StatusReconnecting)
	}
	c.logger.Warn("broker client error", "error", err)
}

// handlePublish converts a received publish into a dispatch message and
// hands it to the installed handler.
func (c *Client) handlePublish(pr paho.PublishReceived) (bool, error) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		c.logger.Warn("publish received with no handler installed", "topic", pr.Packet.Topic)
		return true, nil
	}

	msg := dispatch.Message{
		Topic:      pr.Packet.Topic,
		Payload:    pr.Packet.Payload,
		QoS:        subscription.QoS(pr.Packet.QoS),
		ReceivedAt: time.Now().UTC(),
	}
	if pr.Packet.Properties != nil {
		msg.ContentType = pr.Packet.Properties.ContentType
	}

	handler(msg)
	return true, nil
}
