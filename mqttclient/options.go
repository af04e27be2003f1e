package mqttclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/legout/flowerpower-mqtt/metric"
)

// Option configures a Client
type Option func(*Client) error

// WithClientID sets a fixed MQTT client identifier instead of the
// generated one.
func WithClientID(id string) Option {
	return func(c *Client) error {
		if id == "" {
			return fmt.Errorf("client ID cannot be empty")
		}
		c.clientID = id
		return nil
	}
}

// WithCredentials sets username/password authentication
func WithCredentials(username, password string) Option {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithKeepAlive sets the MQTT keepalive interval
func WithKeepAlive(interval time.Duration) Option {
	return func(c *Client) error {
		if interval < time.Second {
			return fmt.Errorf("keepalive %v below 1s minimum", interval)
		}
		c.keepAlive = interval
		return nil
	}
}

// WithConnectTimeout bounds the initial connection attempt
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("connect timeout must be positive")
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTLS sets the TLS configuration for ssl:// broker URLs
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithMetrics wires broker connectivity and reconnect counters
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}
