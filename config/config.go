// Package config provides the typed application configuration. All values
// are validated at construction so malformed QoS levels or execution
// modes fail fast with ErrInvalidConfig instead of producing silent
// misrouting at dispatch time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/pkg/tlsutil"
	"github.com/legout/flowerpower-mqtt/subscription"
)

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker         string        `yaml:"broker" json:"broker"`
	Port           int           `yaml:"port" json:"port"`
	ClientID       string        `yaml:"client_id" json:"client_id"`
	Username       string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password       string        `yaml:"password,omitempty" json:"password,omitempty"`
	KeepAlive      time.Duration `yaml:"keepalive" json:"keepalive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	TLS            TLSConfig     `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSConfig enables a secure broker connection. When enabled the broker
// URL switches to the ssl scheme.
type TLSConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	tlsutil.ClientConfig `yaml:",inline"`
}

// URL returns the broker URL, tcp://host:port or ssl://host:port
// depending on the TLS setting.
func (c MQTTConfig) URL() string {
	scheme := "tcp"
	if c.TLS.Enabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, c.Port)
}

// JobQueueConfig holds background queue settings. Type is "none", "memory"
// or "nats".
type JobQueueConfig struct {
	Type     string        `yaml:"type" json:"type"`
	URL      string        `yaml:"url,omitempty" json:"url,omitempty"`
	Stream   string        `yaml:"stream,omitempty" json:"stream,omitempty"`
	Capacity int           `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	Workers  int           `yaml:"workers,omitempty" json:"workers,omitempty"`
	MaxAge   time.Duration `yaml:"max_age,omitempty" json:"max_age,omitempty"`
}

// Enabled reports whether a background queue is configured
func (c JobQueueConfig) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

// DispatchConfig bounds the dispatch path
type DispatchConfig struct {
	// SyncWorkers caps how many messages are dispatched concurrently;
	// a slow synchronous pipeline occupies one lane for its duration.
	SyncWorkers int `yaml:"sync_workers" json:"sync_workers"`
	// QueueSize is the inbound message buffer between the transport
	// and the dispatch lanes.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// RateLimit caps inbound messages per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
}

// SubscriptionConfig is one configured topic subscription. These four
// fields are the only inputs that alter dispatch behavior.
type SubscriptionConfig struct {
	Topic         string `yaml:"topic" json:"topic"`
	Pipeline      string `yaml:"pipeline" json:"pipeline"`
	QoS           int    `yaml:"qos" json:"qos"`
	ExecutionMode string `yaml:"execution_mode" json:"execution_mode"`
}

// Parse validates the entry and returns the typed QoS and execution mode.
func (s SubscriptionConfig) Parse() (subscription.QoS, subscription.ExecutionMode, error) {
	qos, err := subscription.ParseQoS(s.QoS)
	if err != nil {
		return 0, 0, err
	}

	modeStr := s.ExecutionMode
	if modeStr == "" {
		modeStr = "sync"
	}
	mode, err := subscription.ParseMode(modeStr)
	if err != nil {
		return 0, 0, err
	}
	return qos, mode, nil
}

// Config is the complete application configuration
type Config struct {
	MQTT          MQTTConfig           `yaml:"mqtt" json:"mqtt"`
	JobQueue      JobQueueConfig       `yaml:"job_queue" json:"job_queue"`
	Dispatch      DispatchConfig       `yaml:"dispatch" json:"dispatch"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`
}

// Default returns a configuration with sensible local defaults
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:         "localhost",
			Port:           1883,
			ClientID:       "flowerpower-mqtt",
			KeepAlive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		JobQueue: JobQueueConfig{
			Type:     "none",
			Capacity: 1000,
			Workers:  4,
		},
		Dispatch: DispatchConfig{
			SyncWorkers: 4,
			QueueSize:   256,
		},
	}
}

// Validate checks the full configuration, including every subscription
// entry's topic filter, QoS level and execution mode.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: mqtt.broker is required", errors.ErrMissingConfig),
			"Config", "Validate", "broker validation")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return errors.WrapFatal(
			fmt.Errorf("%w: mqtt.port %d out of range", errors.ErrInvalidConfig, c.MQTT.Port),
			"Config", "Validate", "port validation")
	}

	switch c.JobQueue.Type {
	case "", "none", "memory", "nats":
	default:
		return errors.WrapFatal(
			fmt.Errorf("%w: job_queue.type %q (must be none, memory or nats)", errors.ErrInvalidConfig, c.JobQueue.Type),
			"Config", "Validate", "job queue validation")
	}
	if c.JobQueue.Type == "nats" && c.JobQueue.URL == "" {
		return errors.WrapFatal(
			fmt.Errorf("%w: job_queue.url is required for type nats", errors.ErrMissingConfig),
			"Config", "Validate", "job queue validation")
	}

	if c.Dispatch.SyncWorkers < 0 || c.Dispatch.QueueSize < 0 || c.Dispatch.RateLimit < 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: dispatch bounds cannot be negative", errors.ErrInvalidConfig),
			"Config", "Validate", "dispatch validation")
	}

	for i, sub := range c.Subscriptions {
		if sub.Topic == "" {
			return errors.WrapFatal(
				fmt.Errorf("%w: subscriptions[%d].topic is required", errors.ErrMissingConfig, i),
				"Config", "Validate", "subscription validation")
		}
		if sub.Pipeline == "" {
			return errors.WrapFatal(
				fmt.Errorf("%w: subscriptions[%d].pipeline is required", errors.ErrMissingConfig, i),
				"Config", "Validate", "subscription validation")
		}
		if _, _, err := sub.Parse(); err != nil {
			return errors.WrapFatal(
				fmt.Errorf("%w: subscriptions[%d]: %v", errors.ErrInvalidConfig, i, err),
				"Config", "Validate", "subscription validation")
		}
	}

	return nil
}

// LoadFile reads and validates a YAML configuration file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "LoadFile", "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Config", "LoadFile", "parse YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveFile writes the configuration as YAML
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapFatal(err, "Config", "SaveFile", "marshal YAML")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapFatal(err, "Config", "SaveFile", "write config file")
	}
	return nil
}
