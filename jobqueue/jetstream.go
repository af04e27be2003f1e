package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/pipeline"
	"github.com/legout/flowerpower-mqtt/pkg/retry"
)

const (
	// DefaultStreamName is the JetStream work stream for pipeline jobs
	DefaultStreamName = "FLOWERPOWER_JOBS"
	// jobSubjectPrefix is the subject namespace jobs are published under
	jobSubjectPrefix = "jobs.pipeline"
)

// JetStreamConfig configures the JetStream-backed queue.
type JetStreamConfig struct {
	URL            string        `yaml:"url" json:"url"`
	StreamName     string        `yaml:"stream" json:"stream"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	MaxAge         time.Duration `yaml:"max_age" json:"max_age"`
}

// DefaultJetStreamConfig returns sensible defaults for a local NATS server
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:            nats.DefaultURL,
		StreamName:     DefaultStreamName,
		ConnectTimeout: 5 * time.Second,
		MaxAge:         24 * time.Hour,
	}
}

// JetStreamQueue publishes pipeline jobs to a NATS JetStream work stream.
// Downstream workers consume the stream and run the pipelines; the queue
// itself only guarantees acceptance, matching the fire-and-forget contract.
type JetStreamQueue struct {
	cfg    JetStreamConfig
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewJetStreamQueue creates a queue for the given configuration. Call
// Connect before enqueueing.
func NewJetStreamQueue(cfg JetStreamConfig, logger *slog.Logger) *JetStreamQueue {
	if cfg.StreamName == "" {
		cfg.StreamName = DefaultStreamName
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JetStreamQueue{cfg: cfg, logger: logger}
}

// Connect dials NATS and ensures the work stream exists. The connect is
// retried with backoff; a NATS server that stays unreachable fails with
// ErrQueueUnavailable.
func (q *JetStreamQueue) Connect(ctx context.Context) error {
	var conn *nats.Conn

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		conn, err = nats.Connect(q.cfg.URL,
			nats.Timeout(q.cfg.ConnectTimeout),
			nats.Name("flowerpower-mqtt-jobqueue"),
		)
		return err
	})
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrQueueUnavailable, err),
			"JetStreamQueue", "Connect", "nats connect")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrQueueUnavailable, err),
			"JetStreamQueue", "Connect", "jetstream context")
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      q.cfg.StreamName,
		Subjects:  []string{jobSubjectPrefix + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    q.cfg.MaxAge,
	})
	if err != nil {
		conn.Close()
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrQueueUnavailable, err),
			"JetStreamQueue", "Connect", "work stream creation")
	}

	q.mu.Lock()
	q.conn = conn
	q.js = js
	q.mu.Unlock()

	q.logger.Info("job queue connected",
		"url", q.cfg.URL,
		"stream", q.cfg.StreamName)
	return nil
}

// Enqueue implements Queue. The job is published to
// jobs.pipeline.<sanitized-name> with a synchronous JetStream ack so a
// lost server surfaces immediately as ErrQueueUnavailable.
func (q *JetStreamQueue) Enqueue(ctx context.Context, pipelineName string, inputs pipeline.Inputs) (Job, error) {
	q.mu.RLock()
	js := q.js
	conn := q.conn
	q.mu.RUnlock()

	if js == nil || conn == nil || !conn.IsConnected() {
		return Job{}, errors.WrapTransient(
			errors.ErrQueueUnavailable, "JetStreamQueue", "Enqueue", "connection check")
	}

	job := newJob(pipelineName, inputs)
	data, err := json.Marshal(job)
	if err != nil {
		return Job{}, errors.WrapInvalid(err, "JetStreamQueue", "Enqueue", "job encoding")
	}

	subject := jobSubjectPrefix + "." + subjectToken(pipelineName)
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return Job{}, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrQueueUnavailable, err),
			"JetStreamQueue", "Enqueue", "stream publish")
	}

	return job, nil
}

// Close drains the NATS connection.
func (q *JetStreamQueue) Close() {
	q.mu.Lock()
	conn := q.conn
	q.conn = nil
	q.js = nil
	q.mu.Unlock()

	if conn != nil {
		if err := conn.Drain(); err != nil {
			q.logger.Warn("job queue drain failed", "error", err)
		}
	}
}

// subjectToken maps a pipeline name onto a single NATS subject token.
func subjectToken(name string) string {
	replacer := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_")
	token := replacer.Replace(name)
	if token == "" {
		token = "unnamed"
	}
	return token
}
