// Package dispatch implements the subscription-routing and
// execution-dispatch core: it receives inbound broker messages, matches
// them against registered topic filters, resolves synchronous versus
// background execution per message, invokes the pipeline engine or job
// queue exactly once per delivered message, and folds every outcome into
// the statistics aggregator.
package dispatch

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/legout/flowerpower-mqtt/pipeline"
	"github.com/legout/flowerpower-mqtt/subscription"
)

// Message is an inbound broker message. Messages are transient: built by
// the transport, consumed once by the router, never persisted.
type Message struct {
	Topic       string
	Payload     []byte
	QoS         subscription.QoS
	ContentType string // optional hint from the broker, e.g. "application/json"
	ReceivedAt  time.Time
}

// ResolvedMode is the execution mode resolved for one dispatch.
type ResolvedMode int

const (
	// ResolvedImmediate runs the pipeline inline, blocking the dispatch
	// path until it returns or fails.
	ResolvedImmediate ResolvedMode = iota
	// ResolvedBackground hands the pipeline to the job queue and
	// returns once the queue accepts it.
	ResolvedBackground
)

// String returns the string representation of ResolvedMode
func (m ResolvedMode) String() string {
	switch m {
	case ResolvedImmediate:
		return "immediate"
	case ResolvedBackground:
		return "background"
	default:
		return "unknown"
	}
}

// ResolveMode resolves the effective execution mode for one dispatch.
// Sync and async subscriptions always resolve to immediate and background
// respectively. Mixed resolves per message: QoS 2 deliveries are critical
// and run immediately so they complete before the message is acked; QoS
// 0/1 go to the background queue.
func ResolveMode(mode subscription.ExecutionMode, qos subscription.QoS) ResolvedMode {
	switch mode {
	case subscription.ModeSync:
		return ResolvedImmediate
	case subscription.ModeAsync:
		return ResolvedBackground
	default: // ModeMixed
		if qos == subscription.QoSExactlyOnce {
			return ResolvedImmediate
		}
		return ResolvedBackground
	}
}

// ErrorKind classifies a dispatch failure for outcomes and statistics.
type ErrorKind string

// Dispatch failure kinds
const (
	KindNone                    ErrorKind = ""
	KindPipelineNotFound        ErrorKind = "pipeline_not_found"
	KindPipelineExecutionFailed ErrorKind = "pipeline_execution_failed"
	KindQueueUnavailable        ErrorKind = "queue_unavailable"
)

// Outcome describes one dispatch of one matched subscription. Outcomes
// are returned in match (registration) order.
type Outcome struct {
	SubscriptionTopic string        `json:"subscription_topic"`
	Pipeline          string        `json:"pipeline"`
	ResolvedMode      ResolvedMode  `json:"resolved_mode"`
	Success           bool          `json:"success"`
	ErrorKind         ErrorKind     `json:"error_kind,omitempty"`
	Err               error         `json:"-"`
	Duration          time.Duration `json:"duration"`
	JobID             string        `json:"job_id,omitempty"` // set for accepted background jobs
}

// buildInputs assembles the pipeline inputs for one dispatch. The payload
// is decoded when the content-type hints JSON; otherwise the raw bytes are
// passed through.
func buildInputs(msg Message) pipeline.Inputs {
	var payload any = msg.Payload
	if strings.Contains(strings.ToLower(msg.ContentType), "json") {
		var decoded any
		if err := json.Unmarshal(msg.Payload, &decoded); err == nil {
			payload = decoded
		}
	}

	return pipeline.Inputs{
		"payload":   payload,
		"topic":     msg.Topic,
		"qos":       int(msg.QoS),
		"timestamp": time.Now().UTC(),
	}
}
