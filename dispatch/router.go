package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/stats"
	"github.com/legout/flowerpower-mqtt/subscription"
)

// Router is the central dispatch algorithm. It is safe to invoke
// concurrently for distinct messages; all shared state lives in the
// registry and the aggregator, both of which carry their own concurrency
// discipline.
type Router struct {
	registry *subscription.Registry
	adapter  *Adapter
	stats    *stats.Aggregator
	logger   *slog.Logger
}

// NewRouter creates a dispatch router. stats may be nil when no
// aggregation is wanted (tests exercising only the routing algorithm).
func NewRouter(registry *subscription.Registry, adapter *Adapter, aggregator *stats.Aggregator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		adapter:  adapter,
		stats:    aggregator,
		logger:   logger,
	}
}

// Dispatch routes one inbound message. It returns one outcome per matched
// subscription, in registration order. A message matching nothing returns
// an empty outcome list and records no statistics: topics may arrive for
// filters removed mid-flight because the broker races unsubscribe against
// in-flight delivery.
//
// A downstream pipeline failure never aborts sibling dispatches for the
// same message and is never returned as Dispatch's error; it is captured
// in the outcome and in statistics. The only error Dispatch itself
// returns is ErrInvalidMessage for malformed input.
func (r *Router) Dispatch(ctx context.Context, msg Message) ([]Outcome, error) {
	if msg.Topic == "" {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidMessage, "Router", "Dispatch", "empty topic")
	}

	matches := r.registry.FindMatches(msg.Topic)
	if len(matches) == 0 {
		return []Outcome{}, nil
	}

	if r.stats != nil {
		r.stats.RecordMessage()
	}

	outcomes := make([]Outcome, 0, len(matches))
	for _, sub := range matches {
		outcomes = append(outcomes, r.dispatchOne(ctx, msg, sub))
	}
	return outcomes, nil
}

// dispatchOne runs a single matched subscription and folds the result
// into counters.
func (r *Router) dispatchOne(ctx context.Context, msg Message, sub *subscription.Subscription) Outcome {
	mode := ResolveMode(sub.Mode(), msg.QoS)
	inputs := buildInputs(msg)

	start := time.Now()
	result, err := r.adapter.Run(ctx, sub.Pipeline(), inputs, mode)
	duration := time.Since(start)

	outcome := Outcome{
		SubscriptionTopic: sub.Topic(),
		Pipeline:          sub.Pipeline(),
		ResolvedMode:      mode,
		Duration:          duration,
	}

	if err != nil {
		outcome.Err = err
		outcome.ErrorKind = classifyError(err)
		r.registry.IncrementError(sub.Topic())
		if r.stats != nil {
			r.stats.RecordError(sub.Pipeline(), string(outcome.ErrorKind))
		}
		r.logger.Warn("dispatch failed",
			"topic", msg.Topic,
			"subscription", sub.Topic(),
			"pipeline", sub.Pipeline(),
			"mode", mode.String(),
			"error", err)
		return outcome
	}

	outcome.Success = true
	outcome.JobID = result.Job.ID
	r.registry.IncrementMessage(sub.Topic())
	if r.stats != nil {
		r.stats.RecordPipeline(sub.Pipeline(), mode.String(), duration)
		if mode == ResolvedBackground {
			r.stats.RecordJobEnqueued()
		}
	}

	r.logger.Debug("dispatch complete",
		"topic", msg.Topic,
		"subscription", sub.Topic(),
		"pipeline", sub.Pipeline(),
		"mode", mode.String(),
		"duration", duration)
	return outcome
}
