// Package subscription owns the mapping from MQTT topic filters to
// pipeline subscriptions. The Registry supports concurrent add, remove
// and lookup; per-subscription counters are independent atomics so a
// structural mutation never stalls high-frequency counter updates.
package subscription

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/topic"
)

// Subscription binds a compiled topic filter to a pipeline. Instances are
// owned exclusively by the Registry; counters are mutated through registry
// operations during dispatch.
type Subscription struct {
	filter   topic.Filter
	rawTopic string
	pipeline string
	qos      QoS
	mode     ExecutionMode
	created  time.Time

	messageCount atomic.Int64
	errorCount   atomic.Int64
}

// Topic returns the raw topic filter string (the registry key).
func (s *Subscription) Topic() string { return s.rawTopic }

// Pipeline returns the pipeline name executed for matched messages.
func (s *Subscription) Pipeline() string { return s.pipeline }

// QoS returns the subscribe-time QoS level.
func (s *Subscription) QoS() QoS { return s.qos }

// Mode returns the configured execution mode.
func (s *Subscription) Mode() ExecutionMode { return s.mode }

// Filter returns the compiled topic filter.
func (s *Subscription) Filter() topic.Filter { return s.filter }

// MessageCount returns the number of successfully dispatched messages.
func (s *Subscription) MessageCount() int64 { return s.messageCount.Load() }

// ErrorCount returns the number of failed dispatches.
func (s *Subscription) ErrorCount() int64 { return s.errorCount.Load() }

// Snapshot returns a read-only copy of the subscription state.
func (s *Subscription) Snapshot() Snapshot {
	return Snapshot{
		Topic:         s.rawTopic,
		Pipeline:      s.pipeline,
		QoS:           s.qos,
		ExecutionMode: s.mode,
		MessageCount:  s.messageCount.Load(),
		ErrorCount:    s.errorCount.Load(),
		CreatedAt:     s.created,
	}
}

// Registry is the thread-safe store of active subscriptions. Structural
// reads take the read lock, structural writes the write lock; counter
// increments only take the read lock plus an atomic add.
type Registry struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription
	order []string // raw topics in registration order
}

// NewRegistry creates an empty subscription registry
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string]*Subscription),
	}
}

// Add compiles the topic filter and inserts the subscription, replacing
// any prior entry with the same raw topic. A replaced entry keeps its
// original registration slot but its counters start from zero. Returns
// ErrInvalidFilter (via topic.Compile), ErrInvalidQoS or ErrInvalidMode
// on malformed input.
func (r *Registry) Add(rawTopic, pipeline string, qos QoS, mode ExecutionMode) (*Subscription, error) {
	filter, err := topic.Compile(rawTopic)
	if err != nil {
		return nil, err
	}
	if qos > QoSExactlyOnce {
		return nil, errors.WrapInvalid(errors.ErrInvalidQoS, "Registry", "Add", "qos validation")
	}
	if mode != ModeSync && mode != ModeAsync && mode != ModeMixed {
		return nil, errors.WrapInvalid(errors.ErrInvalidMode, "Registry", "Add", "mode validation")
	}

	sub := &Subscription{
		filter:   filter,
		rawTopic: rawTopic,
		pipeline: pipeline,
		qos:      qos,
		mode:     mode,
		created:  time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, replaced := r.subs[rawTopic]; !replaced {
		r.order = append(r.order, rawTopic)
	}
	r.subs[rawTopic] = sub

	return sub, nil
}

// Remove deletes the subscription for rawTopic. Returns true if an entry
// was present and removed; an absent topic is not an error.
func (r *Registry) Remove(rawTopic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[rawTopic]; !ok {
		return false
	}
	delete(r.subs, rawTopic)

	for i, t := range r.order {
		if t == rawTopic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the subscription for rawTopic, or nil when absent.
func (r *Registry) Get(rawTopic string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[rawTopic]
}

// FindMatches returns every subscription whose filter matches topicName,
// in registration order. The order is stable so that when two filters
// match one topic, the earlier-registered subscription's pipeline fires
// first under synchronous execution.
func (r *Registry) FindMatches(topicName string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Subscription
	for _, raw := range r.order {
		sub := r.subs[raw]
		if sub != nil && sub.filter.Matches(topicName) {
			matches = append(matches, sub)
		}
	}
	return matches
}

// List returns read-only snapshots of all subscriptions in registration order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.order))
	for _, raw := range r.order {
		if sub := r.subs[raw]; sub != nil {
			snapshots = append(snapshots, sub.Snapshot())
		}
	}
	return snapshots
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// IncrementMessage bumps the message counter for rawTopic. A no-op when
// the subscription was concurrently removed.
func (r *Registry) IncrementMessage(rawTopic string) {
	r.mu.RLock()
	sub := r.subs[rawTopic]
	r.mu.RUnlock()

	if sub != nil {
		sub.messageCount.Add(1)
	}
}

// IncrementError bumps the error counter for rawTopic. A no-op when the
// subscription was concurrently removed.
func (r *Registry) IncrementError(rawTopic string) {
	r.mu.RLock()
	sub := r.subs[rawTopic]
	r.mu.RUnlock()

	if sub != nil {
		sub.errorCount.Add(1)
	}
}
