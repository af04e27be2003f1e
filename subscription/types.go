package subscription

import (
	"fmt"
	"time"

	"github.com/legout/flowerpower-mqtt/errors"
)

// QoS is an MQTT quality-of-service level.
type QoS byte

// Valid QoS levels
const (
	// QoSAtMostOnce delivers at most once (fire and forget)
	QoSAtMostOnce QoS = 0
	// QoSAtLeastOnce delivers at least once (duplicates possible)
	QoSAtLeastOnce QoS = 1
	// QoSExactlyOnce delivers exactly once
	QoSExactlyOnce QoS = 2
)

// ParseQoS validates an integer QoS level
func ParseQoS(level int) (QoS, error) {
	if level < 0 || level > 2 {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %d (must be 0, 1 or 2)", errors.ErrInvalidQoS, level),
			"QoS", "ParseQoS", "level validation")
	}
	return QoS(level), nil
}

// ExecutionMode controls how a matched message's pipeline is executed.
type ExecutionMode int

const (
	// ModeSync always executes the pipeline inline, blocking the
	// dispatch path until it completes or fails.
	ModeSync ExecutionMode = iota
	// ModeAsync always hands the pipeline to the background job queue.
	ModeAsync
	// ModeMixed resolves per message: QoS 2 deliveries execute inline
	// (process before acking), QoS 0/1 go to the background queue.
	ModeMixed
)

// String returns the string representation of ExecutionMode
func (m ExecutionMode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	case ModeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ParseMode parses an execution mode string ("sync", "async", "mixed")
func ParseMode(s string) (ExecutionMode, error) {
	switch s {
	case "sync":
		return ModeSync, nil
	case "async":
		return ModeAsync, nil
	case "mixed":
		return ModeMixed, nil
	default:
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %q (must be sync, async or mixed)", errors.ErrInvalidMode, s),
			"ExecutionMode", "ParseMode", "mode validation")
	}
}

// Snapshot is a point-in-time read-only copy of a subscription's state.
// Snapshots are safe to hand to callers; they never alias the registry's
// mutable internals.
type Snapshot struct {
	Topic         string        `json:"topic"`
	Pipeline      string        `json:"pipeline"`
	QoS           QoS           `json:"qos"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	MessageCount  int64         `json:"message_count"`
	ErrorCount    int64         `json:"error_count"`
	CreatedAt     time.Time     `json:"created_at"`
}
