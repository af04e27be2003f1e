// Package health tracks the health of the plugin's moving parts: the
// broker session, the dispatch listener and the job queue. Statuses
// aggregate hierarchically so one unhealthy component marks the whole
// system unhealthy.
package health

import (
	"time"
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters for a component
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int64         `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// Aggregate combines component statuses into a system status. Any
// unhealthy component makes the system unhealthy; any degraded component
// with no unhealthy ones makes it degraded.
func Aggregate(systemName string, statuses []Status) Status {
	result := NewHealthy(systemName, "all components healthy")
	result.SubStatuses = statuses

	degraded := 0
	unhealthy := 0
	for _, status := range statuses {
		switch {
		case status.IsUnhealthy():
			unhealthy++
		case status.IsDegraded():
			degraded++
		}
	}

	switch {
	case unhealthy > 0:
		result.Healthy = false
		result.Status = "unhealthy"
		result.Message = "one or more components unhealthy"
	case degraded > 0:
		result.Healthy = false
		result.Status = "degraded"
		result.Message = "one or more components degraded"
	}

	return result
}
