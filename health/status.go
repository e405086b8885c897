// Package health aggregates per-component liveness probes into a single
// status served over the observability listener.
package health

import "time"

// Component states. Degraded means the component still makes progress but
// is retrying or shedding; unhealthy means it stopped making progress.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is one component's health at a point in time.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// Healthy builds a healthy status for the component.
func Healthy(component string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Timestamp: time.Now().UTC(),
	}
}

// Degraded builds a degraded status with an explanatory message.
func Degraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Unhealthy builds an unhealthy status with an explanatory message.
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }
