package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed part of a process.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start initializes the component. Long-running work must be moved to
	// a goroutine; Start returns once the component is ready.
	Start(ctx context.Context) error

	// Stop shuts the component down and waits for its goroutines.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}
