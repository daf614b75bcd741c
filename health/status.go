package health

// Health status constants represent the operational state of a dependency.
const (
	// StatusHealthy indicates the dependency is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the dependency is usable but experiencing issues.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the dependency is not usable.
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of one dependency or of a combined set.
type Status struct {
	// Name identifies the check, e.g. "graph" or "data_dir".
	Name string `json:"name,omitempty"`

	// Status is the current health state (healthy, degraded, or unhealthy).
	Status string `json:"status"`

	// Message provides a human-readable description of the health status.
	Message string `json:"message,omitempty"`

	// Details contains additional diagnostic information.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (h Status) IsHealthy() bool {
	return h.Status == StatusHealthy
}

// IsDegraded returns true if the status is StatusDegraded.
func (h Status) IsDegraded() bool {
	return h.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (h Status) IsUnhealthy() bool {
	return h.Status == StatusUnhealthy
}

// Healthy creates a healthy status.
func Healthy(name, message string) Status {
	return Status{Name: name, Status: StatusHealthy, Message: message}
}

// Degraded creates a degraded status with optional details.
func Degraded(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusDegraded, Message: message, Details: details}
}

// Unhealthy creates an unhealthy status with optional details.
func Unhealthy(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusUnhealthy, Message: message, Details: details}
}
