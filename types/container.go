package types

import "time"

// Container is one running or previously running preview instance of a project.
type Container struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Handle    string          `json:"handle"`  // Docker container id or host instance handle
	Backend   Backend         `json:"backend"` // Which launcher owns Handle
	Status    ContainerStatus `json:"status"`
	Port      int             `json:"port"` // Allocated host port
	URL       string          `json:"url"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	StoppedAt *time.Time      `json:"stopped_at,omitempty"`
	Logs      string          `json:"logs"` // Last captured log snapshot or failure message
	CreatedAt time.Time       `json:"created_at"`
}

// Active reports whether the container counts as the project's routable instance.
func (c *Container) Active() bool {
	return c.Status != ContainerStopped
}

// Health is a point-in-time health reading for an instance.
type Health struct {
	Status  string `json:"status"` // healthy, unhealthy, starting, unknown
	Running bool   `json:"running"`
	Detail  string `json:"detail,omitempty"`
}

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthStarting  = "starting"
	HealthUnknown   = "unknown"
)

// UnknownHealth is returned when the handle is stale or the runtime is unreachable.
func UnknownHealth(detail string) Health {
	return Health{Status: HealthUnknown, Detail: detail}
}

// Stats is a resource usage snapshot. Available is false when the runtime
// could not report anything.
type Stats struct {
	Available   bool    `json:"available"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryUsage uint64  `json:"memory_usage"`
	MemoryLimit uint64  `json:"memory_limit"`
}
