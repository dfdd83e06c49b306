package daemon

import (
	"context"
	"time"
)

// HealthStatus describes overall daemon health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// String returns the status name.
func (h HealthStatus) String() string {
	return string(h)
}

// ComponentStatus describes the lifecycle state of a managed component.
type ComponentStatus string

const (
	StatusStopped    ComponentStatus = "stopped"
	StatusStarting   ComponentStatus = "starting"
	StatusRunning    ComponentStatus = "running"
	StatusStopping   ComponentStatus = "stopping"
	StatusFailed     ComponentStatus = "failed"
	StatusRestarting ComponentStatus = "restarting"
)

// String returns the status name.
func (s ComponentStatus) String() string {
	return string(s)
}

// Component is a long-running service managed by the daemon. Start must
// return once the component is running (spawning its own goroutines as
// needed); Stop must be safe to call after a failed Start.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthReporter is optionally implemented by components that can report
// their own health. Components without it are presumed healthy while
// running.
type HealthReporter interface {
	Healthy(ctx context.Context) bool
}

// FuncComponent adapts plain functions to the Component interface.
// A nil StopFn makes Stop a no-op; a nil HealthyFn reports healthy.
type FuncComponent struct {
	StartFn   func(ctx context.Context) error
	StopFn    func(ctx context.Context) error
	HealthyFn func(ctx context.Context) bool
}

// Start implements Component.
func (f *FuncComponent) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

// Stop implements Component.
func (f *FuncComponent) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

// Healthy implements HealthReporter.
func (f *FuncComponent) Healthy(ctx context.Context) bool {
	if f.HealthyFn == nil {
		return true
	}
	return f.HealthyFn(ctx)
}

// managed pairs a Component with its supervision state. All fields after
// the first two are guarded by the daemon mutex.
type managed struct {
	name string
	comp Component

	status              ComponentStatus
	startedAt           *time.Time
	stoppedAt           *time.Time
	restarts            int
	consecutiveFailures int
	lastError           string
}

// ComponentInfo is a point-in-time snapshot of one managed component.
type ComponentInfo struct {
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	StoppedAt           *time.Time `json:"stopped_at,omitempty"`
	Restarts            int        `json:"restarts"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	UptimeSeconds       float64    `json:"uptime_seconds"`
}

// info snapshots the component state. Caller holds the daemon mutex.
func (m *managed) info(now time.Time) ComponentInfo {
	ci := ComponentInfo{
		Name:                m.name,
		Status:              m.status.String(),
		StartedAt:           m.startedAt,
		StoppedAt:           m.stoppedAt,
		Restarts:            m.restarts,
		ConsecutiveFailures: m.consecutiveFailures,
		LastError:           m.lastError,
	}
	if m.status == StatusRunning && m.startedAt != nil {
		ci.UptimeSeconds = now.Sub(*m.startedAt).Seconds()
	}
	return ci
}
