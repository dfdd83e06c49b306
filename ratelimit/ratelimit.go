package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrResourceUnknown = errors.New("unknown resource")
)

// Limiter coordinates rate limits for platform API budgets. Resources are
// free-form keys; the responder uses "reply.<platform>.<user_id>" and
// posting paths use "post.<platform>".
type Limiter interface {
	// Acquire blocks until a token is available for the resource.
	// Returns the context error if the context ends first, and
	// ErrResourceUnknown if the resource has no configured capacity.
	Acquire(ctx context.Context, resource string) error

	// TryAcquire attempts to acquire a token without blocking.
	TryAcquire(resource string) bool

	// SetCapacity configures the budget for a resource: capacity tokens
	// refilling continuously over the window. Capacity or window <= 0
	// removes the resource.
	SetCapacity(resource string, capacity int, window time.Duration)

	// GetCapacity returns current capacity info, or nil if the resource
	// is unknown.
	GetCapacity(resource string) *Capacity

	// Close shuts down the limiter and wakes all blocked acquirers.
	Close() error
}

// Capacity describes the budget state for one resource.
type Capacity struct {
	Resource  string        `json:"resource"`
	Available int           `json:"available"`
	Total     int           `json:"total"`
	Window    time.Duration `json:"window"`
}
