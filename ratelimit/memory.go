package ratelimit

import (
	"context"
	"sync"
	"time"
)

// acquirePollInterval bounds how long a blocked Acquire waits between
// refill checks.
const acquirePollInterval = 50 * time.Millisecond

// bucket is one token bucket with continuous refill.
type bucket struct {
	capacity   int
	available  int
	window     time.Duration
	lastRefill time.Time
}

// refill adds tokens proportional to elapsed time at rate capacity/window.
func (b *bucket) refill(now time.Time) {
	if b.window <= 0 || b.capacity <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	add := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if add > 0 {
		b.available += add
		if b.available > b.capacity {
			b.available = b.capacity
		}
		b.lastRefill = now
	}
}

// MemoryLimiter is an in-process token bucket Limiter. Safe for concurrent
// use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	nowFunc func() time.Time // for testing
}

// NewMemoryLimiter creates an in-memory limiter with no configured
// resources.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
}

// SetCapacity implements Limiter. New buckets start full.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		delete(m.buckets, resource)
		return
	}

	if b, ok := m.buckets[resource]; ok {
		b.capacity = capacity
		b.window = window
		if b.available > capacity {
			b.available = capacity
		}
		return
	}
	m.buckets[resource] = &bucket{
		capacity:   capacity,
		available:  capacity,
		window:     window,
		lastRefill: m.nowFunc(),
	}
}

// GetCapacity implements Limiter.
func (m *MemoryLimiter) GetCapacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return nil
	}
	b.refill(m.nowFunc())

	return &Capacity{
		Resource:  resource,
		Available: b.available,
		Total:     b.capacity,
		Window:    b.window,
	}
}

// TryAcquire implements Limiter.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	b, ok := m.buckets[resource]
	if !ok {
		return false
	}

	b.refill(m.nowFunc())
	if b.available > 0 {
		b.available--
		return true
	}
	return false
}

// Acquire implements Limiter. It polls for a token so that time-based
// refills are picked up without a dedicated refill goroutine.
func (m *MemoryLimiter) Acquire(ctx context.Context, resource string) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		b, ok := m.buckets[resource]
		if !ok {
			m.mu.Unlock()
			return ErrResourceUnknown
		}
		b.refill(m.nowFunc())
		if b.available > 0 {
			b.available--
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Close implements Limiter.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

// Ensure MemoryLimiter implements Limiter.
var _ Limiter = (*MemoryLimiter)(nil)
