package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock gives tests control over bucket refill time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFakeLimiter() (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewMemoryLimiter()
	m.nowFunc = clock.Now
	return m, clock
}

// --- Unit Tests ---

func TestTryAcquire_UnknownResource(t *testing.T) {
	m := NewMemoryLimiter()
	if m.TryAcquire("nope") {
		t.Error("expected false for unconfigured resource")
	}
}

func TestTryAcquire_DrainsBucket(t *testing.T) {
	m, _ := newFakeLimiter()
	m.SetCapacity("reply.x.u1", 3, time.Hour)

	for i := 0; i < 3; i++ {
		if !m.TryAcquire("reply.x.u1") {
			t.Fatalf("acquire %d failed, bucket starts full", i)
		}
	}
	if m.TryAcquire("reply.x.u1") {
		t.Error("expected false once budget is drained")
	}
}

func TestTryAcquire_RefillsOverTime(t *testing.T) {
	m, clock := newFakeLimiter()
	m.SetCapacity("post.x", 4, time.Hour)

	for i := 0; i < 4; i++ {
		m.TryAcquire("post.x")
	}
	if m.TryAcquire("post.x") {
		t.Fatal("bucket should be empty")
	}

	// A quarter window refills a quarter of capacity.
	clock.Advance(15 * time.Minute)
	if !m.TryAcquire("post.x") {
		t.Error("expected one token after quarter window")
	}
	if m.TryAcquire("post.x") {
		t.Error("expected only one token after quarter window")
	}
}

func TestRefill_CapsAtCapacity(t *testing.T) {
	m, clock := newFakeLimiter()
	m.SetCapacity("post.x", 2, time.Minute)

	clock.Advance(time.Hour)
	info := m.GetCapacity("post.x")
	if info.Available != 2 {
		t.Errorf("available = %d, want capped at 2", info.Available)
	}
}

func TestSetCapacity_ShrinkClampsAvailable(t *testing.T) {
	m, _ := newFakeLimiter()
	m.SetCapacity("r", 10, time.Hour)
	m.SetCapacity("r", 3, time.Hour)

	info := m.GetCapacity("r")
	if info.Available != 3 || info.Total != 3 {
		t.Errorf("available/total = %d/%d, want 3/3", info.Available, info.Total)
	}
}

func TestSetCapacity_ZeroRemoves(t *testing.T) {
	m, _ := newFakeLimiter()
	m.SetCapacity("r", 5, time.Hour)
	m.SetCapacity("r", 0, time.Hour)

	if m.GetCapacity("r") != nil {
		t.Error("expected resource removed")
	}
}

func TestAcquire_UnknownResource(t *testing.T) {
	m := NewMemoryLimiter()
	if err := m.Acquire(context.Background(), "nope"); err != ErrResourceUnknown {
		t.Errorf("Acquire = %v, want ErrResourceUnknown", err)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	m := NewMemoryLimiter()
	m.SetCapacity("r", 1, time.Hour)
	m.TryAcquire("r") // drain

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := m.Acquire(ctx, "r"); err != context.DeadlineExceeded {
		t.Errorf("Acquire = %v, want DeadlineExceeded", err)
	}
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	m := NewMemoryLimiter()
	m.SetCapacity("r", 1, time.Hour)

	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := m.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if m.TryAcquire("r") {
		t.Error("TryAcquire must fail after Close")
	}
	if err := m.Acquire(context.Background(), "r"); err != ErrClosed {
		t.Errorf("Acquire after Close = %v, want ErrClosed", err)
	}
}

// --- Integration Tests ---

func TestAcquire_UnblocksOnRefill(t *testing.T) {
	m := NewMemoryLimiter()
	m.SetCapacity("r", 1, 100*time.Millisecond)
	m.TryAcquire("r") // drain

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Acquire(ctx, "r"); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Acquire took too long to pick up refill")
	}
}

func TestTryAcquire_Concurrent(t *testing.T) {
	m, _ := newFakeLimiter()
	m.SetCapacity("r", 50, time.Hour)

	var wg sync.WaitGroup
	var granted sync.Map
	total := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if m.TryAcquire("r") {
				granted.Store(n, true)
			}
		}(i)
	}
	wg.Wait()

	granted.Range(func(_, _ any) bool {
		total++
		return true
	})
	if total != 50 {
		t.Errorf("granted = %d, want exactly 50", total)
	}
}
