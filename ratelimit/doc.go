// Package ratelimit provides token bucket budgets for platform API usage.
//
// # Overview
//
// Social platforms throttle hard and ban repeat offenders, so every
// outbound action (replies, posts, DMs) draws from a configured budget.
// Buckets refill continuously at capacity/window, which smooths bursts
// instead of resetting at window edges.
//
// # Usage
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("reply.x."+userID, 3, time.Hour)
//
//	if !limiter.TryAcquire("reply.x." + userID) {
//	    return "rate_limited", nil
//	}
//
// Use TryAcquire on event-handling paths where waiting would hold up the
// dispatch loop; Acquire is for callers that can afford to block.
package ratelimit
