// Package event provides the priority-ordered event bus at the heart of the
// agent runtime.
//
// # Overview
//
// External producers (webhook ingress, stream listeners, the heartbeat
// daemon) construct Events and hand them to a Dispatcher. The dispatcher
// routes each event to every handler registered for its type, in
// registration order, with per-handler timeout protection and a bounded
// in-memory history for debugging.
//
// # Two entry points
//
// Emit queues an event; a background loop drains the queue strictly by
// priority (Critical before High before Normal before Low), FIFO among
// equals:
//
//	d.Emit(event.New(event.TypeMention,
//	    event.WithPriority(event.PriorityHigh),
//	    event.WithUser("123", "fan"),
//	    event.WithContent("@artist this track is fire")))
//
// Dispatch processes synchronously in the caller's context, bypassing the
// queue. Use it only when ordering relative to the caller matters
// (startup, shutdown):
//
//	result := d.Dispatch(ctx, event.New(event.TypeShutdown))
//
// # Failure isolation
//
// A handler that returns an error, panics, or exceeds the handler timeout
// marks its contribution failed on the event and nothing else: sibling
// handlers still run, the loop keeps consuming, and the failure is visible
// in Stats and the event's Error field.
package event
