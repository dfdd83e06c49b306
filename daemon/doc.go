// Package daemon keeps the agent alive: it supervises long-running
// components, runs periodic tasks and emits heartbeat events through the
// shared dispatcher.
//
// # Overview
//
// A Daemon owns one event.Dispatcher and any number of Components (stream
// listeners, webhook servers) and Tasks (periodic jobs). A single
// heartbeat loop drives supervision: each tick it health-checks running
// components, restarts unhealthy ones with a cooldown and a per-component
// restart cap, runs due tasks fault-isolated, and emits a low-priority
// heartbeat event carrying the status snapshot.
//
// # Usage
//
//	d, _ := daemon.New(daemon.Config{Dispatcher: dispatcher})
//	d.RegisterComponent("stream", listener)
//	d.Schedule("engagement_check", checkEngagement, 5*time.Minute)
//	d.Run(ctx) // blocks until SIGINT/SIGTERM or ctx cancellation
//
// Run installs SIGINT/SIGTERM handlers that only signal shutdown; all
// teardown happens on the Run goroutine, so components are stopped in
// reverse registration order exactly once.
//
// # Failure policy
//
// Component start failures, stop failures, task errors and task panics
// are recorded and logged but never propagate: one bad component or task
// must not take the daemon down. The only terminal state is a component
// exhausting its restart budget, which leaves it failed and the daemon
// unhealthy until an operator intervenes.
package daemon
