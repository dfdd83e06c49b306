package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vinayprograms/pulsekit/event"
	"github.com/vinayprograms/pulsekit/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("daemon already started")
	ErrNotStarted     = errors.New("daemon not started")
	ErrNilDispatcher  = errors.New("dispatcher is required")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrDuplicateName  = errors.New("name already registered")
)

// healthCheckTimeout bounds each component health probe.
const healthCheckTimeout = 5 * time.Second

// Config configures a Daemon.
type Config struct {
	// Dispatcher receives heartbeat events and is started and stopped
	// alongside the daemon. Required.
	Dispatcher *event.Dispatcher

	// HeartbeatInterval is the supervision tick period.
	// Default: 30 seconds
	HeartbeatInterval time.Duration

	// MaxComponentRestarts caps restart attempts per component. A
	// component at the cap is left in the failed state.
	// Default: 5
	MaxComponentRestarts int

	// RestartCooldown is the pause between stopping a failed component
	// and starting it again.
	// Default: 60 seconds
	RestartCooldown time.Duration

	// Logger for daemon output. Defaults to a new root logger.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Dispatcher == nil {
		return ErrNilDispatcher
	}
	if c.HeartbeatInterval < 0 || c.MaxComponentRestarts < 0 || c.RestartCooldown < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults. The
// Dispatcher must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		MaxComponentRestarts: 5,
		RestartCooldown:      60 * time.Second,
	}
}

// Status is a JSON-ready snapshot of the whole daemon.
type Status struct {
	Running           bool            `json:"running"`
	Health            string          `json:"health"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	UptimeSeconds     float64         `json:"uptime_seconds"`
	HeartbeatsSent    int64           `json:"heartbeats_sent"`
	TasksExecuted     int64           `json:"tasks_executed"`
	ComponentRestarts int64           `json:"component_restarts"`
	Components        []ComponentInfo `json:"components"`
	Tasks             []TaskInfo      `json:"tasks"`
}

// Daemon supervises long-running components and periodic tasks around a
// shared event dispatcher. One heartbeat loop drives everything: health
// checks, restarts, due tasks and the heartbeat event itself.
type Daemon struct {
	dispatcher        *event.Dispatcher
	heartbeatInterval time.Duration
	maxRestarts       int
	restartCooldown   time.Duration
	log               *logging.Logger

	mu         sync.RWMutex
	components []*managed
	tasks      []*Task
	startedAt  *time.Time

	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	sigCh        chan os.Signal

	heartbeats    atomic.Int64
	tasksExecuted atomic.Int64
	restarts      atomic.Int64
}

// New creates a daemon from the given configuration.
func New(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.MaxComponentRestarts == 0 {
		cfg.MaxComponentRestarts = DefaultConfig().MaxComponentRestarts
	}
	if cfg.RestartCooldown == 0 {
		cfg.RestartCooldown = DefaultConfig().RestartCooldown
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	return &Daemon{
		dispatcher:        cfg.Dispatcher,
		heartbeatInterval: cfg.HeartbeatInterval,
		maxRestarts:       cfg.MaxComponentRestarts,
		restartCooldown:   cfg.RestartCooldown,
		log:               log.WithComponent("daemon"),
	}, nil
}

// RegisterComponent adds a component under the daemon's supervision.
// Components start in registration order. Names must be unique.
func (d *Daemon) RegisterComponent(name string, c Component) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.components {
		if m.name == name {
			return fmt.Errorf("component %q: %w", name, ErrDuplicateName)
		}
	}
	d.components = append(d.components, &managed{
		name:   name,
		comp:   c,
		status: StatusStopped,
	})
	return nil
}

// UnregisterComponent removes a component. The component is not stopped;
// callers stop it first if it is running. Returns false if unknown.
func (d *Daemon) UnregisterComponent(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, m := range d.components {
		if m.name == name {
			d.components = append(d.components[:i], d.components[i+1:]...)
			return true
		}
	}
	return false
}

// Schedule registers a periodic task. The task is due immediately; after
// every execution the next run is one interval away. Interval 0 runs the
// task on every heartbeat tick. Names must be unique.
func (d *Daemon) Schedule(name string, fn func(ctx context.Context) error, interval time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.tasks {
		if t.name == name {
			return fmt.Errorf("task %q: %w", name, ErrDuplicateName)
		}
	}
	d.tasks = append(d.tasks, newTask(name, fn, interval))
	d.log.Info("task_scheduled", map[string]any{
		"task":     name,
		"interval": interval.String(),
	})
	return nil
}

// Unschedule removes a task. Returns false if unknown.
func (d *Daemon) Unschedule(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, t := range d.tasks {
		if t.name == name {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Start installs signal handling, starts the dispatcher and starts every
// registered component in order. A component start failure is recorded on
// that component and does not abort the others.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	d.mu.Lock()
	d.startedAt = &now
	d.mu.Unlock()

	d.shutdownCh = make(chan struct{})
	d.shutdownOnce = sync.Once{}
	d.installSignalHandler()

	if err := d.dispatcher.Start(); err != nil && err != event.ErrAlreadyStarted {
		d.running.Store(false)
		d.Shutdown()
		signal.Stop(d.sigCh)
		return err
	}

	d.mu.RLock()
	components := make([]*managed, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	for _, m := range components {
		d.startComponent(ctx, m)
	}

	d.log.Info("daemon_started", map[string]any{
		"components": len(components),
		"interval":   d.heartbeatInterval.String(),
	})
	return nil
}

// installSignalHandler arranges for SIGINT and SIGTERM to trigger a
// graceful shutdown. The handler only signals; teardown happens on the
// Run goroutine.
func (d *Daemon) installSignalHandler() {
	d.sigCh = make(chan os.Signal, 1)
	signal.Notify(d.sigCh, os.Interrupt, syscall.SIGTERM)

	shutdownCh := d.shutdownCh
	go func() {
		select {
		case sig, ok := <-d.sigCh:
			if !ok {
				return
			}
			d.log.Info("signal_received", map[string]any{"signal": sig.String()})
			d.Shutdown()
		case <-shutdownCh:
		}
	}()
}

// Shutdown signals the daemon to stop. Safe to call from any goroutine
// and more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownCh)
	})
}

// Run starts the daemon and blocks in the heartbeat loop until a shutdown
// signal arrives or the context is cancelled, then stops everything. This
// is the main entry point for a long-lived process.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop(context.Background())

	for {
		if err := d.safeTick(ctx); err != nil {
			d.log.Error("heartbeat_loop_error", map[string]any{"error": err.Error()})
			select {
			case <-d.shutdownCh:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		select {
		case <-d.shutdownCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.heartbeatInterval):
		}
	}
}

// Stop stops every component best-effort in reverse registration order,
// then the dispatcher. Idempotent.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.running.Swap(false) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.Shutdown()
	signal.Stop(d.sigCh)

	d.mu.RLock()
	components := make([]*managed, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	for i := len(components) - 1; i >= 0; i-- {
		d.stopComponent(ctx, components[i])
	}

	if err := d.dispatcher.Stop(); err != nil && err != event.ErrNotStarted {
		d.log.Error("dispatcher_stop_failed", map[string]any{"error": err.Error()})
	}

	d.log.Info("daemon_stopped")
	return nil
}

// Running reports whether the daemon is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// safeTick shields the heartbeat loop from panics escaping a tick.
func (d *Daemon) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in heartbeat tick: %v", r)
		}
	}()
	d.tick(ctx)
	return nil
}

// tick is one supervision pass: probe running components and restart the
// unhealthy ones, run due tasks, then emit a heartbeat event carrying the
// status snapshot.
func (d *Daemon) tick(ctx context.Context) {
	d.checkComponents(ctx)
	d.runDueTasks(ctx)

	n := d.heartbeats.Add(1)
	status := d.Status()

	hb := event.New(event.TypeHeartbeat,
		event.WithPriority(event.PriorityLow),
		event.WithSource("daemon"),
		event.WithContent(fmt.Sprintf("heartbeat %d", n)),
		event.WithMetadata("health", status.Health),
		event.WithMetadata("uptime_seconds", status.UptimeSeconds),
		event.WithMetadata("components", len(status.Components)),
		event.WithMetadata("tasks_executed", status.TasksExecuted),
	)
	if err := d.dispatcher.Emit(hb); err != nil {
		d.log.Warn("heartbeat_emit_failed", map[string]any{"error": err.Error()})
	}
	d.log.HeartbeatSent(n, status.Health)
}

// checkComponents health-checks every running component and attempts one
// restart for each unhealthy one.
func (d *Daemon) checkComponents(ctx context.Context) {
	d.mu.RLock()
	components := make([]*managed, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	for _, m := range components {
		d.mu.RLock()
		running := m.status == StatusRunning
		d.mu.RUnlock()
		if !running {
			continue
		}

		if d.probe(ctx, m) {
			continue
		}

		d.log.Warn("component_unhealthy", map[string]any{"component": m.name})
		d.restartComponent(ctx, m)
	}
}

// probe runs the component's health check under a timeout. Components
// without a HealthReporter are presumed healthy.
func (d *Daemon) probe(ctx context.Context, m *managed) (healthy bool) {
	reporter, ok := m.comp.(HealthReporter)
	if !ok {
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("health_check_panic", map[string]any{
				"component": m.name,
				"panic":     fmt.Sprint(r),
			})
			healthy = false
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return reporter.Healthy(probeCtx)
}

// runDueTasks executes every due task sequentially, fault-isolated, and
// reschedules each one regardless of outcome.
func (d *Daemon) runDueTasks(ctx context.Context) {
	now := time.Now().UTC()

	d.mu.RLock()
	due := make([]*Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		if t.due(now) {
			due = append(due, t)
		}
	}
	d.mu.RUnlock()

	for _, t := range due {
		started := time.Now()
		err := d.runTask(ctx, t)
		d.tasksExecuted.Add(1)

		d.mu.Lock()
		t.reschedule(time.Now().UTC(), err != nil)
		d.mu.Unlock()

		if err != nil {
			d.log.TaskFailed(t.name, err)
			continue
		}
		d.log.TaskRan(t.name, time.Since(started))
	}
}

// runTask runs one task function, converting panics to errors.
func (d *Daemon) runTask(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn(ctx)
}

// startComponent starts one component, recording success or failure on
// its supervision state.
func (d *Daemon) startComponent(ctx context.Context, m *managed) {
	d.mu.Lock()
	m.status = StatusStarting
	d.mu.Unlock()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("start panicked: %v", r)
			}
		}()
		return m.comp.Start(ctx)
	}()

	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		m.status = StatusFailed
		m.lastError = err.Error()
		m.consecutiveFailures++
		d.log.Error("component_start_failed", map[string]any{
			"component": m.name,
			"error":     err.Error(),
		})
		return
	}

	m.status = StatusRunning
	m.startedAt = &now
	m.stoppedAt = nil
	m.consecutiveFailures = 0
	d.log.ComponentStarted(m.name)
}

// stopComponent stops one component best-effort. Stop errors are recorded
// on the component, never raised.
func (d *Daemon) stopComponent(ctx context.Context, m *managed) {
	d.mu.Lock()
	if m.status != StatusRunning && m.status != StatusRestarting {
		d.mu.Unlock()
		return
	}
	m.status = StatusStopping
	d.mu.Unlock()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stop panicked: %v", r)
			}
		}()
		return m.comp.Stop(ctx)
	}()

	now := time.Now().UTC()
	d.mu.Lock()
	defer d.mu.Unlock()

	m.status = StatusStopped
	m.stoppedAt = &now
	if err != nil {
		m.lastError = err.Error()
		d.log.Error("component_stop_failed", map[string]any{
			"component": m.name,
			"error":     err.Error(),
		})
		return
	}
	d.log.ComponentStopped(m.name)
}

// restartComponent attempts one stop-wait-start cycle for an unhealthy
// component. A component at the restart cap is left failed.
func (d *Daemon) restartComponent(ctx context.Context, m *managed) {
	d.mu.Lock()
	if m.restarts >= d.maxRestarts {
		m.status = StatusStopping
		d.mu.Unlock()

		// Take the component down before declaring it failed, so a failed
		// component never holds live resources.
		func() {
			defer func() { recover() }()
			m.comp.Stop(ctx)
		}()

		now := time.Now().UTC()
		d.mu.Lock()
		m.status = StatusFailed
		m.stoppedAt = &now
		m.lastError = fmt.Sprintf("restart limit reached (%d)", d.maxRestarts)
		d.mu.Unlock()
		d.log.Error("component_restarts_exhausted", map[string]any{
			"component": m.name,
			"restarts":  d.maxRestarts,
		})
		return
	}
	m.status = StatusRestarting
	m.restarts++
	m.consecutiveFailures++
	attempt := m.restarts
	d.mu.Unlock()

	d.restarts.Add(1)
	d.log.ComponentRestarting(m.name, attempt)

	func() {
		defer func() { recover() }()
		m.comp.Stop(ctx)
	}()

	select {
	case <-d.shutdownCh:
		return
	case <-ctx.Done():
		return
	case <-time.After(d.restartCooldown):
	}

	d.startComponent(ctx, m)
}

// Health aggregates component states into a single daemon health value.
func (d *Daemon) Health() HealthStatus {
	if !d.running.Load() {
		return HealthUnknown
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.components) == 0 {
		return HealthHealthy
	}

	allRunning := true
	for _, m := range d.components {
		switch m.status {
		case StatusFailed, StatusStopped:
			return HealthUnhealthy
		case StatusRunning:
		default:
			allRunning = false
		}
	}
	if allRunning {
		return HealthHealthy
	}
	return HealthDegraded
}

// Status returns a full snapshot of the daemon, its components and tasks.
func (d *Daemon) Status() Status {
	health := d.Health()
	now := time.Now().UTC()

	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Status{
		Running:           d.running.Load(),
		Health:            health.String(),
		StartedAt:         d.startedAt,
		HeartbeatsSent:    d.heartbeats.Load(),
		TasksExecuted:     d.tasksExecuted.Load(),
		ComponentRestarts: d.restarts.Load(),
		Components:        make([]ComponentInfo, 0, len(d.components)),
		Tasks:             make([]TaskInfo, 0, len(d.tasks)),
	}
	if d.running.Load() && d.startedAt != nil {
		s.UptimeSeconds = now.Sub(*d.startedAt).Seconds()
	}
	for _, m := range d.components {
		s.Components = append(s.Components, m.info(now))
	}
	for _, t := range d.tasks {
		s.Tasks = append(s.Tasks, t.info())
	}
	return s
}
