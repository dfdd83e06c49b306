package daemon

import (
	"context"
	"time"
)

// Task is a periodic job run by the heartbeat loop. Interval 0 means run
// on every tick. Task failures increment the error counter and never
// disable the task.
type Task struct {
	name     string
	fn       func(ctx context.Context) error
	interval time.Duration

	enabled bool
	lastRun *time.Time
	nextRun *time.Time
	runs    int64
	errors  int64
}

// newTask creates an enabled task that is due immediately.
func newTask(name string, fn func(ctx context.Context) error, interval time.Duration) *Task {
	now := time.Now().UTC()
	return &Task{
		name:     name,
		fn:       fn,
		interval: interval,
		enabled:  true,
		nextRun:  &now,
	}
}

// due reports whether the task should run now. Caller holds the daemon
// mutex.
func (t *Task) due(now time.Time) bool {
	if !t.enabled {
		return false
	}
	return t.nextRun == nil || !now.Before(*t.nextRun)
}

// reschedule records an execution and sets the next run one interval from
// now, regardless of success or failure.
func (t *Task) reschedule(now time.Time, failed bool) {
	last := now
	next := now.Add(t.interval)
	t.lastRun = &last
	t.nextRun = &next
	t.runs++
	if failed {
		t.errors++
	}
}

// TaskInfo is a point-in-time snapshot of one scheduled task.
type TaskInfo struct {
	Name            string     `json:"name"`
	IntervalSeconds float64    `json:"interval_seconds"`
	Enabled         bool       `json:"enabled"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	NextRun         *time.Time `json:"next_run,omitempty"`
	Runs            int64      `json:"runs"`
	Errors          int64      `json:"errors"`
}

// info snapshots the task state. Caller holds the daemon mutex.
func (t *Task) info() TaskInfo {
	return TaskInfo{
		Name:            t.name,
		IntervalSeconds: t.interval.Seconds(),
		Enabled:         t.enabled,
		LastRun:         t.lastRun,
		NextRun:         t.nextRun,
		Runs:            t.runs,
		Errors:          t.errors,
	}
}
