// Package logging provides leveled key=value console output for the agent
// runtime. Dispatcher history is the record of what happened to each event;
// this package provides the real-time view for operators watching a running
// daemon.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a level name to a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    *io.Writer
	minLevel  *Level
	component string
}

// New creates a new Logger writing to stdout at INFO level.
func New() *Logger {
	var out io.Writer = os.Stdout
	level := LevelInfo
	return &Logger{
		mu:       &sync.Mutex{},
		output:   &out,
		minLevel: &level,
	}
}

// WithComponent returns a logger scoped to the given component name.
// The returned logger shares output and level with its parent.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level for this logger and all loggers
// derived from the same root.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	*l.minLevel = level
	l.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	*l.output = w
	l.mu.Unlock()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[*l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	(*l.output).Write([]byte(line))
}

// --- Domain helpers ---
// Shorthand for the hot paths; everything else uses the level methods
// directly with field maps.

// EventQueued logs an event entering the dispatch queue.
func (l *Logger) EventQueued(eventType string, priority, id string) {
	l.Debug("event_queued", map[string]any{
		"type":     eventType,
		"priority": priority,
		"id":       shortID(id),
	})
}

// EventProcessed logs a completed event.
func (l *Logger) EventProcessed(eventType, id string, duration time.Duration, failed bool) {
	fields := map[string]any{
		"type":     eventType,
		"id":       shortID(id),
		"duration": duration.String(),
	}
	if failed {
		l.Warn("event_processed_with_errors", fields)
	} else {
		l.Debug("event_processed", fields)
	}
}

// HandlerFailed logs a handler-local failure.
func (l *Logger) HandlerFailed(handler, eventType string, err error) {
	l.Error("handler_failed", map[string]any{
		"handler": handler,
		"type":    eventType,
		"error":   err.Error(),
	})
}

// ComponentStarted logs a supervised component start.
func (l *Logger) ComponentStarted(name string) {
	l.Info("component_started", map[string]any{"component": name})
}

// ComponentStopped logs a supervised component stop.
func (l *Logger) ComponentStopped(name string) {
	l.Info("component_stopped", map[string]any{"component": name})
}

// ComponentRestarting logs a restart attempt.
func (l *Logger) ComponentRestarting(name string, attempt int) {
	l.Warn("component_restarting", map[string]any{
		"component": name,
		"attempt":   attempt,
	})
}

// TaskRan logs a scheduled task execution.
func (l *Logger) TaskRan(name string, duration time.Duration) {
	l.Debug("task_ran", map[string]any{
		"task":     name,
		"duration": duration.String(),
	})
}

// TaskFailed logs a scheduled task failure.
func (l *Logger) TaskFailed(name string, err error) {
	l.Error("task_failed", map[string]any{
		"task":  name,
		"error": err.Error(),
	})
}

// HeartbeatSent logs a heartbeat emission.
func (l *Logger) HeartbeatSent(n int64, health string) {
	l.Debug("heartbeat_sent", map[string]any{
		"n":      n,
		"health": health,
	})
}

// shortID truncates an ID for log readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
