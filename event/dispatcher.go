package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	perrors "github.com/vinayprograms/pulsekit/errors"
	"github.com/vinayprograms/pulsekit/logging"
)

// Common errors.
var (
	ErrAlreadyStarted   = errors.New("dispatcher already started")
	ErrNotStarted       = errors.New("dispatcher not started")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrNilEvent         = errors.New("nil event")
	ErrAlreadyProcessed = errors.New("event already processed")
	ErrUnknownType      = errors.New("unknown event type")
)

// NoHandlersResult is recorded on events dispatched with no registered
// handlers. The event still counts as processed and enters history.
const NoHandlersResult = "no_handlers"

// resultSeparator joins the non-empty outputs of multiple handlers.
const resultSeparator = " | "

// Config configures a Dispatcher.
type Config struct {
	// MaxHistory is the bounded in-memory history size; oldest processed
	// events are evicted first.
	// Default: 1000
	MaxHistory int

	// HandlerTimeout bounds each handler invocation. A handler exceeding
	// it is abandoned and its failure recorded on the event.
	// Default: 30 seconds
	HandlerTimeout time.Duration

	// PollInterval is how often the processing loop re-checks for stop
	// while the queue is idle.
	// Default: 1 second
	PollInterval time.Duration

	// Logger for dispatcher output. Defaults to a new root logger.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxHistory < 0 || c.HandlerTimeout < 0 || c.PollInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxHistory:     1000,
		HandlerTimeout: 30 * time.Second,
		PollInterval:   time.Second,
	}
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Running            bool  `json:"running"`
	QueueSize          int   `json:"queue_size"`
	EventsReceived     int64 `json:"events_received"`
	EventsProcessed    int64 `json:"events_processed"`
	EventsFailed       int64 `json:"events_failed"`
	HandlersRegistered int   `json:"handlers_registered"`
	HistorySize        int   `json:"history_size"`
}

// Dispatcher routes events to registered handlers. Events enter through
// Emit (queued, priority-ordered) or Dispatch (synchronous, bypassing the
// queue). A background loop drains the queue by priority; equal priorities
// are served FIFO by insertion order.
type Dispatcher struct {
	maxHistory     int
	handlerTimeout time.Duration
	pollInterval   time.Duration
	log            *logging.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
	history  []*Event

	queue *priorityQueue

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	received  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher from the given configuration.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = DefaultConfig().MaxHistory
	}
	if cfg.HandlerTimeout == 0 {
		cfg.HandlerTimeout = DefaultConfig().HandlerTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	return &Dispatcher{
		maxHistory:     cfg.MaxHistory,
		handlerTimeout: cfg.HandlerTimeout,
		pollInterval:   cfg.PollInterval,
		log:            log.WithComponent("dispatcher"),
		handlers:       make(map[Type][]Handler),
		queue:          newPriorityQueue(),
	}, nil
}

// RegisterHandler adds a handler for an event type. Handlers run in
// registration order for every matching event.
func (d *Dispatcher) RegisterHandler(t Type, h Handler) {
	d.mu.Lock()
	d.handlers[t] = append(d.handlers[t], h)
	d.mu.Unlock()

	d.log.Info("handler_registered", map[string]any{
		"type":    t.String(),
		"handler": h.Name(),
	})
}

// RegisterHandlerAll adds a handler for every known event type.
func (d *Dispatcher) RegisterHandlerAll(h Handler) {
	for _, t := range Types {
		d.RegisterHandler(t, h)
	}
}

// UnregisterHandler removes the handler with the given name from an event
// type. Returns false if no such handler is registered.
func (d *Dispatcher) UnregisterHandler(t Type, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[t]
	for i, h := range handlers {
		if h.Name() == name {
			d.handlers[t] = append(handlers[:i], handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Emit queues an event for asynchronous processing. It stamps ReceivedAt,
// never blocks on processing, and orders the event by priority. Processed
// events are permanent history and are rejected.
func (d *Dispatcher) Emit(e *Event) error {
	if e == nil {
		return ErrNilEvent
	}
	if e.Processed {
		return ErrAlreadyProcessed
	}

	e.ReceivedAt = time.Now().UTC()
	d.received.Add(1)
	d.queue.push(e)

	d.log.EventQueued(e.Type.String(), e.Priority.String(), e.ID)
	return nil
}

// Dispatch processes an event immediately in the caller's context,
// bypassing the queue, and returns the joined handler result. Handler
// failures are recorded on the event, not returned. Intended for events
// whose ordering relative to the caller matters (startup, shutdown);
// everything else should use Emit.
func (d *Dispatcher) Dispatch(ctx context.Context, e *Event) string {
	if e == nil {
		return ""
	}
	if e.Processed {
		return e.Result
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	d.received.Add(1)
	return d.process(ctx, e)
}

// Start spins up the background processing loop and emits a startup event.
func (d *Dispatcher) Start() error {
	if d.running.Swap(true) {
		return ErrAlreadyStarted
	}

	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run()

	d.log.Info("dispatcher_started")

	return d.Emit(New(TypeStartup,
		WithPriority(PriorityHigh),
		WithSource("dispatcher"),
		WithContent("event dispatcher started"),
	))
}

// Stop dispatches a shutdown event synchronously (so it completes before
// the loop is torn down), stops the processing loop and waits for it.
func (d *Dispatcher) Stop() error {
	if !d.running.Swap(false) {
		return ErrNotStarted
	}

	d.Dispatch(context.Background(), New(TypeShutdown,
		WithPriority(PriorityCritical),
		WithSource("dispatcher"),
		WithContent("event dispatcher shutting down"),
	))

	close(d.stopCh)
	<-d.doneCh

	d.log.Info("dispatcher_stopped")
	return nil
}

// Running reports whether the processing loop is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// run is the processing loop: drain by priority, stay responsive to stop.
func (d *Dispatcher) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.drain()

		select {
		case <-d.stopCh:
			return
		case <-d.queue.wake():
		case <-ticker.C:
		}
	}
}

// drain processes queued events until the queue is empty or stop is
// signaled. An unexpected per-event failure is logged and followed by a
// short sleep so a persistent fault cannot spin the loop.
func (d *Dispatcher) drain() {
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		e := d.queue.pop()
		if e == nil {
			return
		}

		if err := d.safeProcess(e); err != nil {
			d.log.Error("processing_loop_error", map[string]any{"error": err.Error()})
			select {
			case <-d.stopCh:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// safeProcess shields the loop from panics escaping process itself.
func (d *Dispatcher) safeProcess(e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing event %s: %v", e.ID, r)
		}
	}()
	d.process(context.Background(), e)
	return nil
}

// process runs every handler registered for the event's type, each under
// the handler timeout, and finalizes the event into history.
func (d *Dispatcher) process(ctx context.Context, e *Event) string {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers[e.Type]))
	copy(handlers, d.handlers[e.Type])
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.log.Warn("no_handlers", map[string]any{"type": e.Type.String()})
		e.Processed = true
		e.Result = NoHandlersResult
		d.processed.Add(1)
		d.addToHistory(e)
		return e.Result
	}

	started := time.Now().UTC()
	e.ProcessingStarted = &started

	var results []string
	hadFailure := false

	for _, h := range handlers {
		out, err := d.invoke(ctx, h, e)
		if err != nil {
			e.Error = fmt.Sprintf("handler %s: %v", h.Name(), err)
			hadFailure = true
			d.failed.Add(1)
			d.log.HandlerFailed(h.Name(), e.Type.String(), err)
			continue
		}
		if out != "" {
			results = append(results, out)
		}
	}

	completed := time.Now().UTC()
	e.ProcessingCompleted = &completed
	e.Processed = true
	e.Result = strings.Join(results, resultSeparator)

	d.processed.Add(1)
	d.addToHistory(e)
	d.log.EventProcessed(e.Type.String(), e.ID, completed.Sub(started), hadFailure)

	return e.Result
}

// invoke runs one handler under the configured timeout. A handler that
// overruns is abandoned: its goroutine keeps the (cancelled) context and
// a buffered result channel, so it can finish and be collected without
// blocking anyone.
func (d *Dispatcher) invoke(parent context.Context, h Handler, e *Event) (string, error) {
	ctx, cancel := context.WithTimeout(parent, d.handlerTimeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: perrors.Newf(perrors.CodeHandlerPanic, "handler panicked: %v", r)}
			}
		}()
		out, err := h.Handle(ctx, e)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return "", perrors.Newf(perrors.CodeHandlerTimeout,
			"timed out after %s", d.handlerTimeout)
	}
}

// addToHistory appends a processed event, evicting the oldest entries
// beyond the history cap.
func (d *Dispatcher) addToHistory(e *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, e)
	if len(d.history) > d.maxHistory {
		d.history = d.history[len(d.history)-d.maxHistory:]
	}
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	handlerCount := 0
	for _, hs := range d.handlers {
		handlerCount += len(hs)
	}
	historySize := len(d.history)
	d.mu.RUnlock()

	return Stats{
		Running:            d.running.Load(),
		QueueSize:          d.queue.len(),
		EventsReceived:     d.received.Load(),
		EventsProcessed:    d.processed.Load(),
		EventsFailed:       d.failed.Load(),
		HandlersRegistered: handlerCount,
		HistorySize:        historySize,
	}
}

// RecentEvents returns snapshots of the most recent processed events,
// newest last, optionally filtered by type.
func (d *Dispatcher) RecentEvents(limit int, types ...Type) []map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	events := d.history
	if len(types) > 0 {
		filtered := make([]*Event, 0, len(events))
		for _, e := range events {
			for _, t := range types {
				if e.Type == t {
					filtered = append(filtered, e)
					break
				}
			}
		}
		events = filtered
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, e.Snapshot())
	}
	return out
}
