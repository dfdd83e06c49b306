package event

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of occurrence an event describes.
type Type string

const (
	// Social interactions.
	TypeMention Type = "mention"
	TypeReply   Type = "reply"
	TypeQuote   Type = "quote"
	TypeLike    Type = "like"
	TypeFollow  Type = "follow"
	TypeDM      Type = "dm"

	// Content triggers.
	TypeTrending  Type = "trending"
	TypeViral     Type = "viral"
	TypeScheduled Type = "scheduled"

	// External triggers.
	TypeWebhook      Type = "webhook"
	TypeMusicRelease Type = "music_release"
	TypeCollab       Type = "collab"

	// System events.
	TypeHeartbeat Type = "heartbeat"
	TypeError     Type = "error"
	TypeStartup   Type = "startup"
	TypeShutdown  Type = "shutdown"
)

// Types lists every known event type.
var Types = []Type{
	TypeMention, TypeReply, TypeQuote, TypeLike, TypeFollow, TypeDM,
	TypeTrending, TypeViral, TypeScheduled,
	TypeWebhook, TypeMusicRelease, TypeCollab,
	TypeHeartbeat, TypeError, TypeStartup, TypeShutdown,
}

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// Valid returns true if t is a known event type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a string to a Type.
// Returns ErrUnknownType if the string is not a known type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", ErrUnknownType
	}
	return t, nil
}

// Priority orders events in the queue. Lower value is served first.
type Priority int

const (
	PriorityCritical Priority = 1 // process immediately (errors, viral)
	PriorityHigh     Priority = 2 // process ASAP (mentions, DMs)
	PriorityNormal   Priority = 3 // standard priority (trends, scheduled)
	PriorityLow      Priority = 4 // process when idle (heartbeats, cleanup)
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority, ignoring case.
// Unknown names map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Event is the universal record describing one occurrence flowing through
// the dispatcher. Producers fill in the descriptive fields; the processing
// fields (Processed, ProcessingStarted, ProcessingCompleted, Result, Error)
// are written only by the dispatcher. Once Processed is true the event is a
// permanent history entry and is never re-enqueued.
type Event struct {
	ID       string   `json:"id"`
	Type     Type     `json:"type"`
	Priority Priority `json:"priority"`

	// Event data.
	Source   string         `json:"source"`              // where the event came from
	SourceID string         `json:"source_id,omitempty"` // ID from source (tweet ID, etc.)
	UserID   string         `json:"user_id,omitempty"`   // user who triggered, if any
	UserName string         `json:"user_name,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamps.
	CreatedAt  time.Time `json:"created_at"`
	ReceivedAt time.Time `json:"received_at"`

	// Processing state, owned by the dispatcher.
	Processed           bool       `json:"processed"`
	ProcessingStarted   *time.Time `json:"processing_started,omitempty"`
	ProcessingCompleted *time.Time `json:"processing_completed,omitempty"`
	Result              string     `json:"result,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// Option configures a new Event.
type Option func(*Event)

// WithPriority sets the event priority.
func WithPriority(p Priority) Option {
	return func(e *Event) { e.Priority = p }
}

// WithSource sets the source identifier.
func WithSource(source string) Option {
	return func(e *Event) { e.Source = source }
}

// WithSourceID sets the source-system ID.
func WithSourceID(id string) Option {
	return func(e *Event) { e.SourceID = id }
}

// WithUser sets the triggering user.
func WithUser(userID, userName string) Option {
	return func(e *Event) {
		e.UserID = userID
		e.UserName = userName
	}
}

// WithContent sets the event content.
func WithContent(content string) Option {
	return func(e *Event) { e.Content = content }
}

// WithMetadata attaches a metadata key-value pair.
func WithMetadata(key string, value any) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// New creates an Event with a generated ID, normal priority and the
// creation time stamped.
func New(t Type, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Priority:  PriorityNormal,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// snapshotContentLimit caps Content in snapshots to keep logs readable.
const snapshotContentLimit = 200

// Snapshot returns a map suitable for logging or JSON status responses.
// Content is truncated at 200 runes.
func (e *Event) Snapshot() map[string]any {
	content := e.Content
	if runes := []rune(content); len(runes) > snapshotContentLimit {
		content = string(runes[:snapshotContentLimit]) + "..."
	}
	return map[string]any{
		"id":          e.ID,
		"type":        e.Type.String(),
		"priority":    int(e.Priority),
		"source":      e.Source,
		"source_id":   e.SourceID,
		"user_id":     e.UserID,
		"user_name":   e.UserName,
		"content":     content,
		"created_at":  e.CreatedAt.Format(time.RFC3339Nano),
		"received_at": e.ReceivedAt.Format(time.RFC3339Nano),
		"processed":   e.Processed,
		"result":      e.Result,
		"error":       e.Error,
	}
}

// Handler processes a single event and returns a short free-text summary of
// the action taken. Returning an error (or exceeding the dispatcher's
// handler timeout) is a handler-local failure: it is recorded on the event
// and never affects sibling handlers or the processing loop.
type Handler interface {
	// Name identifies the handler for registration and logs.
	Name() string

	// Handle processes the event. The context carries the per-handler
	// deadline; long-running handlers should honor it.
	Handle(ctx context.Context, e *Event) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, e *Event) (string, error)
}

// NewHandler wraps fn as a named Handler.
func NewHandler(name string, fn func(ctx context.Context, e *Event) (string, error)) Handler {
	return HandlerFunc{name: name, fn: fn}
}

// Name implements Handler.
func (h HandlerFunc) Name() string { return h.name }

// Handle implements Handler.
func (h HandlerFunc) Handle(ctx context.Context, e *Event) (string, error) {
	return h.fn(ctx, e)
}
