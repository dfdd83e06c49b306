// Package errors provides structured, coded errors for the agent runtime.
// Codes identify the failure type, categories drive retry decisions, and
// every error serializes to JSON for status surfaces.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RuntimeError is the interface for all structured errors in pulsekit.
// It extends the standard error interface with context for supervision
// and retry logic.
type RuntimeError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of RuntimeError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	retryable *bool // nil means use default based on category
	timestamp time.Time
	component string // source component, if applicable
	eventID   string // related event, if applicable
}

// Ensure Error implements RuntimeError and json.Marshaler.
var (
	_ RuntimeError   = (*Error)(nil)
	_ json.Marshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Component returns the source component name, if set.
func (e *Error) Component() string {
	return e.component
}

// EventID returns the related event ID, if set.
func (e *Error) EventID() string {
	return e.eventID
}

// errorJSON is the JSON representation of an Error.
type errorJSON struct {
	Code      ErrorCode     `json:"code"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Cause     string        `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Timestamp string        `json:"timestamp,omitempty"`
	Component string        `json:"component,omitempty"`
	EventID   string        `json:"event_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Retryable: e.Retryable(),
		Component: e.component,
		EventID:   e.eventID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithComponent sets the source component name.
func WithComponent(name string) Option {
	return func(e *Error) { e.component = name }
}

// WithEventID sets the related event ID.
func WithEventID(id string) Option {
	return func(e *Error) { e.eventID = id }
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message.
// Returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// Wrapf wraps an existing error with a code and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the code from an error chain.
// Returns CodeUnknown for plain errors and nil errors.
func CodeOf(err error) ErrorCode {
	var re RuntimeError
	if errors.As(err, &re) {
		return re.Code()
	}
	return CodeUnknown
}

// IsRetryable reports whether an error chain is retryable.
// Plain errors are not retryable.
func IsRetryable(err error) bool {
	var re RuntimeError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var re RuntimeError
	if errors.As(err, &re) {
		return re.Code() == code
	}
	return false
}
