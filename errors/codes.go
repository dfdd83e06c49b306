package errors

// ErrorCode identifies a specific failure type in the agent runtime.
type ErrorCode string

const (
	// Dispatcher and handler failures.
	CodeHandlerFailed  ErrorCode = "handler_failed"
	CodeHandlerTimeout ErrorCode = "handler_timeout"
	CodeHandlerPanic   ErrorCode = "handler_panic"

	// Component supervision failures.
	CodeComponentStartFailed ErrorCode = "component_start_failed"
	CodeComponentStopFailed  ErrorCode = "component_stop_failed"
	CodeHealthCheckFailed    ErrorCode = "health_check_failed"
	CodeRestartsExhausted    ErrorCode = "restarts_exhausted"

	// Scheduling failures.
	CodeTaskFailed ErrorCode = "task_failed"

	// Ingress failures.
	CodeStreamDisconnected  ErrorCode = "stream_disconnected"
	CodeStreamRateLimited   ErrorCode = "stream_rate_limited"
	CodeWebhookUnauthorized ErrorCode = "webhook_unauthorized"
	CodeWebhookBadPayload   ErrorCode = "webhook_bad_payload"

	// Response generation failures.
	CodeProviderFailed ErrorCode = "provider_failed"
	CodeReplyThrottled ErrorCode = "reply_throttled"

	// Configuration failures.
	CodeInvalidConfig ErrorCode = "invalid_config"

	// CodeUnknown is used when no specific code applies.
	CodeUnknown ErrorCode = "unknown"
)

// ErrorCategory groups codes for retry decisions.
type ErrorCategory string

const (
	// CategoryTransient failures may succeed on retry (network blips,
	// timeouts, temporary provider errors).
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent failures will not succeed on retry (bad payloads,
	// exhausted restart budgets).
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource failures are capacity-related and succeed once
	// capacity frees up (rate limits).
	CategoryResource ErrorCategory = "resource"

	// CategoryValidation failures indicate caller mistakes.
	CategoryValidation ErrorCategory = "validation"
)

// IsRetryable returns the default retryability for a category.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// defaultCategories maps each code to its default category.
var defaultCategories = map[ErrorCode]ErrorCategory{
	CodeHandlerFailed:        CategoryPermanent,
	CodeHandlerTimeout:       CategoryTransient,
	CodeHandlerPanic:         CategoryPermanent,
	CodeComponentStartFailed: CategoryTransient,
	CodeComponentStopFailed:  CategoryPermanent,
	CodeHealthCheckFailed:    CategoryTransient,
	CodeRestartsExhausted:    CategoryPermanent,
	CodeTaskFailed:           CategoryTransient,
	CodeStreamDisconnected:   CategoryTransient,
	CodeStreamRateLimited:    CategoryResource,
	CodeWebhookUnauthorized:  CategoryValidation,
	CodeWebhookBadPayload:    CategoryValidation,
	CodeProviderFailed:       CategoryTransient,
	CodeReplyThrottled:       CategoryResource,
	CodeInvalidConfig:        CategoryValidation,
	CodeUnknown:              CategoryPermanent,
}

// DefaultCategory returns the default category for a code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	if cat, ok := defaultCategories[c]; ok {
		return cat
	}
	return CategoryPermanent
}
